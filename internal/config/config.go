// Package config provides the configuration schema, loader and LLM provider
// registry for the ana turn engine.
package config

import "time"

// LogLevel controls log verbosity for the ana server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreBackend selects where entities and game logs are persisted.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreSQLite   StoreBackend = "sqlite"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// MemoryBackend selects the narrator's working memory.
type MemoryBackend string

const (
	// MemoryNone disables working memory.
	MemoryNone MemoryBackend = "none"

	// MemoryLocal keeps memory in process and summarises old messages with
	// the configured LLM.
	MemoryLocal MemoryBackend = "local"

	// MemoryAMS uses an external agent memory server over HTTP.
	MemoryAMS MemoryBackend = "ams"
)

// IsValid reports whether b is a recognised memory backend.
func (b MemoryBackend) IsValid() bool {
	switch b {
	case MemoryNone, MemoryLocal, MemoryAMS:
		return true
	}
	return false
}

// Defaults applied by [Load] and [LoadFromReader] to fields left empty.
const (
	DefaultListenAddr       = ":8080"
	DefaultTurnTimeout      = 2 * time.Minute
	DefaultReadTimeout      = 15 * time.Second
	DefaultContextWindowMax = 4000
)

// Config is the root configuration structure for ana.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Store     StoreConfig     `yaml:"store"`
	Memory    MemoryConfig    `yaml:"memory"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TurnTimeout bounds a single POST of a player command, LLM calls
	// included.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// ReadTimeout bounds reading a request, body included.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ProviderEntry is the configuration block of one LLM provider. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// LLMConfig configures the model every pipeline stage talks to.
type LLMConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks are tried in order when the primary provider fails or its
	// circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Temperature is the default sampling temperature. Stages may override it.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the reply length. Zero leaves it to the provider.
	MaxTokens int `yaml:"max_tokens"`
}

// StoreConfig selects and configures persistence.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`

	// DSN is the connection string for postgres or the database file path
	// for sqlite.
	DSN string `yaml:"dsn"`

	// WorldFile is a YAML world whose entities are saved as templates at
	// startup. Optional when the store already holds templates.
	WorldFile string `yaml:"world_file"`
}

// MemoryConfig configures the narrator's working memory.
type MemoryConfig struct {
	Backend MemoryBackend `yaml:"backend"`

	// BaseURL is the agent memory server address. Required for ams.
	BaseURL string `yaml:"base_url"`

	// ContextWindowMax is the token budget the memory is kept under.
	ContextWindowMax int `yaml:"context_window_max"`

	// Namespace overrides the memory namespace of the narrator.
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig toggles observability exports.
type TelemetryConfig struct {
	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool `yaml:"metrics"`
}

// ApplyDefaults fills every empty field that has a default.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.TurnTimeout == 0 {
		c.Server.TurnTimeout = DefaultTurnTimeout
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = MemoryNone
	}
	if c.Memory.ContextWindowMax == 0 {
		c.Memory.ContextWindowMax = DefaultContextWindowMax
	}
}
