package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLLMNames lists the LLM provider names registered by the ana binary.
// Used by [Validate] to warn about unrecognised provider names.
var ValidLLMNames = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Load reads the YAML configuration file at path, applies environment
// overrides (see [ApplyEnv]) and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, true)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Environment overrides are not applied.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, false)
}

// parse decodes, optionally applies environment overrides, fills defaults
// and validates.
func parse(r io.Reader, withEnv bool) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if withEnv {
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TurnTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.turn_timeout must not be negative, got %s", cfg.Server.TurnTimeout))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must not be negative, got %s", cfg.Server.ReadTimeout))
	}

	// LLM
	if cfg.LLM.Name == "" {
		errs = append(errs, errors.New("llm.name is required"))
	}
	validateLLMName("llm", cfg.LLM.Name)
	for i, fb := range cfg.LLM.Fallbacks {
		prefix := fmt.Sprintf("llm.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateLLMName(prefix, fb.Name)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must not be negative, got %d", cfg.LLM.MaxTokens))
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Backend))
	}
	if (cfg.Store.Backend == StorePostgres || cfg.Store.Backend == StoreSQLite) && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for backend %q", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StoreMemory && cfg.Store.WorldFile == "" {
		slog.Warn("store.backend is memory but store.world_file is empty; games will have no entities")
	}

	// Memory
	if cfg.Memory.Backend != "" && !cfg.Memory.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: none, local, ams", cfg.Memory.Backend))
	}
	if cfg.Memory.Backend == MemoryAMS && cfg.Memory.BaseURL == "" {
		errs = append(errs, errors.New("memory.base_url is required for backend \"ams\""))
	}
	if cfg.Memory.ContextWindowMax < 0 {
		errs = append(errs, fmt.Errorf("memory.context_window_max must not be negative, got %d", cfg.Memory.ContextWindowMax))
	}

	return errors.Join(errs...)
}

// validateLLMName logs a warning if name is non-empty and not one of
// [ValidLLMNames].
func validateLLMName(field, name string) {
	if name == "" || slices.Contains(ValidLLMNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidLLMNames,
	)
}
