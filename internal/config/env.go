package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides are the settings that may come from the environment. Secrets
// and deployment-specific addresses belong here rather than in the file.
type envOverrides struct {
	LLMAPIKey     string   `env:"ANA_LLM_API_KEY"`
	StoreDSN      string   `env:"ANA_STORE_DSN"`
	MemoryBaseURL string   `env:"ANA_MEMORY_BASE_URL"`
	ListenAddr    string   `env:"ANA_LISTEN_ADDR"`
	LogLevel      LogLevel `env:"ANA_LOG_LEVEL"`
}

// ApplyEnv overwrites fields of cfg with the ANA_* environment variables that
// are set.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, env.Options{})
}

func applyEnv(cfg *Config, opts env.Options) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	if o.LLMAPIKey != "" {
		cfg.LLM.APIKey = o.LLMAPIKey
	}
	if o.StoreDSN != "" {
		cfg.Store.DSN = o.StoreDSN
	}
	if o.MemoryBaseURL != "" {
		cfg.Memory.BaseURL = o.MemoryBaseURL
	}
	if o.ListenAddr != "" {
		cfg.Server.ListenAddr = o.ListenAddr
	}
	if o.LogLevel != "" {
		cfg.Server.LogLevel = o.LogLevel
	}
	return nil
}
