package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/ana/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "minimal",
			yaml: "llm:\n  name: openai\n",
		},
		{
			name:    "llm name required",
			yaml:    "llm:\n  model: gpt-4o\n",
			wantErr: []string{"llm.name is required"},
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\nllm:\n  name: openai\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "fallback without name",
			yaml:    "llm:\n  name: openai\n  fallbacks:\n    - model: llama3\n",
			wantErr: []string{"llm.fallbacks[0].name is required"},
		},
		{
			name:    "temperature out of range",
			yaml:    "llm:\n  name: openai\n  temperature: 3\n",
			wantErr: []string{"llm.temperature"},
		},
		{
			name:    "postgres without dsn",
			yaml:    "llm:\n  name: openai\nstore:\n  backend: postgres\n",
			wantErr: []string{"store.dsn is required"},
		},
		{
			name:    "unknown store backend",
			yaml:    "llm:\n  name: openai\nstore:\n  backend: redis\n",
			wantErr: []string{"store.backend"},
		},
		{
			name:    "ams without base url",
			yaml:    "llm:\n  name: openai\nmemory:\n  backend: ams\n",
			wantErr: []string{"memory.base_url is required"},
		},
		{
			name:    "errors are joined",
			yaml:    "server:\n  turn_timeout: -1s\nmemory:\n  backend: cloud\n",
			wantErr: []string{"llm.name is required", "server.turn_timeout", "memory.backend"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q lacks %q", err, want)
				}
			}
		})
	}
}
