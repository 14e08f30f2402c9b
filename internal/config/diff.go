package config

// ConfigDiff describes what changed between two configs. Only the log level
// is applied while running; the other flags tell the operator that a restart
// is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LLMChanged       bool
	StoreChanged     bool
	MemoryChanged    bool
	ServerChanged    bool
	TelemetryChanged bool
}

// NeedsRestart reports whether d contains changes that only take effect
// after a restart.
func (d ConfigDiff) NeedsRestart() bool {
	return d.LLMChanged || d.StoreChanged || d.MemoryChanged || d.ServerChanged || d.TelemetryChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Server, new.Server
	o.LogLevel, n.LogLevel = "", ""
	d.ServerChanged = o != n

	d.LLMChanged = !sameLLM(old.LLM, new.LLM)
	d.StoreChanged = old.Store != new.Store
	d.MemoryChanged = old.Memory != new.Memory
	d.TelemetryChanged = old.Telemetry != new.Telemetry
	return d
}

func sameLLM(a, b LLMConfig) bool {
	if a.Temperature != b.Temperature || a.MaxTokens != b.MaxTokens || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	if !sameEntry(a.ProviderEntry, b.ProviderEntry) {
		return false
	}
	for i := range a.Fallbacks {
		if !sameEntry(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

// sameEntry compares provider entries. Options are compared by key set and
// scalar value only.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || !comparableEqual(av, bv) {
			return false
		}
	}
	return true
}

func comparableEqual(a, b any) bool {
	switch a.(type) {
	case map[string]any, []any:
		// Nested values are treated as changed.
		return false
	}
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	return a == b
}
