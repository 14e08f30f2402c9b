package resilience

import (
	"context"

	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallbackOption configures an [LLMFallback].
type LLMFallbackOption func(*LLMFallback)

// WithProviderMetrics records one provider request per attempt, labelled with
// the backend name, and a provider error for every failed attempt.
func WithProviderMetrics(m *observe.Metrics) LLMFallbackOption {
	return func(f *LLMFallback) { f.metrics = m }
}

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, opts ...LLMFallbackOption) *LLMFallback {
	f := &LLMFallback{}
	for _, o := range opts {
		o(f)
	}
	f.group = NewFallbackGroup(f.meter(primaryName, primary), primaryName, cfg)
	return f
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, f.meter(name, provider))
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens delegates to the first healthy provider's token counter.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(context.Background(), f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Healthy reports whether any backend would currently accept a request.
func (f *LLMFallback) Healthy() bool {
	return f.group.Healthy()
}

// Capabilities returns the capabilities of the first entry (the primary).
// This does not participate in failover because capabilities are static metadata.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return llm.ModelCapabilities{}
}

func (f *LLMFallback) meter(name string, p llm.Provider) llm.Provider {
	if f.metrics == nil {
		return p
	}
	return &meteredProvider{Provider: p, name: name, metrics: f.metrics}
}

// meteredProvider counts the Complete calls of one backend.
type meteredProvider struct {
	llm.Provider
	name    string
	metrics *observe.Metrics
}

func (m *meteredProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := m.Provider.Complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
		m.metrics.RecordProviderError(ctx, m.name)
	}
	m.metrics.RecordProviderRequest(ctx, m.name, status)
	return resp, err
}
