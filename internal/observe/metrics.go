// Package observe provides application-wide observability primitives for the
// turn engine: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/ana"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks the latency of a whole turn, from state load to reply.
	TurnDuration metric.Float64Histogram

	// StageDuration tracks one pipeline node. Use with attribute:
	//   attribute.String("stage", ...)  classifier, entity_agent, arbiter, committer, narrator
	StageDuration metric.Float64Histogram

	// LLMDuration tracks structured completion latency per stage.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// LLMTokens counts tokens. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("type", "prompt"|"completion")
	LLMTokens metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// CommitSkipped counts approved changes the committer could not apply.
	// Use with attribute: attribute.String("reason", ...)
	CommitSkipped metric.Int64Counter

	// --- Error counters ---

	// TurnErrors counts failed turns. Use with attribute:
	//   attribute.String("stage", ...)
	TurnErrors metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// --- Distribution and gauges ---

	// AgentFanOut records how many entity agents a turn dispatched.
	AgentFanOut metric.Int64Histogram

	// ActiveTurns tracks turns currently in flight.
	ActiveTurns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM-bound stages, which take from a few hundred milliseconds to tens of
// seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80,
}

var fanOutBuckets = []float64{0, 1, 2, 3, 4, 6, 8, 12, 16}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("ana.turn.duration",
		metric.WithDescription("Latency of a complete turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("ana.stage.duration",
		metric.WithDescription("Latency of a single pipeline node."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("ana.llm.duration",
		metric.WithDescription("Latency of structured LLM completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentFanOut, err = m.Int64Histogram("ana.agents.fanout",
		metric.WithDescription("Number of entity agents dispatched per turn."),
		metric.WithExplicitBucketBoundaries(fanOutBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.LLMTokens, err = m.Int64Counter("ana.llm.tokens",
		metric.WithDescription("Tokens consumed by stage and type."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("ana.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.CommitSkipped, err = m.Int64Counter("ana.commit.skipped",
		metric.WithDescription("Approved changes skipped by the committer, by reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TurnErrors, err = m.Int64Counter("ana.turn.errors",
		metric.WithDescription("Failed turns by the stage that failed."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("ana.provider.errors",
		metric.WithDescription("Total provider errors by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTurns, err = m.Int64UpDownCounter("ana.active_turns",
		metric.WithDescription("Number of turns currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ana.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the duration of one pipeline node and, when err is
// non-nil, a turn error attributed to that stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.StageDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.TurnErrors.Add(ctx, 1, attrs)
	}
}

// RecordLLM records the latency and token usage of one structured completion.
func (m *Metrics) RecordLLM(ctx context.Context, stage string, d time.Duration, promptTokens, completionTokens int) {
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
	if promptTokens > 0 {
		m.LLMTokens.Add(ctx, int64(promptTokens), metric.WithAttributes(
			attribute.String("stage", stage), attribute.String("type", "prompt")))
	}
	if completionTokens > 0 {
		m.LLMTokens.Add(ctx, int64(completionTokens), metric.WithAttributes(
			attribute.String("stage", stage), attribute.String("type", "completion")))
	}
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordCommitSkipped records one change the committer dropped.
func (m *Metrics) RecordCommitSkipped(ctx context.Context, reason string) {
	m.CommitSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
