package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the value of the int64 sum data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"ana.turn.duration", m.TurnDuration},
		{"ana.stage.duration", m.StageDuration},
		{"ana.llm.duration", m.LLMDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 1.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, "classifier", 300*time.Millisecond, nil)
	m.RecordStage(ctx, "arbiter", time.Second, errors.New("boom"))
	m.RecordStage(ctx, "arbiter", time.Second, errors.New("boom"))

	rm := collect(t, reader)
	if got := sumFor(t, rm, "ana.turn.errors", "stage", "arbiter"); got != 2 {
		t.Errorf("arbiter errors = %d, want 2", got)
	}
	met := findMetric(rm, "ana.stage.duration")
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 2 {
		t.Errorf("expected one data point per stage, got %d", len(hist.DataPoints))
	}
}

func TestRecordLLM_Tokens(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLLM(ctx, "narrator", 2*time.Second, 120, 40)
	m.RecordLLM(ctx, "narrator", time.Second, 80, 0)

	rm := collect(t, reader)
	met := findMetric(rm, "ana.llm.tokens")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	var prompt, completion int64
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("type")
		switch v.AsString() {
		case "prompt":
			prompt = dp.Value
		case "completion":
			completion = dp.Value
		}
	}
	if prompt != 200 || completion != 40 {
		t.Errorf("tokens prompt=%d completion=%d, want 200/40", prompt, completion)
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "ok")
	m.RecordProviderRequest(ctx, "openai", "ok")
	m.RecordProviderError(ctx, "anthropic")
	m.RecordCommitSkipped(ctx, "unknown_entity")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "ana.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("provider requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "ana.provider.errors", "provider", "anthropic"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
	if got := sumFor(t, rm, "ana.commit.skipped", "reason", "unknown_entity"); got != 1 {
		t.Errorf("commit skipped = %d, want 1", got)
	}
}

func TestGaugesAndFanOut(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveTurns.Add(ctx, 1)
	m.ActiveTurns.Add(ctx, 1)
	m.ActiveTurns.Add(ctx, -1)
	m.AgentFanOut.Record(ctx, 3)

	rm := collect(t, reader)

	met := findMetric(rm, "ana.active_turns")
	if met == nil {
		t.Fatal("ana.active_turns not found")
	}
	if got := met.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("active turns = %d, want 1", got)
	}
	fan := findMetric(rm, "ana.agents.fanout")
	if fan == nil {
		t.Fatal("ana.agents.fanout not found")
	}
	if got := fan.Data.(metricdata.Histogram[int64]).DataPoints[0].Sum; got != 3 {
		t.Errorf("fanout sum = %d, want 3", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "ana.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
