package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newGroup(clock *fakeClock) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, Now: clock.Now},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failing   []string
		wantCalls []string
		wantErr   error
	}{
		{name: "primary succeeds", wantCalls: []string{"primary"}},
		{name: "fallback after primary failure", failing: []string{"primary"}, wantCalls: []string{"primary", "secondary"}},
		{name: "all fail", failing: []string{"primary", "secondary"}, wantCalls: []string{"primary", "secondary"}, wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup(newFakeClock())
			var calls []string
			err := fg.Execute(context.Background(), func(v string) error {
				calls = append(calls, v)
				if slices.Contains(tt.failing, v) {
					return errTest
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, errTest) {
				t.Errorf("err = %v should wrap the last provider error", err)
			}
			if !slices.Equal(calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenCircuitAndReportsHealth(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	fg := newGroup(clock)
	ctx := context.Background()

	for range 2 {
		_ = fg.Execute(ctx, func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var calls []string
	err := fg.Execute(ctx, func(v string) error {
		calls = append(calls, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !slices.Equal(calls, []string{"secondary"}) {
		t.Errorf("calls = %v, want only secondary", calls)
	}
	if !fg.Healthy() {
		t.Error("group with a closed secondary should be healthy")
	}

	for range 2 {
		_ = fg.Execute(ctx, func(string) error { return errTest })
	}
	if fg.Healthy() {
		t.Error("group with every circuit open should be unhealthy")
	}
	clock.Advance(time.Minute)
	if !fg.Healthy() {
		t.Error("half-open entries should count as healthy")
	}
}

func TestFallbackGroup_StopsWhenCallerIsDone(t *testing.T) {
	t.Parallel()

	fg := newGroup(newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())

	var calls []string
	err := fg.Execute(ctx, func(v string) error {
		calls = append(calls, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want context.Canceled only", err)
	}
	if !slices.Equal(calls, []string{"primary"}) {
		t.Errorf("calls = %v, fallbacks must not run after cancellation", calls)
	}

	_, err = ExecuteWithResult(ctx, fg, func(string) (int, error) {
		t.Error("fn must not run with a done context")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	got, err := ExecuteWithResult(context.Background(), fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "got-20", nil
	})
	if err != nil || got != "got-20" {
		t.Fatalf("ExecuteWithResult = %q, %v", got, err)
	}
	if names := fg.Names(); !slices.Equal(names, []string{"ten", "twenty"}) {
		t.Errorf("Names = %v", names)
	}
}
