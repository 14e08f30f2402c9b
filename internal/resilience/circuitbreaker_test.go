package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreaker(clock *fakeClock) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Second,
		HalfOpenMax:  2,
		Now:          clock.Now,
	})
}

func fail() error { return errTest }
func ok() error   { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name string
		run  func(cb *CircuitBreaker, clock *fakeClock) error
		want State
		err  error
	}{
		{
			name: "closed allows calls",
			run:  func(cb *CircuitBreaker, _ *fakeClock) error { return cb.Execute(ctx, ok) },
			want: StateClosed,
		},
		{
			name: "consecutive failures open",
			run: func(cb *CircuitBreaker, _ *fakeClock) error {
				_ = cb.Execute(ctx, fail)
				_ = cb.Execute(ctx, fail)
				return cb.Execute(ctx, ok)
			},
			want: StateOpen,
			err:  ErrCircuitOpen,
		},
		{
			name: "success resets the failure count",
			run: func(cb *CircuitBreaker, _ *fakeClock) error {
				_ = cb.Execute(ctx, fail)
				_ = cb.Execute(ctx, ok)
				return cb.Execute(ctx, fail)
			},
			want: StateClosed,
			err:  errTest,
		},
		{
			name: "reset timeout reports half-open",
			run: func(cb *CircuitBreaker, clock *fakeClock) error {
				_ = cb.Execute(ctx, fail)
				_ = cb.Execute(ctx, fail)
				clock.Advance(10 * time.Second)
				return nil
			},
			want: StateHalfOpen,
		},
		{
			name: "successful trials close",
			run: func(cb *CircuitBreaker, clock *fakeClock) error {
				_ = cb.Execute(ctx, fail)
				_ = cb.Execute(ctx, fail)
				clock.Advance(11 * time.Second)
				if err := cb.Execute(ctx, ok); err != nil {
					return err
				}
				return cb.Execute(ctx, ok)
			},
			want: StateClosed,
		},
		{
			name: "failed trial re-opens",
			run: func(cb *CircuitBreaker, clock *fakeClock) error {
				_ = cb.Execute(ctx, fail)
				_ = cb.Execute(ctx, fail)
				clock.Advance(11 * time.Second)
				_ = cb.Execute(ctx, fail)
				return cb.Execute(ctx, ok)
			},
			want: StateOpen,
			err:  ErrCircuitOpen,
		},
		{
			name: "manual reset closes",
			run: func(cb *CircuitBreaker, _ *fakeClock) error {
				_ = cb.Execute(ctx, fail)
				_ = cb.Execute(ctx, fail)
				cb.Reset()
				return cb.Execute(ctx, ok)
			},
			want: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clock := newFakeClock()
			cb := newBreaker(clock)
			err := tt.run(cb, clock)
			if !errors.Is(err, tt.err) || (tt.err == nil && err != nil) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
			if got := cb.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_CancelledCallsAreNotFailures(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newBreaker(clock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for range 5 {
		_ = cb.Execute(ctx, func() error { return ctx.Err() })
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}

	// A cancelled trial gives its slot back.
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(11 * time.Second)
	for range 3 {
		_ = cb.Execute(ctx, func() error { return ctx.Err() })
	}
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("trial after cancellations: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
