// Package mock provides an in-memory mock implementation of [agent.Stage] for
// use in orchestrator and service tests.
//
// The mock is safe for concurrent use, records every call and exposes exported
// fields for configuring return values.
//
// Example:
//
//	classifier := &mock.Stage{
//	    Result: turn.Update{Selected: []turn.SelectedEntity{{EntityID: "torch"}}},
//	}
//	upd, err := classifier.Run(ctx, snap)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ana/internal/agent"
	"github.com/MrWong99/ana/internal/turn"
)

// Compile-time interface assertion.
var _ agent.Stage = (*Stage)(nil)

// Stage is a mock implementation of [agent.Stage].
type Stage struct {
	mu sync.Mutex

	// RunFunc, if set, takes precedence over Result/Err. It is called without
	// holding the mock's lock and may block.
	RunFunc func(ctx context.Context, snap turn.Snapshot) (turn.Update, error)

	// Result is returned by Run.
	Result turn.Update

	// Err, if non-nil, is returned as the error from Run.
	Err error

	calls []turn.Snapshot
}

// Run records the snapshot and returns RunFunc's result, or Result, Err.
func (s *Stage) Run(ctx context.Context, snap turn.Snapshot) (turn.Update, error) {
	s.mu.Lock()
	s.calls = append(s.calls, snap)
	fn, res, err := s.RunFunc, s.Result, s.Err
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, snap)
	}
	return res, err
}

// Calls returns a copy of the snapshots Run was called with.
func (s *Stage) Calls() []turn.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]turn.Snapshot, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of Run calls.
func (s *Stage) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Reset clears all recorded calls.
func (s *Stage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
