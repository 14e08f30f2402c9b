package gamelog

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. The zero value is ready to use.
type MemStore struct {
	mu     sync.RWMutex
	turns  map[string][]Turn
	events map[string][]Event
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		turns:  make(map[string][]Turn),
		events: make(map[string][]Event),
	}
}

// AppendTurn implements [Store.AppendTurn].
func (s *MemStore) AppendTurn(_ context.Context, t Turn) error {
	if t.GameID == "" {
		return fmt.Errorf("gamelog: append turn: game id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turns == nil {
		s.turns = make(map[string][]Turn)
	}
	s.turns[t.GameID] = append(s.turns[t.GameID], t)
	return nil
}

// Turns implements [Store.Turns].
func (s *MemStore) Turns(_ context.Context, gameID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.turns[gameID])
	if out == nil {
		out = []Turn{}
	}
	return out, nil
}

// AppendEvent implements [Store.AppendEvent].
func (s *MemStore) AppendEvent(_ context.Context, e Event) error {
	if e.GameID == "" {
		return fmt.Errorf("gamelog: append event: game id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(map[string][]Event)
	}
	s.events[e.GameID] = append(s.events[e.GameID], e)
	return nil
}

// Events implements [Store.Events].
func (s *MemStore) Events(_ context.Context, gameID string, limit int) ([]Event, error) {
	limit, err := ValidateCount(limit)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[gameID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := slices.Clone(all)
	if out == nil {
		out = []Event{}
	}
	return out, nil
}

// DeleteGame implements [Store.DeleteGame].
func (s *MemStore) DeleteGame(_ context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, gameID)
	delete(s.events, gameID)
	return nil
}
