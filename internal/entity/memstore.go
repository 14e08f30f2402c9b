package entity

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process use and testing.
// The zero value is ready to use.
type MemStore struct {
	mu        sync.RWMutex
	templates map[string]*Entity
	games     map[string]map[string]*Entity
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		templates: make(map[string]*Entity),
		games:     make(map[string]map[string]*Entity),
	}
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, gameID, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.games[gameID][id]; ok {
		return e.Clone(), nil
	}
	if e, ok := s.templates[id]; ok {
		return e.Clone(), nil
	}
	return nil, fmt.Errorf("entity: get %q in game %q: %w", id, gameID, ErrNotFound)
}

// Save implements [Store.Save].
func (s *MemStore) Save(_ context.Context, gameID string, e *Entity) error {
	if gameID == "" {
		return fmt.Errorf("entity: save: game id must not be empty")
	}
	if e == nil || e.ID == "" {
		return fmt.Errorf("entity: save: entity id must not be empty")
	}
	c := e.Clone()
	c.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.games == nil {
		s.games = make(map[string]map[string]*Entity)
	}
	g, ok := s.games[gameID]
	if !ok {
		g = make(map[string]*Entity)
		s.games[gameID] = g
	}
	g[c.ID] = c
	return nil
}

// GetTemplate implements [Store.GetTemplate].
func (s *MemStore) GetTemplate(_ context.Context, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("entity: template %q: %w", id, ErrNotFound)
	}
	return e.Clone(), nil
}

// SaveTemplate implements [Store.SaveTemplate].
func (s *MemStore) SaveTemplate(_ context.Context, e *Entity) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("entity: save template: entity id must not be empty")
	}
	c := e.Clone()
	c.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.templates == nil {
		s.templates = make(map[string]*Entity)
	}
	s.templates[c.ID] = c
	return nil
}

// DeleteGame implements [Store.DeleteGame].
func (s *MemStore) DeleteGame(_ context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, gameID)
	return nil
}
