package entity

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when neither a per-game record nor a
// template exists for the requested id.
var ErrNotFound = errors.New("entity not found")

// Store persists entity snapshots per game.
//
// Reads fall back to templates: a game that never saved entity "torch" sees
// the template "torch" until its first Save. All implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the game's copy of the entity, or the template with that id
	// when the game has none. Returns [ErrNotFound] when neither exists.
	Get(ctx context.Context, gameID, id string) (*Entity, error)

	// Save writes the game's copy of e, replacing any previous one.
	Save(ctx context.Context, gameID string, e *Entity) error

	// GetTemplate returns the shared template with that id.
	// Returns [ErrNotFound] when it does not exist.
	GetTemplate(ctx context.Context, id string) (*Entity, error)

	// SaveTemplate creates or replaces a shared template.
	SaveTemplate(ctx context.Context, e *Entity) error

	// DeleteGame removes every per-game copy saved for gameID. Templates are
	// untouched, so the game reverts to its initial world.
	DeleteGame(ctx context.Context, gameID string) error
}
