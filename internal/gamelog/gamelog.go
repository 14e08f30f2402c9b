// Package gamelog keeps the per-game history that outlives a single turn: the
// turn log (command and reply of every processed turn) and the audit event log
// written by the turn pipeline.
//
// Both logs are append-only. [Store] implementations must be safe for
// concurrent use.
package gamelog

import (
	"context"
	"fmt"
	"time"
)

// Event count bounds for [Store.Events].
const (
	DefaultEventCount = 50
	MaxEventCount     = 1000
)

// Kind classifies the content of an [Event].
type Kind string

const (
	// KindText is free text.
	KindText Kind = "text"
	// KindStructured is a JSON document.
	KindStructured Kind = "structured"
	// KindDiagram is a mermaid flowchart.
	KindDiagram Kind = "diagram"
)

// Turn is one processed player command and the narrator's reply.
type Turn struct {
	ID      string    `json:"turnId"`
	GameID  string    `json:"gameId"`
	Command string    `json:"command"`
	Reply   string    `json:"reply"`
	At      time.Time `json:"at"`
}

// Event is one audit record emitted while a turn runs.
type Event struct {
	ID     string    `json:"id"`
	GameID string    `json:"gameId"`
	Label  string    `json:"label"`
	Kind   Kind      `json:"kind"`
	Body   string    `json:"content"`
	At     time.Time `json:"at"`
}

// Store persists turn and event logs.
type Store interface {
	// AppendTurn adds t to the end of its game's turn log.
	AppendTurn(ctx context.Context, t Turn) error

	// Turns returns every turn of gameID, oldest first. A game without turns
	// yields an empty slice.
	Turns(ctx context.Context, gameID string) ([]Turn, error)

	// AppendEvent adds e to the end of its game's event log.
	AppendEvent(ctx context.Context, e Event) error

	// Events returns the newest limit events of gameID, oldest first.
	Events(ctx context.Context, gameID string, limit int) ([]Event, error)

	// DeleteGame removes both logs of gameID.
	DeleteGame(ctx context.Context, gameID string) error
}

// ValidateCount checks an event count requested by a client. Zero selects
// [DefaultEventCount].
func ValidateCount(n int) (int, error) {
	if n == 0 {
		return DefaultEventCount, nil
	}
	if n < 1 || n > MaxEventCount {
		return 0, fmt.Errorf("gamelog: count must be between 1 and %d, got %d", MaxEventCount, n)
	}
	return n, nil
}
