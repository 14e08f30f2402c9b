package turn

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/observe"
)

// GameState is the immutable snapshot a turn runs against: the player, the
// player's location and everything near the player. It is never mutated;
// committed changes go to the store and show up in the next turn's snapshot.
type GameState struct {
	GameID   string
	Player   *entity.Entity
	Location *entity.Entity

	// Nearby is ordered player, location, fixtures, exits, occupants, carried
	// items and holds each entity once.
	Nearby []*entity.Entity
}

// Find returns the nearby entity with the given id.
func (gs *GameState) Find(id string) (*entity.Entity, bool) {
	if gs == nil {
		return nil, false
	}
	for _, e := range gs.Nearby {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// Require is Find that fails with [ErrEntityNotFound].
func (gs *GameState) Require(id string) (*entity.Entity, error) {
	e, ok := gs.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not near the player", ErrEntityNotFound, id)
	}
	return e, nil
}

// Exits returns the nearby exits.
func (gs *GameState) Exits() []*entity.Entity {
	var out []*entity.Entity
	for _, e := range gs.Nearby {
		if e.Kind == entity.KindExit {
			out = append(out, e)
		}
	}
	return out
}

// ValidateChange rejects a change whose entity is not part of the snapshot.
func (gs *GameState) ValidateChange(c EntityChange) error {
	if c.EntityID == "" {
		return fmt.Errorf("%w: change without entity id", ErrEntityNotFound)
	}
	_, err := gs.Require(c.EntityID)
	return err
}

// WithEntities returns a copy of gs in which every nearby entity with the id
// of one of updated is replaced by it. gs itself is left untouched.
func (gs *GameState) WithEntities(updated []*entity.Entity) *GameState {
	next := &GameState{
		GameID:   gs.GameID,
		Player:   gs.Player,
		Location: gs.Location,
		Nearby:   slices.Clone(gs.Nearby),
	}
	for _, u := range updated {
		for i, e := range next.Nearby {
			if e.ID == u.ID {
				next.Nearby[i] = u
			}
		}
		switch u.ID {
		case gs.Player.ID:
			next.Player = u
		case gs.Location.ID:
			next.Location = u
		}
	}
	return next
}

// LoadGameState builds the snapshot for gameID from store. The player and its
// location must exist; referenced fixtures, exits, occupants and carried items that cannot be
// found are left out with a warning. The referenced entities are fetched
// concurrently.
func LoadGameState(ctx context.Context, store entity.Store, gameID string) (*GameState, error) {
	if gameID == "" {
		return nil, fmt.Errorf("%w: game id", ErrMissingInput)
	}

	player, err := get(ctx, store, gameID, entity.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("turn: load player: %w", err)
	}
	if player.Kind != entity.KindPlayer || player.LocationID == "" {
		return nil, fmt.Errorf("%w: player of game %q has no location", ErrEntityNotFound, gameID)
	}

	location, err := get(ctx, store, gameID, player.LocationID)
	if err != nil {
		return nil, fmt.Errorf("turn: load location: %w", err)
	}
	if location.Kind != entity.KindLocation {
		return nil, fmt.Errorf("%w: %q is a %s, not a location", ErrEntityNotFound, location.ID, location.Kind)
	}

	refs := slices.Concat(location.FixtureIDs, location.ExitIDs, location.OccupantIDs, player.OccupantIDs)
	fetched := make([]*entity.Entity, len(refs))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, id := range refs {
		eg.Go(func() error {
			e, err := get(egCtx, store, gameID, id)
			if errors.Is(err, ErrEntityNotFound) {
				observe.Logger(observe.WithGame(egCtx, gameID)).Warn("turn: referenced entity missing, leaving it out",
					"location_id", location.ID, "entity_id", id)
				return nil
			}
			if err != nil {
				return fmt.Errorf("turn: load %q: %w", id, err)
			}
			fetched[i] = e
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	gs := &GameState{
		GameID:   gameID,
		Player:   player,
		Location: location,
		Nearby:   []*entity.Entity{player, location},
	}
	seen := map[string]bool{player.ID: true, location.ID: true}
	for _, e := range fetched {
		if e == nil || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		gs.Nearby = append(gs.Nearby, e)
	}
	return gs, nil
}

// get maps store errors onto the turn taxonomy.
func get(ctx context.Context, store entity.Store, gameID, id string) (*entity.Entity, error) {
	e, err := store.Get(ctx, gameID, id)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	e.Normalize()
	return e, nil
}
