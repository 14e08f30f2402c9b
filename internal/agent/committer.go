package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
)

var _ Stage = (*Committer)(nil)

// Skip reasons reported to the ana.commit.skipped metric.
const (
	skipStaleEntity     = "stale_entity"
	skipUnknownProperty = "unknown_property"
	skipBadDestination  = "invalid_destination"
)

// Committer applies the approved changes to the entity store. It is the only
// stage with side effects on game state.
//
// Changes are applied in order and each touched entity is saved right away;
// there is no transaction across entities, so a store failure mid-turn
// leaves the earlier writes in place.
type Committer struct {
	store   entity.Store
	metrics *observe.Metrics
}

// CommitterOption is a functional option for [NewCommitter].
type CommitterOption func(*Committer)

// WithCommitMetrics records skipped changes to m instead of the default
// metrics.
func WithCommitMetrics(m *observe.Metrics) CommitterOption {
	return func(c *Committer) { c.metrics = m }
}

// NewCommitter returns a committer writing to store.
func NewCommitter(store entity.Store, opts ...CommitterOption) *Committer {
	c := &Committer{store: store, metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run implements [Stage]. The update carries the entities that were saved
// (Committed) and, per change, what actually changed (Applied). Both are
// written even when empty.
//
// A change for an entity outside the snapshot, an unknown property and a
// destination that is not a stored location are skipped with a warning; they
// never fail the turn. Store failures wrap [turn.ErrTransient].
func (c *Committer) Run(ctx context.Context, snap turn.Snapshot) (turn.Update, error) {
	if snap.Game == nil {
		return turn.Update{}, fmt.Errorf("committer: %w: game state", turn.ErrMissingInput)
	}
	tx := &commit{
		Committer: c,
		gs:        snap.Game,
		work:      map[string]*entity.Entity{},
	}

	applied := []turn.EntityChange{}
	var committed []*entity.Entity
	for _, change := range snap.Approved {
		eff, saved, err := tx.apply(ctx, change)
		if err != nil {
			return turn.Update{}, err
		}
		if !eff.IsEmpty() {
			applied = append(applied, eff)
		}
		for _, e := range saved {
			committed = slices.DeleteFunc(committed, func(old *entity.Entity) bool { return old.ID == e.ID })
			committed = append(committed, e.Clone())
		}
	}

	observe.Logger(ctx).Debug("committer: done",
		"approved", len(snap.Approved), "applied", len(applied), "saved", len(committed))
	return turn.Update{Applied: applied, Committed: nonNil(committed)}, nil
}

// commit holds the working copies of one committer run. Snapshot entities are
// cloned on first touch and never mutated.
type commit struct {
	*Committer
	gs    *turn.GameState
	work  map[string]*entity.Entity
	dirty []string
}

// apply applies one change and saves every entity it touched. It returns the
// effective change and the saved entities.
func (tx *commit) apply(ctx context.Context, change turn.EntityChange) (turn.EntityChange, []*entity.Entity, error) {
	eff := turn.EntityChange{
		EntityID:       change.EntityID,
		EntityType:     change.EntityType,
		AddStatuses:    []turn.StatusChange{},
		RemoveStatuses: []turn.StatusChange{},
		Reasoning:      change.Reasoning,
	}
	if err := tx.gs.ValidateChange(change); err != nil {
		tx.skip(ctx, change.EntityID, "", skipStaleEntity, fmt.Errorf("%w: %w", turn.ErrSkipped, err))
		return turn.EntityChange{}, nil, nil
	}
	e := tx.working(change.EntityID)
	eff.EntityType = e.Kind
	tx.dirty = tx.dirty[:0]

	for _, s := range change.AddStatuses {
		if e.AddStatus(s.Status) {
			eff.AddStatuses = append(eff.AddStatuses, s)
			tx.markDirty(e.ID)
		}
	}
	for _, s := range change.RemoveStatuses {
		if e.RemoveStatus(s.Status) {
			eff.RemoveStatuses = append(eff.RemoveStatuses, s)
			tx.markDirty(e.ID)
		}
	}
	for _, p := range change.SetProperties {
		changed, err := tx.setProperty(ctx, e, p)
		switch {
		case errors.Is(err, turn.ErrSkipped):
			reason := skipUnknownProperty
			if errors.Is(err, turn.ErrEntityNotFound) {
				reason = skipBadDestination
			}
			tx.skip(ctx, e.ID, p.Property, reason, err)
		case err != nil:
			return turn.EntityChange{}, nil, err
		case changed:
			eff.SetProperties = append(eff.SetProperties, p)
		}
	}

	saved := make([]*entity.Entity, 0, len(tx.dirty))
	for _, id := range tx.dirty {
		w := tx.work[id]
		if err := tx.store.Save(ctx, tx.gs.GameID, w); err != nil {
			return turn.EntityChange{}, nil, fmt.Errorf("committer: save %q: %w: %w", id, turn.ErrTransient, err)
		}
		saved = append(saved, w)
	}
	return eff, saved, nil
}

// setProperty dispatches on the property name. Unknown properties and
// properties that do not apply to the entity's kind are skipped.
func (tx *commit) setProperty(ctx context.Context, e *entity.Entity, p turn.PropertyChange) (bool, error) {
	value := strings.TrimSpace(p.Value)
	switch {
	case p.Property == "description":
		if value == "" || value == e.Description {
			return false, nil
		}
		e.Description = value
		tx.markDirty(e.ID)
		return true, nil

	case p.Property == "locationId" && slices.Contains([]entity.Kind{entity.KindPlayer, entity.KindNPC, entity.KindItem}, e.Kind):
		if value == e.LocationID {
			return false, nil
		}
		if !(e.Kind == entity.KindItem && value == entity.PlayerID) {
			if _, err := tx.location(ctx, value); err != nil {
				return false, err
			}
		}
		old := e.LocationID
		e.LocationID = value
		tx.markDirty(e.ID)
		if e.Kind != entity.KindPlayer {
			if err := tx.relocate(ctx, e.ID, old, value); err != nil {
				return false, err
			}
		}
		return true, nil

	case p.Property == "destinationId" && e.Kind == entity.KindExit:
		if value == e.DestinationID {
			return false, nil
		}
		if _, err := tx.location(ctx, value); err != nil {
			return false, err
		}
		e.DestinationID = value
		tx.markDirty(e.ID)
		return true, nil
	}
	return false, fmt.Errorf("%w: property %q does not apply to a %s", turn.ErrSkipped, p.Property, e.Kind)
}

// relocate moves id from the occupant list of its old container to the new
// one. Containers are locations or, for carried items, the player.
func (tx *commit) relocate(ctx context.Context, id, from, to string) error {
	for _, step := range []struct {
		container string
		add       bool
	}{{from, false}, {to, true}} {
		if step.container == "" {
			continue
		}
		c, err := tx.container(ctx, step.container)
		if errors.Is(err, turn.ErrSkipped) {
			// The old container is gone; nothing to detach from.
			continue
		}
		if err != nil {
			return err
		}
		has := slices.Contains(c.OccupantIDs, id)
		switch {
		case step.add && !has:
			c.OccupantIDs = append(c.OccupantIDs, id)
		case !step.add && has:
			c.OccupantIDs = slices.DeleteFunc(c.OccupantIDs, func(o string) bool { return o == id })
		default:
			continue
		}
		tx.markDirty(c.ID)
	}
	return nil
}

func (tx *commit) container(ctx context.Context, id string) (*entity.Entity, error) {
	if tx.gs.Player != nil && id == tx.gs.Player.ID {
		return tx.working(id), nil
	}
	return tx.location(ctx, id)
}

// location resolves id to a working copy of a stored location.
func (tx *commit) location(ctx context.Context, id string) (*entity.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: %w: empty location id", turn.ErrSkipped, turn.ErrEntityNotFound)
	}
	if w, ok := tx.work[id]; ok {
		return checkLocation(w)
	}
	if e, ok := tx.gs.Find(id); ok {
		if _, err := checkLocation(e); err != nil {
			return nil, err
		}
		return tx.working(id), nil
	}
	e, err := tx.store.Get(ctx, tx.gs.GameID, id)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w: location %q", turn.ErrSkipped, turn.ErrEntityNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("committer: load location %q: %w: %w", id, turn.ErrTransient, err)
	}
	if _, err := checkLocation(e); err != nil {
		return nil, err
	}
	e.Normalize()
	tx.work[id] = e
	return e, nil
}

func checkLocation(e *entity.Entity) (*entity.Entity, error) {
	if e.Kind != entity.KindLocation {
		return nil, fmt.Errorf("%w: %w: %q is a %s, not a location", turn.ErrSkipped, turn.ErrEntityNotFound, e.ID, e.Kind)
	}
	return e, nil
}

// working returns the working copy of a snapshot entity, cloning it on first
// use. id must be part of the snapshot.
func (tx *commit) working(id string) *entity.Entity {
	if w, ok := tx.work[id]; ok {
		return w
	}
	e, _ := tx.gs.Find(id)
	w := e.Clone()
	tx.work[id] = w
	return w
}

func (tx *commit) markDirty(id string) {
	if !slices.Contains(tx.dirty, id) {
		tx.dirty = append(tx.dirty, id)
	}
}

func (tx *commit) skip(ctx context.Context, entityID, property, reason string, err error) {
	observe.Logger(ctx).Warn("committer: skipping change",
		"entity_id", entityID, "property", property, "reason", reason, "err", err)
	tx.metrics.RecordCommitSkipped(ctx, reason)
}
