// Package entity defines the game objects a text-adventure world is made of
// and the store that persists them per game.
//
// Every game reads its entities through [Store.Get], which falls back to a
// shared template record when the game has not persisted its own copy yet.
// Templates are seeded at startup from a world YAML file ([LoadWorldFile]).
//
// All store operations are safe for concurrent use.
package entity

import (
	"slices"
	"strings"
)

// PlayerID is the reserved identifier of the player entity in every game.
const PlayerID = "player"

// Kind classifies a game entity.
type Kind string

const (
	// KindPlayer is the player character.
	KindPlayer Kind = "player"

	// KindLocation is a place the player can stand in.
	KindLocation Kind = "location"

	// KindFixture is an interactive object fixed to a location (a torch, a door).
	KindFixture Kind = "fixture"

	// KindExit connects a location to another location.
	KindExit Kind = "exit"

	// KindItem is a portable object.
	KindItem Kind = "item"

	// KindNPC is a non-player character.
	KindNPC Kind = "npc"
)

// Kinds lists every recognised kind in a stable order.
var Kinds = []Kind{KindPlayer, KindLocation, KindFixture, KindExit, KindItem, KindNPC}

// IsValid reports whether k is a recognised entity kind.
func (k Kind) IsValid() bool {
	return slices.Contains(Kinds, k)
}

// Entity is a single game object. The JSON field names are the ones shown to
// the language model, so they are kept stable.
type Entity struct {
	// ID is unique within a game.
	ID string `yaml:"id" json:"entityId"`

	// Kind selects the agent template that speaks for this entity.
	Kind Kind `yaml:"kind" json:"entityType"`

	// Name is the display name.
	Name string `yaml:"name" json:"name"`

	// Description is free text shown to the player and the agents.
	Description string `yaml:"description" json:"description"`

	// Statuses is a set of tags ("lit", "locked"). Kept sorted and
	// deduplicated; use AddStatus and RemoveStatus to change it.
	Statuses []string `yaml:"statuses,omitempty" json:"statuses"`

	// Instructions are optional behavioural notes for the entity's agent.
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`

	// LocationID is where a player, npc or item currently is.
	LocationID string `yaml:"location_id,omitempty" json:"locationId,omitempty"`

	// FixtureIDs lists the fixtures of a location.
	FixtureIDs []string `yaml:"fixture_ids,omitempty" json:"fixtureIds,omitempty"`

	// ExitIDs lists the exits of a location.
	ExitIDs []string `yaml:"exit_ids,omitempty" json:"exitIds,omitempty"`

	// OccupantIDs lists npcs and items present in a location, or the items
	// the player carries.
	OccupantIDs []string `yaml:"occupant_ids,omitempty" json:"occupantIds,omitempty"`

	// DestinationID is the location an exit leads to.
	DestinationID string `yaml:"destination_id,omitempty" json:"destinationId,omitempty"`
}

// HasStatus reports whether s is in the status set.
func (e *Entity) HasStatus(s string) bool {
	return slices.Contains(e.Statuses, normalizeStatus(s))
}

// AddStatus inserts s into the status set. It reports whether the set changed;
// adding a status that is already present is a no-op.
func (e *Entity) AddStatus(s string) bool {
	s = normalizeStatus(s)
	if s == "" || slices.Contains(e.Statuses, s) {
		return false
	}
	e.Statuses = append(e.Statuses, s)
	slices.Sort(e.Statuses)
	return true
}

// RemoveStatus deletes s from the status set. It reports whether the set
// changed; removing an absent status is a no-op.
func (e *Entity) RemoveStatus(s string) bool {
	i := slices.Index(e.Statuses, normalizeStatus(s))
	if i < 0 {
		return false
	}
	e.Statuses = slices.Delete(e.Statuses, i, i+1)
	return true
}

// Normalize sorts and deduplicates the status set in place. Stores call it on
// every record they load so set operations can rely on ordering.
func (e *Entity) Normalize() {
	out := e.Statuses[:0]
	for _, s := range e.Statuses {
		if s = normalizeStatus(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	e.Statuses = slices.Compact(out)
}

// Clone returns a deep copy of e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Statuses = slices.Clone(e.Statuses)
	c.FixtureIDs = slices.Clone(e.FixtureIDs)
	c.ExitIDs = slices.Clone(e.ExitIDs)
	c.OccupantIDs = slices.Clone(e.OccupantIDs)
	return &c
}

// Properties returns the kind-specific properties that are set, keyed by
// their JSON names. Used to render entities into prompts.
func (e *Entity) Properties() map[string]any {
	props := map[string]any{}
	if e.LocationID != "" {
		props["locationId"] = e.LocationID
	}
	if len(e.FixtureIDs) > 0 {
		props["fixtureIds"] = e.FixtureIDs
	}
	if len(e.ExitIDs) > 0 {
		props["exitIds"] = e.ExitIDs
	}
	if len(e.OccupantIDs) > 0 {
		props["occupantIds"] = e.OccupantIDs
	}
	if e.DestinationID != "" {
		props["destinationId"] = e.DestinationID
	}
	return props
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
