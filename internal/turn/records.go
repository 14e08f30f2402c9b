// Package turn holds the data that flows through one turn of the pipeline:
// the immutable [GameState] snapshot, the records produced by each stage and
// the [State] channels that merge them.
package turn

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/MrWong99/ana/internal/entity"
)

// SelectedEntity is one classifier pick.
type SelectedEntity struct {
	EntityID  string `json:"entityId" jsonschema:"ID of the selected entity"`
	Reasoning string `json:"reasoning" jsonschema:"One sentence on why this entity responds to or is affected by the command"`
}

// StatusChange adds or removes a single status tag.
type StatusChange struct {
	Status    string `json:"status" jsonschema:"The status tag, e.g. lit or locked"`
	Reasoning string `json:"reasoning,omitempty" jsonschema:"Why the status changes"`
}

// PropertyChange sets a single kind-specific property.
type PropertyChange struct {
	Property  string `json:"property" jsonschema:"Property name, e.g. locationId"`
	Value     string `json:"value" jsonschema:"New property value"`
	Reasoning string `json:"reasoning,omitempty" jsonschema:"Why the property changes"`
}

// EntityChangeRecommendation is what an entity agent proposes for one entity.
// Several recommendations may target the same entity within a turn.
type EntityChangeRecommendation struct {
	EntityID       string           `json:"entityId" jsonschema:"ID of the entity to change"`
	EntityType     entity.Kind      `json:"entityType" jsonschema:"Kind of the entity: player, location, fixture, exit, item or npc"`
	AddStatuses    []StatusChange   `json:"addStatuses" jsonschema:"Statuses to add; empty when nothing changes"`
	RemoveStatuses []StatusChange   `json:"removeStatuses" jsonschema:"Statuses to remove; empty when nothing changes"`
	SetProperties  []PropertyChange `json:"setProperties,omitempty" jsonschema:"Properties to set"`
	Reasoning      string           `json:"reasoning" jsonschema:"Overall justification for the change"`
}

// IsEmpty reports whether the recommendation changes nothing.
func (r EntityChangeRecommendation) IsEmpty() bool {
	return len(r.AddStatuses) == 0 && len(r.RemoveStatuses) == 0 && len(r.SetProperties) == 0
}

// EntityChange is the arbiter's final decision for one entity. It has the
// same shape as a recommendation; at most one exists per entity and turn.
type EntityChange = EntityChangeRecommendation

// EntityNarrative is a narrative fragment contributed by one entity agent.
type EntityNarrative struct {
	EntityID   string      `json:"entityId" jsonschema:"ID of the narrating entity"`
	EntityType entity.Kind `json:"entityType" jsonschema:"Kind of the narrating entity"`
	Content    string      `json:"content" jsonschema:"Narrative fragment from this entity's perspective"`
}

// CanonicalRecommendations returns a copy of recs in a canonical order that
// does not depend on the order in which concurrent agents finished. Ties on
// entity id are broken by the JSON encoding of the whole record.
func CanonicalRecommendations(recs []EntityChangeRecommendation) []EntityChangeRecommendation {
	out := slices.Clone(recs)
	slices.SortStableFunc(out, func(a, b EntityChangeRecommendation) int {
		if c := cmp.Compare(a.EntityID, b.EntityID); c != 0 {
			return c
		}
		return cmp.Compare(sortKey(a), sortKey(b))
	})
	return out
}

// CanonicalNarratives is the narrative counterpart of CanonicalRecommendations.
func CanonicalNarratives(ns []EntityNarrative) []EntityNarrative {
	out := slices.Clone(ns)
	slices.SortStableFunc(out, func(a, b EntityNarrative) int {
		if c := cmp.Compare(a.EntityID, b.EntityID); c != 0 {
			return c
		}
		return cmp.Compare(a.Content, b.Content)
	})
	return out
}

func sortKey(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
