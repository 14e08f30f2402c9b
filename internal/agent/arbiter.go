package agent

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/ana/internal/completion"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
)

var _ Stage = (*Arbiter)(nil)

const arbiterPrompt = `You are the ARBITER of a multi-agent text adventure engine.

TASK: Review the change recommendations of the entity agents and decide the final
changes to apply for the player's command.

DECISION PROCESS:
- Use the player command to understand intent.
- Review each recommendation (addStatuses, removeStatuses, setProperties).
- Resolve contradictions between agents; the outcome closest to the player's intent wins.
- Keep changes logically consistent with the current entity state.
- Add cross-entity effects the individual agents could not see, e.g. a lit torch
  also lights its location, breaking something affects the room.
- Movement: exits recommend a new player locationId. Keep it only when the exit
  allows passage.

OUTPUT: at most one change per entity. Leave out entities that do not change.
Only use entity ids from SELECTED ENTITIES or ENTITY CHANGE RECOMMENDATIONS.
Return an empty entityChanges array when nothing changes.`

// arbiterOutput is the structured reply of the arbiter.
type arbiterOutput struct {
	EntityChanges []turn.EntityChange `json:"entityChanges" jsonschema:"The final changes, at most one per entity"`
}

// Arbiter reconciles the recommendations of all entity agents into one
// consistent list of approved changes. It runs once, after every fanned-out
// agent has finished.
type Arbiter struct {
	llm completion.Invoker
}

// NewArbiter returns an arbiter that consults inv.
func NewArbiter(inv completion.Invoker) *Arbiter {
	return &Arbiter{llm: inv}
}

// Run implements [Stage]. The update always writes Approved.
//
// Without recommendations the arbiter approves nothing and makes no
// completion call. Otherwise the recommendations and narratives are put in
// canonical order first, so the prompt does not depend on the order in which
// the agents finished.
func (a *Arbiter) Run(ctx context.Context, snap turn.Snapshot) (turn.Update, error) {
	if missing := missingInput(snap); missing != "" {
		return turn.Update{}, fmt.Errorf("arbiter: %w: %s", turn.ErrMissingInput, missing)
	}
	if len(snap.Recommendations) == 0 {
		return turn.Update{Approved: []turn.EntityChange{}}, nil
	}
	gs := snap.Game

	recs := turn.CanonicalRecommendations(snap.Recommendations)
	narratives := turn.CanonicalNarratives(snap.Narratives)

	var user strings.Builder
	fmt.Fprintf(&user, "PLAYER COMMAND: %s\n\n", snap.Command)
	fmt.Fprintf(&user, "SELECTED ENTITIES (current state):\n%s\n\n", renderEntities(referenced(gs, snap.Selected, recs)))
	fmt.Fprintf(&user, "ENTITY NARRATIVES:\n%s\n\n", renderJSON(nonNil(narratives)))
	fmt.Fprintf(&user, "ENTITY CHANGE RECOMMENDATIONS:\n%s", renderJSON(recs))

	var out arbiterOutput
	err := a.llm.Invoke(ctx, completion.Prompt{
		Name:        StageArbiter,
		System:      arbiterPrompt,
		User:        user.String(),
		Temperature: 0.2,
	}, &out)
	if err != nil {
		return turn.Update{}, fmt.Errorf("arbiter: %w", err)
	}

	approved := Collapse(gs, out.EntityChanges)
	observe.Logger(ctx).Debug("arbiter: decision",
		"recommendations", len(recs), "approved", len(approved))
	return turn.Update{Approved: approved}, nil
}

// referenced returns the snapshot entities that were selected or are the
// target of a recommendation, in snapshot order.
func referenced(gs *turn.GameState, selected []turn.SelectedEntity, recs []turn.EntityChangeRecommendation) []*entity.Entity {
	ids := make(map[string]bool, len(selected)+len(recs))
	for _, s := range selected {
		ids[s.EntityID] = true
	}
	for _, r := range recs {
		ids[r.EntityID] = true
	}
	var out []*entity.Entity
	for _, e := range gs.Nearby {
		if ids[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

// Collapse merges changes so that each entity appears at most once, drops
// changes that change nothing and sorts the result by entity id.
//
// Duplicates merge in order: a later add of a status cancels an earlier
// remove of it and vice versa, a later value for a property replaces the
// earlier one. A missing entity type is filled in from gs. References to
// snapshot entities by name or a near-miss id are merged under the real id;
// anything else is kept as written for the committer to skip.
func Collapse(gs *turn.GameState, changes []turn.EntityChange) []turn.EntityChange {
	type merged struct {
		change  turn.EntityChange
		adds    []turn.StatusChange
		removes []turn.StatusChange
		props   []turn.PropertyChange
		reasons []string
	}
	byID := map[string]*merged{}
	var order []string
	var ids *entityResolver
	if gs != nil {
		ids = newEntityResolver(gs.Nearby)
	}

	for _, c := range changes {
		id := strings.TrimSpace(c.EntityID)
		if id == "" {
			continue
		}
		if ids != nil {
			if resolved, ok := ids.resolve(id); ok {
				id = resolved
			}
		}
		m, ok := byID[id]
		if !ok {
			m = &merged{change: turn.EntityChange{EntityID: id, EntityType: c.EntityType}}
			byID[id] = m
			order = append(order, id)
		}
		if m.change.EntityType == "" {
			m.change.EntityType = c.EntityType
		}
		for _, s := range c.AddStatuses {
			m.removes = dropStatus(m.removes, s.Status)
			m.adds = append(dropStatus(m.adds, s.Status), s)
		}
		for _, s := range c.RemoveStatuses {
			m.adds = dropStatus(m.adds, s.Status)
			m.removes = append(dropStatus(m.removes, s.Status), s)
		}
		for _, p := range c.SetProperties {
			if i := slices.IndexFunc(m.props, func(q turn.PropertyChange) bool { return q.Property == p.Property }); i >= 0 {
				m.props[i] = p
				continue
			}
			m.props = append(m.props, p)
		}
		if r := strings.TrimSpace(c.Reasoning); r != "" && !slices.Contains(m.reasons, r) {
			m.reasons = append(m.reasons, r)
		}
	}

	out := make([]turn.EntityChange, 0, len(order))
	for _, id := range order {
		m := byID[id]
		c := m.change
		c.AddStatuses = nonNil(m.adds)
		c.RemoveStatuses = nonNil(m.removes)
		c.SetProperties = m.props
		c.Reasoning = strings.Join(m.reasons, "; ")
		if c.IsEmpty() {
			continue
		}
		if c.EntityType == "" {
			if e, ok := gs.Find(id); ok {
				c.EntityType = e.Kind
			}
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b turn.EntityChange) int { return cmp.Compare(a.EntityID, b.EntityID) })
	return out
}

func dropStatus(list []turn.StatusChange, status string) []turn.StatusChange {
	key := strings.ToLower(strings.TrimSpace(status))
	return slices.DeleteFunc(list, func(s turn.StatusChange) bool {
		return strings.ToLower(strings.TrimSpace(s.Status)) == key
	})
}
