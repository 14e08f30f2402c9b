package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/ana/internal/completion"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
)

var _ Stage = (*EntityAgent)(nil)

// defaultReasoning is used when the agent runs without a classifier pick for
// its entity.
const defaultReasoning = "No reasoning provided"

// agentOutput is the structured reply of an entity agent. It carries no
// entity id: the agent can only ever speak for its own entity.
type agentOutput struct {
	Narrative      string                `json:"narrative" jsonschema:"What the player perceives of this entity, one or two sentences"`
	AddStatuses    []turn.StatusChange   `json:"addStatuses" jsonschema:"Statuses to add to this entity; empty when nothing changes"`
	RemoveStatuses []turn.StatusChange   `json:"removeStatuses" jsonschema:"Statuses to remove from this entity; empty when nothing changes"`
	SetProperties  []turn.PropertyChange `json:"setProperties,omitempty" jsonschema:"Properties to set; empty when nothing changes"`
	Reasoning      string                `json:"reasoning" jsonschema:"Overall reasoning for these recommendations"`
}

// EntityAgent speaks for a single entity. One instance is built per nearby
// entity and turn; the kind of the entity selects its [PromptBuilder].
type EntityAgent struct {
	llm      completion.Invoker
	entityID string
	kind     entity.Kind
	build    PromptBuilder
}

// NewEntityAgent returns the agent for e. It fails for kinds without a prompt
// template.
func NewEntityAgent(inv completion.Invoker, e *entity.Entity) (*EntityAgent, error) {
	if e == nil || e.ID == "" {
		return nil, fmt.Errorf("agent: entity must have an id")
	}
	build, ok := PromptBuilderFor(e.Kind)
	if !ok {
		return nil, fmt.Errorf("agent: no agent for entity %q of kind %q", e.ID, e.Kind)
	}
	return &EntityAgent{llm: inv, entityID: e.ID, kind: e.Kind, build: build}, nil
}

// EntityID returns the id of the entity this agent speaks for.
func (a *EntityAgent) EntityID() string { return a.entityID }

// Run implements [Stage]. It contributes exactly one narrative and at least
// one recommendation for its own entity; an exit that lets the player through
// adds a second, player-addressed recommendation with the new locationId.
func (a *EntityAgent) Run(ctx context.Context, snap turn.Snapshot) (turn.Update, error) {
	if missing := missingInput(snap); missing != "" {
		return turn.Update{}, fmt.Errorf("agent %s: %w: %s", a.entityID, turn.ErrMissingInput, missing)
	}
	e, err := snap.Game.Require(a.entityID)
	if err != nil {
		return turn.Update{}, fmt.Errorf("agent %s: %w", a.entityID, err)
	}

	reasoning := defaultReasoning
	for _, s := range snap.Selected {
		if s.EntityID == a.entityID && strings.TrimSpace(s.Reasoning) != "" {
			reasoning = s.Reasoning
			break
		}
	}

	var out agentOutput
	err = a.llm.Invoke(ctx, completion.Prompt{
		Name:   StageEntityAgent,
		System: a.build(e, reasoning),
		User:   "PLAYER COMMAND: " + snap.Command,
	}, &out)
	if err != nil {
		return turn.Update{}, fmt.Errorf("agent %s: %w", a.entityID, err)
	}

	recs := a.narrow(ctx, snap.Game, e, out)
	return turn.Update{
		Narratives: []turn.EntityNarrative{{
			EntityID:   e.ID,
			EntityType: e.Kind,
			Content:    strings.TrimSpace(out.Narrative),
		}},
		Recommendations: recs,
	}, nil
}

// narrow turns the model output into recommendations addressed to the
// agent's own entity. The only cross-entity write is an exit moving the
// player, and then only to the exit's own destination.
func (a *EntityAgent) narrow(ctx context.Context, gs *turn.GameState, e *entity.Entity, out agentOutput) []turn.EntityChangeRecommendation {
	own := turn.EntityChangeRecommendation{
		EntityID:       e.ID,
		EntityType:     e.Kind,
		AddStatuses:    nonNil(out.AddStatuses),
		RemoveStatuses: nonNil(out.RemoveStatuses),
		Reasoning:      out.Reasoning,
	}
	if e.Kind != entity.KindExit {
		own.SetProperties = out.SetProperties
		return []turn.EntityChangeRecommendation{own}
	}

	var move *turn.PropertyChange
	for _, p := range out.SetProperties {
		if p.Property != "locationId" {
			own.SetProperties = append(own.SetProperties, p)
			continue
		}
		if e.DestinationID == "" {
			observe.Logger(ctx).Warn("agent: exit without destination recommended a move, ignoring",
				"entity_id", e.ID)
			continue
		}
		move = &turn.PropertyChange{Property: "locationId", Value: e.DestinationID, Reasoning: p.Reasoning}
	}
	recs := []turn.EntityChangeRecommendation{own}
	if move != nil && gs.Player != nil {
		recs = append(recs, turn.EntityChangeRecommendation{
			EntityID:       gs.Player.ID,
			EntityType:     entity.KindPlayer,
			AddStatuses:    []turn.StatusChange{},
			RemoveStatuses: []turn.StatusChange{},
			SetProperties:  []turn.PropertyChange{*move},
			Reasoning:      fmt.Sprintf("moving through %s: %s", e.Name, move.Reasoning),
		})
	}
	return recs
}
