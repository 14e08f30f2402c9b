package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/ana/internal/agent"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/turn"
)

func TestNewEntityAgent_EveryKindHasAPrompt(t *testing.T) {
	t.Parallel()

	inv, _ := newScripted(t, script{})
	for _, kind := range entity.Kinds {
		e := &entity.Entity{ID: "x", Kind: kind, Name: "X"}
		a, err := agent.NewEntityAgent(inv, e)
		if err != nil {
			t.Errorf("%s: %v", kind, err)
			continue
		}
		if a.EntityID() != "x" {
			t.Errorf("%s: EntityID = %q", kind, a.EntityID())
		}
		build, _ := agent.PromptBuilderFor(kind)
		if p := build(e, "because"); !strings.Contains(p, strings.ToUpper(string(kind))+" AGENT") {
			t.Errorf("%s prompt does not name its role", kind)
		}
	}

	if _, err := agent.NewEntityAgent(inv, &entity.Entity{ID: "x", Kind: "dragon"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := agent.NewLoader(inv).Load(&entity.Entity{}); err == nil {
		t.Error("expected error for entity without id")
	}
}

func TestEntityAgent_Run_NarrowsToOwnEntity(t *testing.T) {
	t.Parallel()

	_, gs := cryptState(t)
	inv, p := newScripted(t, script{
		agent.StageEntityAgent: reply(`{
			"narrative": "The torch flares to life.",
			"addStatuses": [{"status": "lit", "reasoning": "fire"}],
			"removeStatuses": [],
			"reasoning": "The player lit it.",
			"entityId": "north-door"
		}`),
	})
	torch, _ := gs.Find("torch")
	a, err := agent.NewLoader(inv).Load(torch)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	snap := snapshot("light torch", gs, turn.Update{
		Selected: []turn.SelectedEntity{{EntityID: "torch", Reasoning: "The torch can be lit."}},
	})
	u, err := a.Run(context.Background(), snap)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantRecs := []turn.EntityChangeRecommendation{{
		EntityID:       "torch",
		EntityType:     entity.KindFixture,
		AddStatuses:    []turn.StatusChange{{Status: "lit", Reasoning: "fire"}},
		RemoveStatuses: []turn.StatusChange{},
		Reasoning:      "The player lit it.",
	}}
	if diff := cmp.Diff(wantRecs, u.Recommendations); diff != "" {
		t.Errorf("recommendations (-want +got):\n%s", diff)
	}
	wantNarr := []turn.EntityNarrative{{EntityID: "torch", EntityType: entity.KindFixture, Content: "The torch flares to life."}}
	if diff := cmp.Diff(wantNarr, u.Narratives); diff != "" {
		t.Errorf("narratives (-want +got):\n%s", diff)
	}

	req := p.Calls()[0].Req
	if !forEntity(req, "torch") {
		t.Error("system prompt should carry the torch data")
	}
	if !strings.Contains(req.SystemPrompt, "SELECTION REASONING: The torch can be lit.") {
		t.Error("system prompt should carry the classifier reasoning")
	}
	if !strings.Contains(req.SystemPrompt, "Can be lit with fire") {
		t.Error("system prompt should carry the entity instructions")
	}
}

func TestEntityAgent_Run_DefaultReasoning(t *testing.T) {
	t.Parallel()

	_, gs := cryptState(t)
	inv, p := newScripted(t, script{
		agent.StageEntityAgent: reply(`{"narrative":"Cold stone.","addStatuses":[],"removeStatuses":[],"reasoning":"nothing"}`),
	})
	loc, _ := gs.Find("crypt-entrance")
	a, _ := agent.NewEntityAgent(inv, loc)

	u, err := a.Run(context.Background(), snapshot("look", gs, turn.Update{}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(p.Calls()[0].Req.SystemPrompt, "SELECTION REASONING: No reasoning provided") {
		t.Error("missing selection should fall back to the default reasoning")
	}
	if len(u.Recommendations) != 1 || !u.Recommendations[0].IsEmpty() {
		t.Errorf("observation should yield one empty recommendation, got %+v", u.Recommendations)
	}
}

func TestEntityAgent_Run_ExitMovesPlayerToItsDestination(t *testing.T) {
	t.Parallel()

	_, gs := cryptState(t)
	inv, _ := newScripted(t, script{
		agent.StageEntityAgent: reply(`{
			"narrative": "The door swings open onto a vaulted hall.",
			"addStatuses": [{"status": "open"}],
			"removeStatuses": [],
			"setProperties": [{"property": "locationId", "value": "treasury", "reasoning": "walks north"}],
			"reasoning": "The player goes north."
		}`),
	})
	door, _ := gs.Find("north-door")
	a, _ := agent.NewEntityAgent(inv, door)

	u, err := a.Run(context.Background(), snapshot("go north", gs, turn.Update{}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(u.Recommendations) != 2 {
		t.Fatalf("recommendations = %+v, want door and player", u.Recommendations)
	}
	own, move := u.Recommendations[0], u.Recommendations[1]
	if own.EntityID != "north-door" || len(own.SetProperties) != 0 || len(own.AddStatuses) != 1 {
		t.Errorf("door recommendation = %+v", own)
	}
	if move.EntityID != entity.PlayerID || move.EntityType != entity.KindPlayer {
		t.Errorf("move addressed to %q (%s), want player", move.EntityID, move.EntityType)
	}
	if len(move.SetProperties) != 1 || move.SetProperties[0].Value != "great-hall" {
		t.Errorf("move = %+v, want locationId=great-hall (the door's destination)", move.SetProperties)
	}
}

func TestEntityAgent_Run_Errors(t *testing.T) {
	t.Parallel()

	_, gs := cryptState(t)

	t.Run("entity not in snapshot", func(t *testing.T) {
		t.Parallel()
		inv, p := newScripted(t, script{})
		a, _ := agent.NewEntityAgent(inv, &entity.Entity{ID: "lever", Kind: entity.KindFixture})
		_, err := a.Run(context.Background(), snapshot("pull lever", gs, turn.Update{}))
		if !errors.Is(err, turn.ErrEntityNotFound) {
			t.Fatalf("err = %v, want ErrEntityNotFound", err)
		}
		if len(p.Calls()) != 0 {
			t.Error("no completion expected")
		}
	})

	t.Run("missing command", func(t *testing.T) {
		t.Parallel()
		inv, _ := newScripted(t, script{})
		torch, _ := gs.Find("torch")
		a, _ := agent.NewEntityAgent(inv, torch)
		_, err := a.Run(context.Background(), snapshot("", gs, turn.Update{}))
		if !errors.Is(err, turn.ErrMissingInput) {
			t.Fatalf("err = %v, want ErrMissingInput", err)
		}
	})

	t.Run("reply without narrative", func(t *testing.T) {
		t.Parallel()
		inv, _ := newScripted(t, script{agent.StageEntityAgent: reply(`{"addStatuses":[],"removeStatuses":[],"reasoning":"x"}`)})
		torch, _ := gs.Find("torch")
		a, _ := agent.NewEntityAgent(inv, torch)
		_, err := a.Run(context.Background(), snapshot("light torch", gs, turn.Update{}))
		if !errors.Is(err, turn.ErrUpstreamFormat) {
			t.Fatalf("err = %v, want ErrUpstreamFormat", err)
		}
	})
}
