package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/ana/internal/agent"
	"github.com/MrWong99/ana/internal/agent/mock"
	"github.com/MrWong99/ana/internal/agent/orchestrator"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/entity/entitytest"
	"github.com/MrWong99/ana/internal/gamelog"
	"github.com/MrWong99/ana/internal/turn"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// recordingSink keeps the labels and payloads it receives.
type recordingSink struct {
	mu      sync.Mutex
	labels  []string
	payload map[string]any
}

func (s *recordingSink) Record(_ context.Context, _ string, label string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload == nil {
		s.payload = make(map[string]any)
	}
	s.labels = append(s.labels, label)
	s.payload[label] = payload
}

func (s *recordingSink) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.labels)
}

var _ gamelog.Sink = (*recordingSink)(nil)

// fixture is a full set of mock stages with one agent mock per entity.
type fixture struct {
	classifier, arbiter, committer, narrator *mock.Stage

	mu     sync.Mutex
	agents map[string]*mock.Stage
}

func newFixture() *fixture {
	final := "You stand in the Crypt Entrance."
	return &fixture{
		classifier: &mock.Stage{Result: turn.Update{Selected: []turn.SelectedEntity{}}},
		arbiter:    &mock.Stage{Result: turn.Update{Approved: []turn.EntityChange{}}},
		committer:  &mock.Stage{Result: turn.Update{Applied: []turn.EntityChange{}, Committed: []*entity.Entity{}}},
		narrator:   &mock.Stage{Result: turn.Update{FinalNarrative: &final}},
		agents:     make(map[string]*mock.Stage),
	}
}

// agent returns the mock for id, creating one that narrates for id.
func (f *fixture) agent(id string) *mock.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.agents[id]; ok {
		return s
	}
	s := &mock.Stage{Result: turn.Update{
		Narratives:      []turn.EntityNarrative{{EntityID: id, Content: id + " speaks"}},
		Recommendations: []turn.EntityChangeRecommendation{{EntityID: id}},
	}}
	f.agents[id] = s
	return s
}

func (f *fixture) stages() orchestrator.Stages {
	return orchestrator.Stages{
		Classifier:  f.classifier,
		EntityAgent: func(e *entity.Entity) (agent.Stage, error) { return f.agent(e.ID), nil },
		Arbiter:     f.arbiter,
		Committer:   f.committer,
		Narrator:    f.narrator,
	}
}

func cryptState(t *testing.T) *turn.GameState {
	t.Helper()
	gs, err := turn.LoadGameState(context.Background(), entitytest.NewCryptStore(t), "g1")
	if err != nil {
		t.Fatalf("LoadGameState: %v", err)
	}
	return gs
}

func selected(ids ...string) turn.Snapshot {
	s := turn.Snapshot{}
	for _, id := range ids {
		s.Selected = append(s.Selected, turn.SelectedEntity{EntityID: id})
	}
	return s
}

// ── Build ────────────────────────────────────────────────────────────────────

func TestBuild(t *testing.T) {
	t.Parallel()

	gs := cryptState(t)

	t.Run("one node per nearby entity", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		g, err := orchestrator.Build(gs, f.stages())
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		want := []string{"player", "crypt-entrance", "torch", "north-door"}
		if diff := cmp.Diff(want, g.EntityNodes()); diff != "" {
			t.Errorf("entity nodes (-want +got):\n%s", diff)
		}
		for _, id := range want {
			if f.agent(id).CallCount() != 0 {
				t.Errorf("Build must not run %s", id)
			}
		}
	})

	t.Run("missing stage", func(t *testing.T) {
		t.Parallel()
		s := newFixture().stages()
		s.Arbiter = nil
		if _, err := orchestrator.Build(gs, s); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("nil game state", func(t *testing.T) {
		t.Parallel()
		_, err := orchestrator.Build(nil, newFixture().stages())
		if !errors.Is(err, turn.ErrMissingInput) {
			t.Fatalf("err = %v, want ErrMissingInput", err)
		}
	})

	t.Run("agent factory failure", func(t *testing.T) {
		t.Parallel()
		s := newFixture().stages()
		s.EntityAgent = func(e *entity.Entity) (agent.Stage, error) {
			if e.ID == "torch" {
				return nil, errors.New("no prompt")
			}
			return &mock.Stage{}, nil
		}
		_, err := orchestrator.Build(gs, s)
		if err == nil || !strings.Contains(err.Error(), `"torch"`) {
			t.Fatalf("err = %v, want failure naming torch", err)
		}
	})
}

// ── Route ────────────────────────────────────────────────────────────────────

func TestRoute(t *testing.T) {
	t.Parallel()

	g, err := orchestrator.Build(cryptState(t), newFixture().stages())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tests := []struct {
		name    string
		snap    turn.Snapshot
		want    []string
		wantErr error
	}{
		{name: "nothing selected", snap: turn.Snapshot{}, want: []string{orchestrator.RouteDefault}},
		{name: "blank ids only", snap: selected(" "), want: []string{orchestrator.RouteDefault}},
		{name: "selection order kept", snap: selected("torch", "player"), want: []string{"torch", "player"}},
		{name: "duplicates dropped", snap: selected("torch", "crypt-entrance", "torch"), want: []string{"torch", "crypt-entrance"}},
		{name: "unknown entity", snap: selected("torch", "dragon"), wantErr: turn.ErrEntityNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := g.Route(tt.snap)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Route (-want +got):\n%s", diff)
			}
		})
	}
}

// ── Run ──────────────────────────────────────────────────────────────────────

func TestRun_FansOutAndJoins(t *testing.T) {
	t.Parallel()

	gs := cryptState(t)
	f := newFixture()
	f.classifier.Result = turn.Update{Selected: []turn.SelectedEntity{{EntityID: "torch"}, {EntityID: "crypt-entrance"}}}

	// Both agents must be running at the same time for either to finish.
	var started sync.WaitGroup
	started.Add(2)
	for _, id := range []string{"torch", "crypt-entrance"} {
		a := f.agent(id)
		a.RunFunc = func(ctx context.Context, _ turn.Snapshot) (turn.Update, error) {
			started.Done()
			done := make(chan struct{})
			go func() { started.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				return turn.Update{}, fmt.Errorf("%s ran alone", id)
			}
			return turn.Update{Narratives: []turn.EntityNarrative{{EntityID: id, Content: id}}}, nil
		}
	}

	sink := &recordingSink{}
	g, err := orchestrator.Build(gs, f.stages(), orchestrator.WithSink(sink))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	state := turn.NewState("light torch", gs)
	if err := g.Run(context.Background(), state); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if f.agent("player").CallCount() != 0 || f.agent("north-door").CallCount() != 0 {
		t.Error("unselected agents must not run")
	}
	arb := f.arbiter.Calls()
	if len(arb) != 1 {
		t.Fatalf("arbiter calls = %d, want 1", len(arb))
	}
	if n := len(arb[0].Narratives); n != 2 {
		t.Errorf("arbiter saw %d narratives, want both agents joined", n)
	}
	if got := state.FinalNarrative.Load(); got != "You stand in the Crypt Entrance." {
		t.Errorf("FinalNarrative = %q", got)
	}

	labels := sink.Labels()
	if labels[0] != orchestrator.DiagramLabel {
		t.Errorf("first record = %q, want the diagram", labels[0])
	}
	for _, want := range []string{"classifier", "torch", "crypt-entrance", "arbiter", "committer", "narrator"} {
		if !slices.Contains(labels, want) {
			t.Errorf("no audit record for %q in %v", want, labels)
		}
	}
	if got := sink.payload["narrator"]; got != "You stand in the Crypt Entrance." {
		t.Errorf("narrator record = %#v, want text", got)
	}
}

func TestRun_DefaultRouteSkipsAgents(t *testing.T) {
	t.Parallel()

	gs := cryptState(t)
	f := newFixture()
	g, err := orchestrator.Build(gs, f.stages())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := g.Run(context.Background(), turn.NewState("sing a song", gs)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, id := range g.EntityNodes() {
		if n := f.agent(id).CallCount(); n != 0 {
			t.Errorf("%s ran %d times", id, n)
		}
	}
	if f.arbiter.CallCount() != 1 || f.committer.CallCount() != 1 || f.narrator.CallCount() != 1 {
		t.Error("arbiter, committer and narrator must run once each")
	}
}

func TestRun_AgentFailureCancelsSiblings(t *testing.T) {
	t.Parallel()

	gs := cryptState(t)
	f := newFixture()
	f.classifier.Result = turn.Update{Selected: []turn.SelectedEntity{{EntityID: "torch"}, {EntityID: "north-door"}}}
	boom := errors.New("provider exploded")
	f.agent("torch").Err = boom
	f.agent("north-door").RunFunc = func(ctx context.Context, _ turn.Snapshot) (turn.Update, error) {
		select {
		case <-ctx.Done():
			return turn.Update{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return turn.Update{}, errors.New("sibling was not cancelled")
		}
	}

	sink := &recordingSink{}
	g, err := orchestrator.Build(gs, f.stages(), orchestrator.WithSink(sink))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	err = g.Run(context.Background(), turn.NewState("light torch", gs))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if f.arbiter.CallCount() != 0 {
		t.Error("arbiter must not run after a failed fan-out")
	}
	if _, ok := sink.payload["torch"].(error); !ok {
		t.Errorf("torch failure should be recorded, got %#v", sink.payload["torch"])
	}
}

func TestRun_ClassifierFailureStopsTurn(t *testing.T) {
	t.Parallel()

	gs := cryptState(t)
	f := newFixture()
	f.classifier.Err = fmt.Errorf("classify: %w", turn.ErrUpstreamFormat)
	g, _ := orchestrator.Build(gs, f.stages())

	err := g.Run(context.Background(), turn.NewState("look", gs))
	if !errors.Is(err, turn.ErrUpstreamFormat) {
		t.Fatalf("err = %v, want ErrUpstreamFormat", err)
	}
	if f.arbiter.CallCount() != 0 || f.narrator.CallCount() != 0 {
		t.Error("no stage may run after the classifier fails")
	}
}

// ── Mermaid ──────────────────────────────────────────────────────────────────

func TestMermaid(t *testing.T) {
	t.Parallel()

	g, err := orchestrator.Build(cryptState(t), newFixture().stages())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := g.Mermaid()
	for _, want := range []string{
		"flowchart TD",
		"__start__([start]) --> classifier",
		`entity_2["torch"]`,
		"classifier -.-> entity_2",
		"entity_2 --> arbiter",
		"classifier -.->|default| arbiter",
		"arbiter --> committer",
		"committer --> narrator",
		"narrator --> __end__([end])",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("diagram lacks %q:\n%s", want, got)
		}
	}
	if kind, _ := gamelog.Classify(g); kind != gamelog.KindDiagram {
		t.Errorf("graph classifies as %q, want diagram", kind)
	}
}
