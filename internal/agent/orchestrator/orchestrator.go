// Package orchestrator assembles and runs the per-turn stage graph: the
// classifier picks the entities a command concerns, one agent per picked
// entity runs in parallel, and the arbiter, committer and narrator follow in
// sequence.
//
// A [Graph] is built fresh for every turn from the turn's [turn.GameState],
// so the set of entity nodes always matches what is near the player.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ana/internal/agent"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/gamelog"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
)

var _ gamelog.Diagram = (*Graph)(nil)

// DiagramLabel is the audit label the graph diagram is recorded under.
const DiagramLabel = "diagram"

// Stages holds the stage implementations a [Graph] is built from.
type Stages struct {
	Classifier agent.Stage

	// EntityAgent returns the agent speaking for e. [agent.Loader.Load]
	// satisfies it.
	EntityAgent func(e *entity.Entity) (agent.Stage, error)

	Arbiter   agent.Stage
	Committer agent.Stage
	Narrator  agent.Stage
}

func (s Stages) validate() error {
	switch {
	case s.Classifier == nil:
		return fmt.Errorf("orchestrator: classifier stage is required")
	case s.EntityAgent == nil:
		return fmt.Errorf("orchestrator: entity agent factory is required")
	case s.Arbiter == nil:
		return fmt.Errorf("orchestrator: arbiter stage is required")
	case s.Committer == nil:
		return fmt.Errorf("orchestrator: committer stage is required")
	case s.Narrator == nil:
		return fmt.Errorf("orchestrator: narrator stage is required")
	}
	return nil
}

// node is one vertex of the graph.
type node struct {
	name  string // audit label: stage name or entity id
	stage string // metric label
	run   agent.Stage
}

// Graph is the stage graph of a single turn. It is not reused across turns.
type Graph struct {
	gs *turn.GameState

	classifier node
	entities   map[string]node // entity id → agent node
	order      []string        // entity ids in snapshot order
	tail       []node          // arbiter, committer, narrator

	sink    gamelog.Sink
	metrics *observe.Metrics
}

// Option configures a [Graph] during [Build].
type Option func(*Graph)

// WithSink sets the audit sink every node run is recorded to. The default
// discards records.
func WithSink(s gamelog.Sink) Option {
	return func(g *Graph) {
		if s != nil {
			g.sink = s
		}
	}
}

// WithMetrics sets the metrics stage latencies and fan-out are recorded to.
// The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Graph) {
		if m != nil {
			g.metrics = m
		}
	}
}

// Build creates the graph for one turn: one agent node per entity near the
// player, keyed by entity id. Build performs no I/O.
func Build(gs *turn.GameState, stages Stages, opts ...Option) (*Graph, error) {
	if gs == nil {
		return nil, fmt.Errorf("orchestrator: build: %w: game state", turn.ErrMissingInput)
	}
	if err := stages.validate(); err != nil {
		return nil, err
	}

	g := &Graph{
		gs:         gs,
		classifier: node{name: agent.StageClassifier, stage: agent.StageClassifier, run: stages.Classifier},
		entities:   make(map[string]node, len(gs.Nearby)),
		tail: []node{
			{name: agent.StageArbiter, stage: agent.StageArbiter, run: stages.Arbiter},
			{name: agent.StageCommitter, stage: agent.StageCommitter, run: stages.Committer},
			{name: agent.StageNarrator, stage: agent.StageNarrator, run: stages.Narrator},
		},
		sink: gamelog.NopSink{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}

	for _, e := range gs.Nearby {
		if _, dup := g.entities[e.ID]; dup {
			continue
		}
		s, err := stages.EntityAgent(e)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: agent for %q: %w", e.ID, err)
		}
		g.entities[e.ID] = node{name: e.ID, stage: agent.StageEntityAgent, run: s}
		g.order = append(g.order, e.ID)
	}
	return g, nil
}

// EntityNodes returns the ids of the entity agent nodes in snapshot order.
func (g *Graph) EntityNodes() []string {
	return slices.Clone(g.order)
}

// Run executes the graph against state. The classifier runs first, then the
// routed entity agents run concurrently. Once every agent has finished, the
// arbiter, committer and narrator run in order. The first failing node
// cancels its siblings and fails the turn.
func (g *Graph) Run(ctx context.Context, state *turn.State) error {
	g.sink.Record(ctx, g.gs.GameID, DiagramLabel, g)

	if err := g.runNode(ctx, g.classifier, state.Snapshot(), state); err != nil {
		return err
	}

	snap := state.Snapshot()
	targets, err := g.Route(snap)
	if err != nil {
		return err
	}
	if err := g.fanOut(ctx, targets, snap, state); err != nil {
		return err
	}

	for _, n := range g.tail {
		if err := g.runNode(ctx, n, state.Snapshot(), state); err != nil {
			return err
		}
	}
	return nil
}

// fanOut runs the agents named by targets concurrently against the same
// post-classifier snapshot and returns once all of them have finished.
func (g *Graph) fanOut(ctx context.Context, targets []string, snap turn.Snapshot, state *turn.State) error {
	if len(targets) == 1 && targets[0] == RouteDefault {
		g.metrics.AgentFanOut.Record(ctx, 0)
		observe.Logger(ctx).Debug("no entity selected, skipping agents")
		return nil
	}
	g.metrics.AgentFanOut.Record(ctx, int64(len(targets)))

	eg, egCtx := errgroup.WithContext(ctx)
	for _, id := range targets {
		n := g.entities[id]
		eg.Go(func() error {
			return g.runNode(egCtx, n, snap, state)
		})
	}
	return eg.Wait()
}

// runNode runs one node inside a span, records its latency and audit record,
// and merges its update into state.
func (g *Graph) runNode(ctx context.Context, n node, snap turn.Snapshot, state *turn.State) error {
	ctx, span := observe.StartSpan(observe.WithNode(ctx, n.name), "ana.stage."+n.stage)
	defer span.End()

	start := time.Now()
	u, err := n.run.Run(ctx, snap)
	g.metrics.RecordStage(ctx, n.stage, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.sink.Record(ctx, g.gs.GameID, n.name, fmt.Errorf("failed: %w", err))
		observe.Logger(ctx).Error("stage failed", "err", err)
		return fmt.Errorf("orchestrator: %s: %w", n.name, err)
	}

	state.Apply(u)
	g.sink.Record(ctx, g.gs.GameID, n.name, auditOf(u))
	return nil
}
