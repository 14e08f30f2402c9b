// Package game runs player commands against a game: it loads the scene around
// the player, builds the turn graph, runs it and records the turn.
//
// Turns of the same game never overlap. Turns of different games run
// concurrently.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/ana/internal/agent"
	"github.com/MrWong99/ana/internal/agent/orchestrator"
	"github.com/MrWong99/ana/internal/completion"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/gamelog"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
	"github.com/MrWong99/ana/pkg/memory"
)

// Service processes player commands. All exported methods are safe for
// concurrent use.
type Service struct {
	entities entity.Store
	logs     gamelog.Store
	sink     gamelog.Sink
	metrics  *observe.Metrics
	narrator *agent.Narrator
	stages   orchestrator.Stages
	now      func() time.Time

	memory    memory.WorkingMemory
	namespace string

	locks keyedMutex
}

// Option configures a [Service].
type Option func(*Service)

// WithMemory sets the working memory the narrator keeps per game. Without it
// the narrator runs without memory.
func WithMemory(m memory.WorkingMemory) Option {
	return func(s *Service) { s.memory = m }
}

// WithMemoryNamespace overrides [agent.DefaultMemoryNamespace].
func WithMemoryNamespace(ns string) Option {
	return func(s *Service) { s.namespace = ns }
}

// WithLog sets the store that keeps turn and event logs. The default is an
// in-memory store.
func WithLog(l gamelog.Store) Option {
	return func(s *Service) { s.logs = l }
}

// WithSink sets the audit sink for node records. The default discards them.
func WithSink(sink gamelog.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMetrics sets the metrics instruments. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the turn timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service that consults inv for every LLM stage and
// keeps entities in store.
func NewService(inv completion.Invoker, store entity.Store, opts ...Option) *Service {
	s := &Service{
		entities: store,
		sink:     gamelog.NopSink{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logs == nil {
		s.logs = gamelog.NewMemStore()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	narrOpts := []agent.NarratorOption{agent.WithSceneStore(store)}
	if s.memory != nil {
		narrOpts = append(narrOpts, agent.WithMemory(s.memory))
	}
	if s.namespace != "" {
		narrOpts = append(narrOpts, agent.WithMemoryNamespace(s.namespace))
	}
	s.narrator = agent.NewNarrator(inv, narrOpts...)

	s.stages = orchestrator.Stages{
		Classifier:  agent.NewClassifier(inv),
		EntityAgent: agent.NewLoader(inv).Load,
		Arbiter:     agent.NewArbiter(inv),
		Committer:   agent.NewCommitter(store, agent.WithCommitMetrics(s.metrics)),
		Narrator:    s.narrator,
	}
	return s
}

// ProcessCommand resolves one player command in game gameID and returns the
// narrator's reply. Changes committed before a failure stay committed.
func (s *Service) ProcessCommand(ctx context.Context, gameID, command string) (string, error) {
	gameID = strings.TrimSpace(gameID)
	command = strings.TrimSpace(command)
	switch {
	case gameID == "":
		return "", fmt.Errorf("game: %w: game id", turn.ErrMissingInput)
	case command == "":
		return "", fmt.Errorf("game: %w: command", turn.ErrMissingInput)
	}

	unlock, err := s.locks.lock(ctx, gameID)
	if err != nil {
		return "", fmt.Errorf("game: wait for previous turn of %q: %w", gameID, err)
	}
	defer unlock()

	ctx, span := observe.StartSpan(observe.WithGame(ctx, gameID), "ana.turn")
	defer span.End()

	s.metrics.ActiveTurns.Add(ctx, 1)
	defer s.metrics.ActiveTurns.Add(ctx, -1)

	start := time.Now()
	reply, err := s.play(ctx, gameID, command)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))

	log := observe.Logger(ctx)
	if err != nil {
		log.Error("turn failed", "command", command, "err", err)
		return "", err
	}
	log.Info("turn complete", "duration", time.Since(start))
	return reply, nil
}

func (s *Service) play(ctx context.Context, gameID, command string) (string, error) {
	gs, err := turn.LoadGameState(ctx, s.entities, gameID)
	if err != nil {
		return "", fmt.Errorf("game: %w", err)
	}
	g, err := orchestrator.Build(gs, s.stages,
		orchestrator.WithSink(s.sink),
		orchestrator.WithMetrics(s.metrics),
	)
	if err != nil {
		return "", fmt.Errorf("game: %w", err)
	}

	state := turn.NewState(command, gs)
	if err := g.Run(ctx, state); err != nil {
		return "", fmt.Errorf("game: %w", err)
	}
	reply := state.FinalNarrative.Load()

	t := gamelog.Turn{
		ID:      uuid.NewString(),
		GameID:  gameID,
		Command: command,
		Reply:   reply,
		At:      s.now().UTC(),
	}
	if err := s.logs.AppendTurn(ctx, t); err != nil {
		observe.Logger(ctx).Warn("failed to append turn log", "err", err)
	}
	return reply, nil
}

// Turns returns the turn log of gameID, oldest first.
func (s *Service) Turns(ctx context.Context, gameID string) ([]gamelog.Turn, error) {
	turns, err := s.logs.Turns(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("game: turns of %q: %w", gameID, err)
	}
	return turns, nil
}

// Events returns the newest count audit events of gameID. Zero selects
// [gamelog.DefaultEventCount].
func (s *Service) Events(ctx context.Context, gameID string, count int) ([]gamelog.Event, error) {
	n, err := gamelog.ValidateCount(count)
	if err != nil {
		return nil, fmt.Errorf("game: %w: %w", turn.ErrMissingInput, err)
	}
	events, err := s.logs.Events(ctx, gameID, n)
	if err != nil {
		return nil, fmt.Errorf("game: events of %q: %w", gameID, err)
	}
	return events, nil
}

// DeleteGame removes the per-game entity copies, the logs and the narrator's
// memory of gameID. The templates stay, so the game starts over on the next
// command. Every part is attempted; the errors are joined.
func (s *Service) DeleteGame(ctx context.Context, gameID string) error {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return fmt.Errorf("game: %w: game id", turn.ErrMissingInput)
	}
	unlock, err := s.locks.lock(ctx, gameID)
	if err != nil {
		return fmt.Errorf("game: wait for previous turn of %q: %w", gameID, err)
	}
	defer unlock()

	var errs []error
	if err := s.entities.DeleteGame(ctx, gameID); err != nil {
		errs = append(errs, fmt.Errorf("entities: %w", err))
	}
	if err := s.logs.DeleteGame(ctx, gameID); err != nil {
		errs = append(errs, fmt.Errorf("logs: %w", err))
	}
	if err := s.narrator.Forget(ctx, gameID); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("game: delete %q: %w", gameID, err)
	}
	observe.Logger(observe.WithGame(ctx, gameID)).Info("game deleted")
	return nil
}

// Close waits for pending memory writes.
func (s *Service) Close() {
	s.narrator.Wait()
}
