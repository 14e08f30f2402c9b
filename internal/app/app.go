// Package app wires all ana subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context is cancelled, and Shutdown
// drains the server and tears everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithEntityStore,
// WithGameLog, WithWorkingMemory, WithMetrics). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/ana/internal/completion"
	"github.com/MrWong99/ana/internal/config"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/game"
	"github.com/MrWong99/ana/internal/gamelog"
	"github.com/MrWong99/ana/internal/health"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/resilience"
	"github.com/MrWong99/ana/internal/session"
	"github.com/MrWong99/ana/internal/storage/postgres"
	"github.com/MrWong99/ana/internal/storage/sqlite"
	"github.com/MrWong99/ana/pkg/memory"
	"github.com/MrWong99/ana/pkg/memory/ams"
	"github.com/MrWong99/ana/pkg/provider/llm"
)

// NamedLLM is an LLM provider together with the registry name it was built
// from. The name labels provider metrics and circuit breaker logs.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the LLM backends built by main.go via the config registry.
// Primary is required; Fallbacks are tried in order when it fails.
type Providers struct {
	Primary   NamedLLM
	Fallbacks []NamedLLM
}

// App owns all subsystem lifetimes and serves the turn API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	entities entity.Store
	logs     gamelog.Store
	memory   memory.WorkingMemory
	llm      llm.Provider
	recorder *gamelog.Recorder
	service  *game.Service
	health   *health.Handler
	checkers []health.Checker
	handler  http.Handler

	mu     sync.Mutex
	server *http.Server

	// closers run in reverse order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEntityStore injects an entity store instead of opening the configured
// backend.
func WithEntityStore(s entity.Store) Option {
	return func(a *App) { a.entities = s }
}

// WithGameLog injects a turn and event log store instead of the configured
// backend.
func WithGameLog(l gamelog.Store) Option {
	return func(a *App) { a.logs = l }
}

// WithWorkingMemory injects the narrator's working memory instead of the
// configured backend.
func WithWorkingMemory(m memory.WorkingMemory) Option {
	return func(a *App) { a.memory = m }
}

// WithMetrics injects the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: store connection, world
// seeding, working memory, LLM failover, the game service and the HTTP
// routes. No listener is opened until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil || providers.Primary.Provider == nil {
		return nil, errors.New("app: a primary llm provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. World templates ───────────────────────────────────────────────
	if err := a.seedWorld(ctx); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: seed world: %w", err)
	}

	// ── 3. LLM failover ──────────────────────────────────────────────────
	a.initLLM()

	// ── 4. Working memory ────────────────────────────────────────────────
	if err := a.initMemory(); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 5. Audit recorder ────────────────────────────────────────────────
	a.recorder = gamelog.NewRecorder(a.logs)
	a.closers = append(a.closers, a.recorder.Close)

	// ── 6. Game service ──────────────────────────────────────────────────
	a.initService()

	// ── 7. HTTP routes ───────────────────────────────────────────────────
	a.health = health.New(a.checkers...)
	a.handler = a.routes()

	slog.Info("app initialised",
		"store", cfg.Store.Backend,
		"memory", cfg.Memory.Backend,
		"llm", providers.Primary.Name,
		"fallbacks", len(providers.Fallbacks),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores opens the configured persistence backend for whichever of the
// entity and log stores were not injected.
func (a *App) initStores(ctx context.Context) error {
	if a.entities != nil && a.logs != nil {
		return nil
	}

	switch a.cfg.Store.Backend {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { s.Close(); return nil })
		a.checkers = append(a.checkers, health.Checker{Name: "entity_store", Check: s.Ping})
		a.fillStores(s, s)
	case config.StoreSQLite:
		s, err := sqlite.Open(a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		a.checkers = append(a.checkers, health.Checker{Name: "entity_store", Check: s.Ping})
		a.fillStores(s, s)
	default:
		a.fillStores(entity.NewMemStore(), gamelog.NewMemStore())
	}
	return nil
}

func (a *App) fillStores(entities entity.Store, logs gamelog.Store) {
	if a.entities == nil {
		a.entities = entities
	}
	if a.logs == nil {
		a.logs = logs
	}
}

// seedWorld saves the entities of the configured world file as templates.
func (a *App) seedWorld(ctx context.Context) error {
	path := a.cfg.Store.WorldFile
	if path == "" {
		return nil
	}
	world, err := entity.LoadWorldFile(path)
	if err != nil {
		return err
	}
	n, err := entity.SeedTemplates(ctx, a.entities, world)
	if err != nil {
		return err
	}
	slog.Info("seeded world templates", "path", path, "world", world.World.Name, "count", n)
	return nil
}

// initLLM wraps the configured providers in a circuit-breaking failover
// group that records per-backend request metrics.
func (a *App) initLLM() {
	fb := resilience.NewLLMFallback(
		a.providers.Primary.Provider,
		a.providers.Primary.Name,
		resilience.FallbackConfig{},
		resilience.WithProviderMetrics(a.metrics),
	)
	for _, f := range a.providers.Fallbacks {
		fb.AddFallback(f.Name, f.Provider)
	}
	a.checkers = append(a.checkers, health.Checker{
		Name: "llm",
		Check: func(context.Context) error {
			if !fb.Healthy() {
				return errors.New("every provider circuit is open")
			}
			return nil
		},
	})
	a.llm = fb
}

// initMemory builds the narrator's working memory unless one was injected.
// The memory server is wrapped in a guard so an outage only costs continuity;
// readiness reports it as degraded.
func (a *App) initMemory() error {
	if a.memory != nil {
		return nil
	}

	switch a.cfg.Memory.Backend {
	case config.MemoryLocal:
		a.memory = session.NewLocalMemory(session.LocalMemoryConfig{
			ContextWindowMax: a.cfg.Memory.ContextWindowMax,
			Summariser:       session.NewLLMSummariser(a.llm),
		})
	case config.MemoryAMS:
		client, err := ams.New(a.cfg.Memory.BaseURL, ams.WithContextWindowMax(a.cfg.Memory.ContextWindowMax))
		if err != nil {
			return err
		}
		guard := session.NewMemoryGuard(client)
		a.checkers = append(a.checkers, health.Checker{
			Name: "memory",
			Check: func(context.Context) error {
				if guard.IsDegraded() {
					return errors.New("last memory operation failed")
				}
				return nil
			},
		})
		a.memory = guard
	}
	return nil
}

func (a *App) initService() {
	inv := completion.New(a.llm,
		completion.WithTemperature(a.cfg.LLM.Temperature),
		completion.WithMaxTokens(a.cfg.LLM.MaxTokens),
		completion.WithMetrics(a.metrics),
	)

	opts := []game.Option{
		game.WithLog(a.logs),
		game.WithSink(a.recorder),
		game.WithMetrics(a.metrics),
	}
	if a.memory != nil {
		opts = append(opts, game.WithMemory(a.memory))
	}
	if ns := a.cfg.Memory.Namespace; ns != "" {
		opts = append(opts, game.WithMemoryNamespace(ns))
	}
	a.service = game.NewService(inv, a.entities, opts...)
	a.closers = append(a.closers, func(context.Context) error {
		a.service.Close()
		return nil
	})
}

// routes builds the HTTP handler: turn API, health checks and, when enabled,
// the Prometheus scrape endpoint, all behind the tracing middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /games/{gameID}/turns", a.handlePostTurn)
	mux.HandleFunc("GET /games/{gameID}/turns", a.handleListTurns)
	mux.HandleFunc("GET /games/{gameID}/events", a.handleListEvents)
	mux.HandleFunc("DELETE /games/{gameID}", a.handleDeleteGame)
	a.health.Register(mux)
	if a.cfg.Telemetry.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Service returns the game service.
func (a *App) Service() *game.Service { return a.service }

// Recorder returns the asynchronous audit recorder.
func (a *App) Recorder() *gamelog.Recorder { return a.recorder }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on server.listen_addr and serves HTTP until ctx is cancelled.
// It returns nil after a cancellation; call Shutdown afterwards to drain
// in-flight turns and release resources.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the server as draining, waits for in-flight requests and
// tears down all subsystems in reverse-init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.health != nil {
			a.health.SetDraining(true)
		}

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		shutdownErr = a.closeAll(ctx)
		if shutdownErr == nil {
			slog.Info("shutdown complete")
		}
	})
	return shutdownErr
}

// closeAll runs the closers last-in first-out.
func (a *App) closeAll(ctx context.Context) error {
	for i := len(a.closers) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", i+1)
			return ctx.Err()
		default:
		}
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
	return nil
}
