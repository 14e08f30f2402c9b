package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/gamelog"
)

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var (
	_ entity.Store  = (*Store)(nil)
	_ gamelog.Store = (*Store)(nil)
)

// Store is the PostgreSQL-backed entity and game-log store.
// All operations are safe for concurrent use.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// NewStore wraps an existing connection or pool. The caller is responsible for
// calling [Store.Migrate] before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to the database at dsn, pings it and runs [Store.Migrate].
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Ping reports whether the database is reachable. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Close releases the pool opened by [Open]. It is a no-op for stores created
// with [NewStore].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ── Entities ─────────────────────────────────────────────────────────────────

// Get implements [entity.Store.Get]. The game copy wins over the template.
func (s *Store) Get(ctx context.Context, gameID, id string) (*entity.Entity, error) {
	const q = `
		SELECT COALESCE(
		    (SELECT doc FROM game_entities WHERE game_id = $1 AND id = $2),
		    (SELECT doc FROM entity_templates WHERE id = $2)
		)`

	var doc []byte
	if err := s.db.QueryRow(ctx, q, gameID, id).Scan(&doc); err != nil {
		return nil, fmt.Errorf("postgres: get %q in game %q: %w", id, gameID, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("postgres: get %q in game %q: %w", id, gameID, entity.ErrNotFound)
	}
	return decodeEntity(doc)
}

// Save implements [entity.Store.Save].
func (s *Store) Save(ctx context.Context, gameID string, e *entity.Entity) error {
	if gameID == "" {
		return fmt.Errorf("postgres: save: game id must not be empty")
	}
	doc, err := encodeEntity(e)
	if err != nil {
		return fmt.Errorf("postgres: save: %w", err)
	}

	const q = `
		INSERT INTO game_entities (game_id, id, kind, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id, id) DO UPDATE SET
		    kind = EXCLUDED.kind,
		    doc = EXCLUDED.doc,
		    updated_at = now()`

	if _, err := s.db.Exec(ctx, q, gameID, e.ID, string(e.Kind), doc); err != nil {
		return fmt.Errorf("postgres: save %q in game %q: %w", e.ID, gameID, err)
	}
	return nil
}

// GetTemplate implements [entity.Store.GetTemplate].
func (s *Store) GetTemplate(ctx context.Context, id string) (*entity.Entity, error) {
	const q = `SELECT doc FROM entity_templates WHERE id = $1`

	var doc []byte
	err := s.db.QueryRow(ctx, q, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: template %q: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: template %q: %w", id, err)
	}
	return decodeEntity(doc)
}

// SaveTemplate implements [entity.Store.SaveTemplate].
func (s *Store) SaveTemplate(ctx context.Context, e *entity.Entity) error {
	doc, err := encodeEntity(e)
	if err != nil {
		return fmt.Errorf("postgres: save template: %w", err)
	}

	const q = `
		INSERT INTO entity_templates (id, kind, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
		    kind = EXCLUDED.kind,
		    doc = EXCLUDED.doc,
		    updated_at = now()`

	if _, err := s.db.Exec(ctx, q, e.ID, string(e.Kind), doc); err != nil {
		return fmt.Errorf("postgres: save template %q: %w", e.ID, err)
	}
	return nil
}

// ── Game logs ────────────────────────────────────────────────────────────────

// AppendTurn implements [gamelog.Store.AppendTurn].
func (s *Store) AppendTurn(ctx context.Context, t gamelog.Turn) error {
	if t.GameID == "" {
		return fmt.Errorf("postgres: append turn: game id must not be empty")
	}
	const q = `
		INSERT INTO game_turns (id, game_id, command, reply, at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.Exec(ctx, q, t.ID, t.GameID, t.Command, t.Reply, t.At); err != nil {
		return fmt.Errorf("postgres: append turn: %w", err)
	}
	return nil
}

// Turns implements [gamelog.Store.Turns].
func (s *Store) Turns(ctx context.Context, gameID string) ([]gamelog.Turn, error) {
	const q = `
		SELECT id, game_id, command, reply, at
		FROM   game_turns
		WHERE  game_id = $1
		ORDER  BY seq`

	rows, err := s.db.Query(ctx, q, gameID)
	if err != nil {
		return nil, fmt.Errorf("postgres: turns: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (gamelog.Turn, error) {
		var t gamelog.Turn
		err := row.Scan(&t.ID, &t.GameID, &t.Command, &t.Reply, &t.At)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: turns: scan: %w", err)
	}
	if turns == nil {
		turns = []gamelog.Turn{}
	}
	return turns, nil
}

// AppendEvent implements [gamelog.Store.AppendEvent].
func (s *Store) AppendEvent(ctx context.Context, e gamelog.Event) error {
	if e.GameID == "" {
		return fmt.Errorf("postgres: append event: game id must not be empty")
	}
	const q = `
		INSERT INTO game_events (id, game_id, label, kind, body, at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.db.Exec(ctx, q, e.ID, e.GameID, e.Label, string(e.Kind), e.Body, e.At); err != nil {
		return fmt.Errorf("postgres: append event: %w", err)
	}
	return nil
}

// Events implements [gamelog.Store.Events].
func (s *Store) Events(ctx context.Context, gameID string, limit int) ([]gamelog.Event, error) {
	limit, err := gamelog.ValidateCount(limit)
	if err != nil {
		return nil, err
	}
	const q = `
		SELECT id, game_id, label, kind, body, at
		FROM (
		    SELECT seq, id, game_id, label, kind, body, at
		    FROM   game_events
		    WHERE  game_id = $1
		    ORDER  BY seq DESC
		    LIMIT  $2
		) newest
		ORDER BY seq`

	rows, err := s.db.Query(ctx, q, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (gamelog.Event, error) {
		var (
			e    gamelog.Event
			kind string
		)
		err := row.Scan(&e.ID, &e.GameID, &e.Label, &kind, &e.Body, &e.At)
		e.Kind = gamelog.Kind(kind)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: events: scan: %w", err)
	}
	if events == nil {
		events = []gamelog.Event{}
	}
	return events, nil
}

// ── Deletion ─────────────────────────────────────────────────────────────────

// DeleteGame removes the game's entity copies and both logs. It satisfies
// both [entity.Store.DeleteGame] and [gamelog.Store.DeleteGame].
func (s *Store) DeleteGame(ctx context.Context, gameID string) error {
	for _, q := range []string{
		`DELETE FROM game_entities WHERE game_id = $1`,
		`DELETE FROM game_turns WHERE game_id = $1`,
		`DELETE FROM game_events WHERE game_id = $1`,
	} {
		if _, err := s.db.Exec(ctx, q, gameID); err != nil {
			return fmt.Errorf("postgres: delete game %q: %w", gameID, err)
		}
	}
	return nil
}

func encodeEntity(e *entity.Entity) ([]byte, error) {
	if e == nil || e.ID == "" {
		return nil, fmt.Errorf("entity id must not be empty")
	}
	c := e.Clone()
	c.Normalize()
	doc, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal entity %q: %w", e.ID, err)
	}
	return doc, nil
}

func decodeEntity(doc []byte) (*entity.Entity, error) {
	var e entity.Entity
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal entity: %w", err)
	}
	return &e, nil
}
