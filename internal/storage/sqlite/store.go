// Package sqlite provides a SQLite-backed implementation of [entity.Store]
// and [gamelog.Store] for single-process deployments.
//
// It uses the pure-Go modernc.org/sqlite driver, so no cgo toolchain is
// needed. Entities are stored as JSON documents; timestamps as Unix
// milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/gamelog"
)

//go:embed schema.sql
var schema string

var (
	_ entity.Store  = (*Store)(nil)
	_ gamelog.Store = (*Store)(nil)
)

// Store persists entities and game logs in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database file at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Ping reports whether the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// ── Entities ─────────────────────────────────────────────────────────────────

// Get implements [entity.Store.Get].
func (s *Store) Get(ctx context.Context, gameID, id string) (*entity.Entity, error) {
	var doc sql.NullString
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(
		   (SELECT doc FROM game_entities WHERE game_id = ? AND id = ?),
		   (SELECT doc FROM entity_templates WHERE id = ?)
		 )`,
		gameID, id, id,
	).Scan(&doc)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %q in game %q: %w", id, gameID, err)
	}
	if !doc.Valid {
		return nil, fmt.Errorf("sqlite: get %q in game %q: %w", id, gameID, entity.ErrNotFound)
	}
	return decodeEntity(doc.String)
}

// Save implements [entity.Store.Save].
func (s *Store) Save(ctx context.Context, gameID string, e *entity.Entity) error {
	if strings.TrimSpace(gameID) == "" {
		return fmt.Errorf("sqlite: save: game id is required")
	}
	doc, err := encodeEntity(e)
	if err != nil {
		return fmt.Errorf("sqlite: save: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO game_entities (game_id, id, kind, doc, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (game_id, id) DO UPDATE SET
		   kind = excluded.kind,
		   doc = excluded.doc,
		   updated_at = excluded.updated_at`,
		gameID, e.ID, string(e.Kind), doc, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save %q in game %q: %w", e.ID, gameID, err)
	}
	return nil
}

// GetTemplate implements [entity.Store.GetTemplate].
func (s *Store) GetTemplate(ctx context.Context, id string) (*entity.Entity, error) {
	var doc string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT doc FROM entity_templates WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: template %q: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: template %q: %w", id, err)
	}
	return decodeEntity(doc)
}

// SaveTemplate implements [entity.Store.SaveTemplate].
func (s *Store) SaveTemplate(ctx context.Context, e *entity.Entity) error {
	doc, err := encodeEntity(e)
	if err != nil {
		return fmt.Errorf("sqlite: save template: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO entity_templates (id, kind, doc, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   kind = excluded.kind,
		   doc = excluded.doc,
		   updated_at = excluded.updated_at`,
		e.ID, string(e.Kind), doc, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save template %q: %w", e.ID, err)
	}
	return nil
}

// ── Game logs ────────────────────────────────────────────────────────────────

// AppendTurn implements [gamelog.Store.AppendTurn].
func (s *Store) AppendTurn(ctx context.Context, t gamelog.Turn) error {
	if strings.TrimSpace(t.GameID) == "" {
		return fmt.Errorf("sqlite: append turn: game id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO game_turns (id, game_id, command, reply, at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.GameID, t.Command, t.Reply, toMillis(t.At),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: append turn: duplicate turn id %q", t.ID)
		}
		return fmt.Errorf("sqlite: append turn: %w", err)
	}
	return nil
}

// Turns implements [gamelog.Store.Turns].
func (s *Store) Turns(ctx context.Context, gameID string) ([]gamelog.Turn, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, game_id, command, reply, at FROM game_turns WHERE game_id = ? ORDER BY seq`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: turns: %w", err)
	}
	defer rows.Close()

	turns := []gamelog.Turn{}
	for rows.Next() {
		var (
			t  gamelog.Turn
			at int64
		)
		if err := rows.Scan(&t.ID, &t.GameID, &t.Command, &t.Reply, &at); err != nil {
			return nil, fmt.Errorf("sqlite: turns: scan: %w", err)
		}
		t.At = fromMillis(at)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: turns: %w", err)
	}
	return turns, nil
}

// AppendEvent implements [gamelog.Store.AppendEvent].
func (s *Store) AppendEvent(ctx context.Context, e gamelog.Event) error {
	if strings.TrimSpace(e.GameID) == "" {
		return fmt.Errorf("sqlite: append event: game id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO game_events (id, game_id, label, kind, body, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.GameID, e.Label, string(e.Kind), e.Body, toMillis(e.At),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append event: %w", err)
	}
	return nil
}

// Events implements [gamelog.Store.Events].
func (s *Store) Events(ctx context.Context, gameID string, limit int) ([]gamelog.Event, error) {
	limit, err := gamelog.ValidateCount(limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, game_id, label, kind, body, at FROM (
		   SELECT seq, id, game_id, label, kind, body, at
		   FROM game_events
		   WHERE game_id = ?
		   ORDER BY seq DESC
		   LIMIT ?
		 ) ORDER BY seq`,
		gameID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: events: %w", err)
	}
	defer rows.Close()

	events := []gamelog.Event{}
	for rows.Next() {
		var (
			e    gamelog.Event
			kind string
			at   int64
		)
		if err := rows.Scan(&e.ID, &e.GameID, &e.Label, &kind, &e.Body, &at); err != nil {
			return nil, fmt.Errorf("sqlite: events: scan: %w", err)
		}
		e.Kind = gamelog.Kind(kind)
		e.At = fromMillis(at)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: events: %w", err)
	}
	return events, nil
}

// DeleteGame removes the game's entity copies and both logs in one
// transaction.
func (s *Store) DeleteGame(ctx context.Context, gameID string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: delete game %q: begin: %w", gameID, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM game_entities WHERE game_id = ?`,
		`DELETE FROM game_turns WHERE game_id = ?`,
		`DELETE FROM game_events WHERE game_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, gameID); err != nil {
			return fmt.Errorf("sqlite: delete game %q: %w", gameID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: delete game %q: commit: %w", gameID, err)
	}
	return nil
}

func encodeEntity(e *entity.Entity) (string, error) {
	if e == nil || strings.TrimSpace(e.ID) == "" {
		return "", fmt.Errorf("entity id is required")
	}
	c := e.Clone()
	c.Normalize()
	doc, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal entity %q: %w", e.ID, err)
	}
	return string(doc), nil
}

func decodeEntity(doc string) (*entity.Entity, error) {
	var e entity.Entity
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal entity: %w", err)
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
