// Package postgres provides PostgreSQL-backed implementations of
// [entity.Store] and [gamelog.Store].
//
// Entities are stored as JSONB documents, one row per template and one row
// per game copy. Turn and event logs are append-only tables ordered by a
// BIGSERIAL sequence column.
//
// Usage:
//
//	store, err := postgres.Open(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveTemplate(ctx, torch)
//	_ = store.AppendTurn(ctx, turn)
package postgres

import (
	"context"
	"fmt"
)

// Schema is the SQL DDL for all tables used by [Store]. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS entity_templates (
    id          TEXT        PRIMARY KEY,
    kind        TEXT        NOT NULL,
    doc         JSONB       NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS game_entities (
    game_id     TEXT        NOT NULL,
    id          TEXT        NOT NULL,
    kind        TEXT        NOT NULL,
    doc         JSONB       NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (game_id, id)
);

CREATE TABLE IF NOT EXISTS game_turns (
    seq      BIGSERIAL   PRIMARY KEY,
    id       TEXT        NOT NULL UNIQUE,
    game_id  TEXT        NOT NULL,
    command  TEXT        NOT NULL,
    reply    TEXT        NOT NULL DEFAULT '',
    at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_game_turns_game_seq
    ON game_turns (game_id, seq);

CREATE TABLE IF NOT EXISTS game_events (
    seq      BIGSERIAL   PRIMARY KEY,
    id       TEXT        NOT NULL UNIQUE,
    game_id  TEXT        NOT NULL,
    label    TEXT        NOT NULL,
    kind     TEXT        NOT NULL,
    body     TEXT        NOT NULL DEFAULT '',
    at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_game_events_game_seq
    ON game_events (game_id, seq);
`

// Migrate executes [Schema] against the database. All statements are
// idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
