// Package postgres is the reference PostgreSQL implementation of
// pkg/store's repository and unit-of-work contracts: a narrow DB interface
// satisfied by both *pgxpool.Pool and pgx.Tx, JSONB for opaque blobs, and
// pgvector for the embeddings column.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL for the turn-resolution engine. It is idempotent
// (CREATE TABLE/INDEX IF NOT EXISTS) and safe to run on every process start;
// Migrate is the sole source of schema truth (see SPEC_FULL.md §6); NewStore
// runs it before returning a Store.
const Schema = `
CREATE TABLE IF NOT EXISTS actors (
    id           TEXT        PRIMARY KEY,
    display_name TEXT        NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
    id                        TEXT        PRIMARY KEY,
    namespace                 TEXT        NOT NULL,
    name                      TEXT        NOT NULL,
    name_normalized           TEXT        NOT NULL,
    summary                   TEXT        NOT NULL DEFAULT '',
    state_json                JSONB       NOT NULL DEFAULT '{}',
    characters_json           JSONB       NOT NULL DEFAULT '{}',
    last_narration            TEXT        NOT NULL DEFAULT '',
    memory_visible_max_turn_id BIGINT     NOT NULL DEFAULT 0,
    row_version               BIGINT      NOT NULL DEFAULT 1,
    created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (namespace, name_normalized)
);

CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT        PRIMARY KEY,
    campaign_id TEXT        NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    surface_key TEXT        NOT NULL UNIQUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS players (
    id            TEXT        PRIMARY KEY,
    campaign_id   TEXT        NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    actor_id      TEXT        NOT NULL REFERENCES actors(id),
    level         INTEGER     NOT NULL DEFAULT 1,
    xp            BIGINT      NOT NULL DEFAULT 0,
    attributes_json JSONB     NOT NULL DEFAULT '{}',
    state_json    JSONB       NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (campaign_id, actor_id)
);

CREATE TABLE IF NOT EXISTS turns (
    turn_id                  BIGSERIAL   PRIMARY KEY,
    campaign_id              TEXT        NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    actor_id                  TEXT        NOT NULL DEFAULT '',
    kind                       TEXT        NOT NULL,
    content                    TEXT        NOT NULL DEFAULT '',
    external_message_id        TEXT        NOT NULL DEFAULT '',
    external_user_message_id   TEXT        NOT NULL DEFAULT '',
    created_at                 TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_turns_campaign_turn_desc
    ON turns (campaign_id, turn_id DESC);
CREATE INDEX IF NOT EXISTS idx_turns_campaign_external_message
    ON turns (campaign_id, external_message_id);
CREATE INDEX IF NOT EXISTS idx_turns_campaign_external_user_message
    ON turns (campaign_id, external_user_message_id);

CREATE TABLE IF NOT EXISTS snapshots (
    turn_id         BIGINT      PRIMARY KEY REFERENCES turns(turn_id) ON DELETE CASCADE,
    campaign_id     TEXT        NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    campaign_state  JSONB       NOT NULL DEFAULT '{}',
    characters_json JSONB       NOT NULL DEFAULT '{}',
    summary         TEXT        NOT NULL DEFAULT '',
    last_narration  TEXT        NOT NULL DEFAULT '',
    players_json    JSONB       NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_campaign_turn_desc
    ON snapshots (campaign_id, turn_id DESC);

CREATE TABLE IF NOT EXISTS timers (
    id               TEXT        PRIMARY KEY,
    campaign_id      TEXT        NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    status           TEXT        NOT NULL CHECK (status IN (
                          'scheduled_unbound','scheduled_bound','cancelled','expired','consumed')),
    event_text       TEXT        NOT NULL DEFAULT '',
    interruptible    BOOLEAN     NOT NULL DEFAULT false,
    interrupt_action TEXT        NOT NULL DEFAULT '',
    due_at           TIMESTAMPTZ NOT NULL,
    message_id       TEXT        NOT NULL DEFAULT '',
    channel_id       TEXT        NOT NULL DEFAULT '',
    thread_id        TEXT        NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_timers_one_active_per_campaign
    ON timers (campaign_id)
    WHERE status IN ('scheduled_unbound','scheduled_bound');
CREATE INDEX IF NOT EXISTS idx_timers_campaign_status_due
    ON timers (campaign_id, status, due_at);

CREATE TABLE IF NOT EXISTS inflight_turns (
    campaign_id   TEXT        NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    actor_id      TEXT        NOT NULL,
    claim_token   TEXT        NOT NULL,
    claimed_at    TIMESTAMPTZ NOT NULL,
    heartbeat_at  TIMESTAMPTZ NOT NULL,
    expires_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (campaign_id, actor_id)
);

CREATE INDEX IF NOT EXISTS idx_inflight_expires_at ON inflight_turns (expires_at);

CREATE TABLE IF NOT EXISTS media_refs (
    id          TEXT        PRIMARY KEY,
    campaign_id TEXT        NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    room_id     TEXT        NOT NULL DEFAULT '',
    player_id   TEXT        NOT NULL DEFAULT '',
    kind        TEXT        NOT NULL DEFAULT '',
    uri         TEXT        NOT NULL DEFAULT '',
    metadata_json JSONB     NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_media_refs_campaign ON media_refs (campaign_id);

CREATE TABLE IF NOT EXISTS outbox_events (
    id               BIGSERIAL   PRIMARY KEY,
    campaign_id      TEXT        NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    session_scope    TEXT        NOT NULL DEFAULT '_none',
    event_type       TEXT        NOT NULL,
    idempotency_key  TEXT        NOT NULL,
    payload_json     JSONB       NOT NULL DEFAULT '{}',
    status           TEXT        NOT NULL DEFAULT 'pending',
    attempts         INTEGER     NOT NULL DEFAULT 0,
    next_attempt_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (campaign_id, session_scope, event_type, idempotency_key)
);

CREATE INDEX IF NOT EXISTS idx_outbox_status_next_attempt
    ON outbox_events (status, next_attempt_at, created_at);
`

// ddlEmbeddings returns the embeddings table DDL with the pgvector dimension
// baked in at creation time, matching the L2 semantic index's own pattern of
// parameterizing vector(n) by the configured embedding dimensionality.
func ddlEmbeddings(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS embeddings (
    id          TEXT        PRIMARY KEY,
    campaign_id TEXT        NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    turn_id     BIGINT      NOT NULL REFERENCES turns(turn_id) ON DELETE CASCADE,
    vector      vector(%d),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_embeddings_campaign ON embeddings (campaign_id);
`, dimensions)
}

// Migrate creates or ensures every required table, index, and extension
// exists. embeddingDimensions must match the vector model configured for the
// deployment; changing it after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		embeddingDimensions = 1536
	}
	for _, stmt := range []string{Schema, ddlEmbeddings(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
