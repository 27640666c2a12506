package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/harrowgate/turnengine/pkg/types"
)

type outboxRepo struct {
	db db
}

func (r *outboxRepo) Append(ctx context.Context, ev *types.OutboxEvent) error {
	sessionScope := ev.SessionScope
	if sessionScope == "" {
		sessionScope = "_none"
	}

	const query = `
		INSERT INTO outbox_events (campaign_id, session_scope, event_type, idempotency_key, payload_json)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (campaign_id, session_scope, event_type, idempotency_key) DO NOTHING
		RETURNING id, session_scope, status, attempts, next_attempt_at, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, ev.CampaignID, sessionScope, ev.EventType, ev.IdempotencyKey,
		jsonOrEmptyObject(ev.Payload)).Scan(&ev.ID, &ev.SessionScope, &ev.Status, &ev.Attempts,
		&ev.NextAttemptAt, &ev.CreatedAt, &ev.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: append outbox event: %w", err)
	}

	// ON CONFLICT DO NOTHING skipped the RETURNING row: this exact
	// idempotency key was already appended by a prior attempt. Load that
	// row so the caller observes consistent identifiers either way.
	const existingQuery = `
		SELECT id, session_scope, status, attempts, next_attempt_at, created_at, updated_at
		FROM outbox_events WHERE campaign_id = $1 AND session_scope = $2 AND event_type = $3 AND idempotency_key = $4`

	err = r.db.QueryRow(ctx, existingQuery, ev.CampaignID, sessionScope, ev.EventType, ev.IdempotencyKey).
		Scan(&ev.ID, &ev.SessionScope, &ev.Status, &ev.Attempts, &ev.NextAttemptAt, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: load existing outbox event: %w", err)
	}
	return nil
}

// LeaseBatch uses FOR UPDATE SKIP LOCKED so concurrent drain workers divide a
// pending backlog without blocking on each other's row locks.
func (r *outboxRepo) LeaseBatch(ctx context.Context, limit int) ([]types.OutboxEvent, error) {
	const query = `
		SELECT id, campaign_id, session_scope, event_type, idempotency_key, payload_json, status,
		       attempts, next_attempt_at, created_at, updated_at
		FROM outbox_events
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: lease outbox batch: %w", err)
	}
	defer rows.Close()

	var out []types.OutboxEvent
	for rows.Next() {
		var ev types.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.CampaignID, &ev.SessionScope, &ev.EventType, &ev.IdempotencyKey,
			&ev.Payload, &ev.Status, &ev.Attempts, &ev.NextAttemptAt, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan outbox event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: lease outbox batch: %w", err)
	}
	return out, nil
}

func (r *outboxRepo) MarkSent(ctx context.Context, id int64) error {
	const query = `UPDATE outbox_events SET status = 'sent', updated_at = now() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("postgres: mark outbox event %d sent: %w", id, err)
	}
	return nil
}

// MarkFailed increments attempts and schedules the next retry at now+backoff,
// leaving status as pending so LeaseBatch picks it up again once due.
func (r *outboxRepo) MarkFailed(ctx context.Context, id int64, backoff time.Duration) error {
	const query = `
		UPDATE outbox_events
		SET attempts = attempts + 1, next_attempt_at = now() + make_interval(secs => $2), updated_at = now()
		WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id, backoff.Seconds()); err != nil {
		return fmt.Errorf("postgres: mark outbox event %d failed: %w", id, err)
	}
	return nil
}
