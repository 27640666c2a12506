package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harrowgate/turnengine/pkg/turnerr"
	"github.com/harrowgate/turnengine/pkg/types"
)

type timerRepo struct {
	db db
}

func (r *timerRepo) GetActive(ctx context.Context, campaignID string) (*types.Timer, error) {
	const query = `
		SELECT id, campaign_id, status, event_text, interruptible, interrupt_action, due_at,
		       message_id, channel_id, thread_id, created_at, updated_at
		FROM timers WHERE campaign_id = $1 AND status IN ('scheduled_unbound','scheduled_bound')`

	t, err := scanTimer(r.db.QueryRow(ctx, query, campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get active timer: %w", err)
	}
	return t, nil
}

// ScheduleUnbound cancels the campaign's existing active timer (if any) and
// inserts a new scheduled_unbound row. Both statements run against the same
// db handle; when invoked inside a Phase-C Scope they are part of that
// single transaction, satisfying spec.md §4.4's "within the same
// transaction" requirement.
func (r *timerRepo) ScheduleUnbound(ctx context.Context, campaignID, eventText string, interruptible bool, interruptAction string, dueAt time.Time) (*types.Timer, error) {
	if err := r.cancelActive(ctx, campaignID); err != nil {
		return nil, err
	}

	const insertQuery = `
		INSERT INTO timers (id, campaign_id, status, event_text, interruptible, interrupt_action, due_at)
		VALUES ($1, $2, 'scheduled_unbound', $3, $4, $5, $6)
		RETURNING id, campaign_id, status, event_text, interruptible, interrupt_action, due_at,
		          message_id, channel_id, thread_id, created_at, updated_at`

	t, err := scanTimer(r.db.QueryRow(ctx, insertQuery, uuid.NewString(), campaignID, eventText, interruptible, interruptAction, dueAt))
	if err != nil {
		return nil, fmt.Errorf("postgres: schedule timer: %w", err)
	}
	return t, nil
}

func (r *timerRepo) Bind(ctx context.Context, campaignID, messageID, channelID, threadID string) (*types.Timer, error) {
	const updateQuery = `
		UPDATE timers SET status = 'scheduled_bound', message_id = $2, channel_id = $3, thread_id = $4, updated_at = now()
		WHERE campaign_id = $1 AND status = 'scheduled_unbound'
		RETURNING id, campaign_id, status, event_text, interruptible, interrupt_action, due_at,
		          message_id, channel_id, thread_id, created_at, updated_at`

	t, err := scanTimer(r.db.QueryRow(ctx, updateQuery, campaignID, messageID, channelID, threadID))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: bind timer: %w", err)
	}

	// No scheduled_unbound row affected: either already bound (idempotent
	// no-op — return the current active row) or no active timer at all.
	active, getErr := r.GetActive(ctx, campaignID)
	if getErr != nil {
		return nil, getErr
	}
	if active == nil {
		return nil, fmt.Errorf("postgres: bind timer: no active timer for campaign %q: %w", campaignID, turnerr.ErrNotFound)
	}
	return active, nil
}

func (r *timerRepo) Cancel(ctx context.Context, campaignID string) error {
	return r.cancelActive(ctx, campaignID)
}

func (r *timerRepo) cancelActive(ctx context.Context, campaignID string) error {
	const query = `
		UPDATE timers SET status = 'cancelled', updated_at = now()
		WHERE campaign_id = $1 AND status IN ('scheduled_unbound','scheduled_bound')`

	if _, err := r.db.Exec(ctx, query, campaignID); err != nil {
		return fmt.Errorf("postgres: cancel timer: %w", err)
	}
	return nil
}

func (r *timerRepo) ExpireDue(ctx context.Context, asOf time.Time) ([]types.Timer, error) {
	const query = `
		UPDATE timers SET status = 'expired', updated_at = now()
		WHERE status IN ('scheduled_unbound','scheduled_bound') AND due_at <= $1
		RETURNING id, campaign_id, status, event_text, interruptible, interrupt_action, due_at,
		          message_id, channel_id, thread_id, created_at, updated_at`

	rows, err := r.db.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: expire due timers: %w", err)
	}
	defer rows.Close()

	var out []types.Timer
	for rows.Next() {
		t, err := scanTimerRows(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan expired timer: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: expire due timers: %w", err)
	}
	return out, nil
}

func (r *timerRepo) Consume(ctx context.Context, timerID string) error {
	const query = `UPDATE timers SET status = 'consumed', updated_at = now() WHERE id = $1 AND status = 'expired'`

	tag, err := r.db.Exec(ctx, query, timerID)
	if err != nil {
		return fmt.Errorf("postgres: consume timer %q: %w", timerID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Idempotent: a re-applied consume on an already-consumed timer is a
	// no-op, not an error. Any other state (including a missing row) is not
	// our concern to recover from here — the caller already knows the
	// timer's prior status.
	const checkQuery = `SELECT status FROM timers WHERE id = $1`
	var status string
	if err := r.db.QueryRow(ctx, checkQuery, timerID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: timer %q: %w", timerID, turnerr.ErrNotFound)
		}
		return fmt.Errorf("postgres: consume timer: %w", err)
	}
	if status == string(types.TimerConsumed) {
		return nil
	}
	return fmt.Errorf("postgres: consume timer %q: status is %q, not expired", timerID, status)
}

func scanTimer(row pgx.Row) (*types.Timer, error) {
	var t types.Timer
	var status string
	if err := row.Scan(&t.ID, &t.CampaignID, &status, &t.EventText, &t.Interruptible, &t.InterruptAction,
		&t.DueAt, &t.MessageID, &t.ChannelID, &t.ThreadID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = types.TimerStatus(status)
	return &t, nil
}

func scanTimerRows(rows pgx.Rows) (*types.Timer, error) {
	var t types.Timer
	var status string
	if err := rows.Scan(&t.ID, &t.CampaignID, &status, &t.EventText, &t.Interruptible, &t.InterruptAction,
		&t.DueAt, &t.MessageID, &t.ChannelID, &t.ThreadID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = types.TimerStatus(status)
	return &t, nil
}
