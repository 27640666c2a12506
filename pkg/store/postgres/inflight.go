package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/harrowgate/turnengine/pkg/turnerr"
	"github.com/harrowgate/turnengine/pkg/types"
)

type inflightRepo struct {
	db db
}

func (r *inflightRepo) Insert(ctx context.Context, campaignID, actorID, claimToken string, claimedAt, expiresAt time.Time) error {
	const query = `
		INSERT INTO inflight_turns (campaign_id, actor_id, claim_token, claimed_at, heartbeat_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query, campaignID, actorID, claimToken, claimedAt, claimedAt, expiresAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("postgres: lease for (%s,%s): %w", campaignID, actorID, turnerr.ErrLeaseHeld)
		}
		return fmt.Errorf("postgres: insert lease: %w", err)
	}
	return nil
}

func (r *inflightRepo) Get(ctx context.Context, campaignID, actorID string) (*types.InflightTurn, error) {
	const query = `
		SELECT campaign_id, actor_id, claim_token, claimed_at, heartbeat_at, expires_at
		FROM inflight_turns WHERE campaign_id = $1 AND actor_id = $2`

	var t types.InflightTurn
	err := r.db.QueryRow(ctx, query, campaignID, actorID).Scan(
		&t.CampaignID, &t.ActorID, &t.ClaimToken, &t.ClaimedAt, &t.HeartbeatAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: lease for (%s,%s): %w", campaignID, actorID, turnerr.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get lease: %w", err)
	}
	return &t, nil
}

// Steal overwrites the existing row only if its expires_at has already
// elapsed at now, so a racing steal attempt from a second caller finds zero
// rows affected and reports false.
func (r *inflightRepo) Steal(ctx context.Context, campaignID, actorID, newToken string, claimedAt, expiresAt, now time.Time) (bool, error) {
	const query = `
		UPDATE inflight_turns
		SET claim_token = $3, claimed_at = $4, heartbeat_at = $4, expires_at = $5
		WHERE campaign_id = $1 AND actor_id = $2 AND expires_at <= $6`

	tag, err := r.db.Exec(ctx, query, campaignID, actorID, newToken, claimedAt, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("postgres: steal lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *inflightRepo) Heartbeat(ctx context.Context, campaignID, actorID, claimToken string, heartbeatAt, expiresAt time.Time) (bool, error) {
	const query = `
		UPDATE inflight_turns SET heartbeat_at = $4, expires_at = $5
		WHERE campaign_id = $1 AND actor_id = $2 AND claim_token = $3`

	tag, err := r.db.Exec(ctx, query, campaignID, actorID, claimToken, heartbeatAt, expiresAt)
	if err != nil {
		return false, fmt.Errorf("postgres: heartbeat lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *inflightRepo) ExistsValid(ctx context.Context, campaignID, actorID, claimToken string) (bool, error) {
	const query = `SELECT 1 FROM inflight_turns WHERE campaign_id = $1 AND actor_id = $2 AND claim_token = $3`

	var one int
	err := r.db.QueryRow(ctx, query, campaignID, actorID, claimToken).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: check lease validity: %w", err)
	}
	return true, nil
}

func (r *inflightRepo) Release(ctx context.Context, campaignID, actorID, claimToken string) error {
	const query = `DELETE FROM inflight_turns WHERE campaign_id = $1 AND actor_id = $2 AND claim_token = $3`

	if _, err := r.db.Exec(ctx, query, campaignID, actorID, claimToken); err != nil {
		return fmt.Errorf("postgres: release lease: %w", err)
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
