package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/harrowgate/turnengine/pkg/turnerr"
	"github.com/harrowgate/turnengine/pkg/types"
)

type snapshotRepo struct {
	db db
}

func (r *snapshotRepo) Create(ctx context.Context, s *types.Snapshot) error {
	const query = `
		INSERT INTO snapshots (turn_id, campaign_id, campaign_state, characters_json, summary, last_narration, players_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, s.TurnID, s.CampaignID,
		jsonOrEmptyObject(s.CampaignState), jsonOrEmptyObject(s.Characters), s.Summary, s.LastNarration,
		jsonOrEmptyArray(s.Players)).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create snapshot for turn %d: %w", s.TurnID, err)
	}
	return nil
}

func (r *snapshotRepo) GetByTurnID(ctx context.Context, turnID int64) (*types.Snapshot, error) {
	const query = `
		SELECT turn_id, campaign_id, campaign_state, characters_json, summary, last_narration, players_json, created_at
		FROM snapshots WHERE turn_id = $1`

	var s types.Snapshot
	err := r.db.QueryRow(ctx, query, turnID).Scan(&s.TurnID, &s.CampaignID, &s.CampaignState,
		&s.Characters, &s.Summary, &s.LastNarration, &s.Players, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: snapshot for turn %d: %w", turnID, turnerr.ErrNoSnapshot)
		}
		return nil, fmt.Errorf("postgres: get snapshot: %w", err)
	}
	return &s, nil
}

func (r *snapshotRepo) DeleteAfter(ctx context.Context, campaignID string, targetTurnID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM snapshots WHERE campaign_id = $1 AND turn_id > $2`, campaignID, targetTurnID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots after %d: %w", targetTurnID, err)
	}
	return tag.RowsAffected(), nil
}
