package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/harrowgate/turnengine/pkg/turnerr"
	"github.com/harrowgate/turnengine/pkg/types"
)

type turnRepo struct {
	db db
}

func (r *turnRepo) Append(ctx context.Context, t *types.Turn) (int64, error) {
	const query = `
		INSERT INTO turns (campaign_id, actor_id, kind, content, external_message_id, external_user_message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING turn_id, created_at`

	err := r.db.QueryRow(ctx, query, t.CampaignID, t.ActorID, string(t.Kind), t.Content,
		t.ExternalMessageID, t.ExternalUserMessageID).Scan(&t.TurnID, &t.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("postgres: append turn: %w", err)
	}
	return t.TurnID, nil
}

func (r *turnRepo) RecentByCampaign(ctx context.Context, campaignID string, limit int) ([]types.Turn, error) {
	const query = `
		SELECT turn_id, campaign_id, actor_id, kind, content, external_message_id, external_user_message_id, created_at
		FROM turns WHERE campaign_id = $1 ORDER BY turn_id DESC LIMIT $2`

	rows, err := r.db.Query(ctx, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent turns: %w", err)
	}
	defer rows.Close()

	var out []types.Turn
	for rows.Next() {
		var t types.Turn
		var kind string
		if err := rows.Scan(&t.TurnID, &t.CampaignID, &t.ActorID, &kind, &t.Content,
			&t.ExternalMessageID, &t.ExternalUserMessageID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan turn: %w", err)
		}
		t.Kind = types.TurnKind(kind)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: recent turns: %w", err)
	}
	return out, nil
}

func (r *turnRepo) GetByExternalMessageID(ctx context.Context, campaignID, externalMessageID string) (*types.Turn, error) {
	return r.getByExternalColumn(ctx, "external_message_id", campaignID, externalMessageID)
}

func (r *turnRepo) GetByExternalUserMessageID(ctx context.Context, campaignID, externalUserMessageID string) (*types.Turn, error) {
	return r.getByExternalColumn(ctx, "external_user_message_id", campaignID, externalUserMessageID)
}

func (r *turnRepo) getByExternalColumn(ctx context.Context, column, campaignID, value string) (*types.Turn, error) {
	if value == "" {
		return nil, fmt.Errorf("postgres: lookup turn by %s: %w", column, turnerr.ErrNotFound)
	}
	query := fmt.Sprintf(`
		SELECT turn_id, campaign_id, actor_id, kind, content, external_message_id, external_user_message_id, created_at
		FROM turns WHERE campaign_id = $1 AND %s = $2`, column)

	var t types.Turn
	var kind string
	err := r.db.QueryRow(ctx, query, campaignID, value).Scan(&t.TurnID, &t.CampaignID, &t.ActorID, &kind,
		&t.Content, &t.ExternalMessageID, &t.ExternalUserMessageID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: turn with %s=%q: %w", column, value, turnerr.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: lookup turn: %w", err)
	}
	t.Kind = types.TurnKind(kind)
	return &t, nil
}

func (r *turnRepo) DeleteAfter(ctx context.Context, campaignID string, targetTurnID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM turns WHERE campaign_id = $1 AND turn_id > $2`, campaignID, targetTurnID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete turns after %d: %w", targetTurnID, err)
	}
	return tag.RowsAffected(), nil
}
