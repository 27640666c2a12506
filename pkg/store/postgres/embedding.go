package postgres

import (
	"context"
	"fmt"

	pgxvec "github.com/pgvector/pgvector-go"

	"github.com/harrowgate/turnengine/pkg/types"
)

type embeddingRepo struct {
	db db
}

func (r *embeddingRepo) Upsert(ctx context.Context, e *types.Embedding) error {
	const query = `
		INSERT INTO embeddings (id, campaign_id, turn_id, vector)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET vector = EXCLUDED.vector
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, e.ID, e.CampaignID, e.TurnID, pgxvec.NewVector(e.Vector)).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert embedding for turn %d: %w", e.TurnID, err)
	}
	return nil
}

func (r *embeddingRepo) DeleteAfter(ctx context.Context, campaignID string, targetTurnID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM embeddings WHERE campaign_id = $1 AND turn_id > $2`, campaignID, targetTurnID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete embeddings after %d: %w", targetTurnID, err)
	}
	return tag.RowsAffected(), nil
}
