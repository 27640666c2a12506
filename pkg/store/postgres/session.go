package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/harrowgate/turnengine/pkg/types"
)

type sessionRepo struct {
	db db
}

func (r *sessionRepo) GetOrCreate(ctx context.Context, campaignID, surfaceKey string) (*types.Session, error) {
	const query = `
		INSERT INTO sessions (id, campaign_id, surface_key) VALUES ($1, $2, $3)
		ON CONFLICT (surface_key) DO UPDATE SET surface_key = sessions.surface_key
		RETURNING id, campaign_id, surface_key, created_at`

	var s types.Session
	err := r.db.QueryRow(ctx, query, uuid.NewString(), campaignID, surfaceKey).
		Scan(&s.ID, &s.CampaignID, &s.SurfaceKey, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: get or create session %q: %w", surfaceKey, err)
	}
	return &s, nil
}
