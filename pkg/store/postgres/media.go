package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/harrowgate/turnengine/pkg/types"
)

type mediaRepo struct {
	db db
}

func (r *mediaRepo) Create(ctx context.Context, m *types.MediaRef) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO media_refs (id, campaign_id, room_id, player_id, kind, uri, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, m.ID, m.CampaignID, m.RoomID, m.PlayerID, m.Kind, m.URI,
		jsonOrEmptyObject(m.Metadata)).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create media ref: %w", err)
	}
	return nil
}
