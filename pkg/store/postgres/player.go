package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harrowgate/turnengine/pkg/turnerr"
	"github.com/harrowgate/turnengine/pkg/types"
)

type playerRepo struct {
	db db
}

func (r *playerRepo) GetOrCreate(ctx context.Context, campaignID, actorID string) (*types.Player, error) {
	const selectQuery = `
		SELECT id, campaign_id, actor_id, level, xp, attributes_json, state_json, created_at, updated_at
		FROM players WHERE campaign_id = $1 AND actor_id = $2`

	p, err := scanPlayer(r.db.QueryRow(ctx, selectQuery, campaignID, actorID))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get player: %w", err)
	}

	const insertQuery = `
		INSERT INTO players (id, campaign_id, actor_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_id, actor_id) DO UPDATE SET campaign_id = players.campaign_id
		RETURNING id, campaign_id, actor_id, level, xp, attributes_json, state_json, created_at, updated_at`

	p, err = scanPlayer(r.db.QueryRow(ctx, insertQuery, uuid.NewString(), campaignID, actorID))
	if err != nil {
		return nil, fmt.Errorf("postgres: create player: %w", err)
	}
	return p, nil
}

func (r *playerRepo) Get(ctx context.Context, campaignID, actorID string) (*types.Player, error) {
	const query = `
		SELECT id, campaign_id, actor_id, level, xp, attributes_json, state_json, created_at, updated_at
		FROM players WHERE campaign_id = $1 AND actor_id = $2`

	p, err := scanPlayer(r.db.QueryRow(ctx, query, campaignID, actorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: player (%s,%s): %w", campaignID, actorID, turnerr.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get player: %w", err)
	}
	return p, nil
}

func (r *playerRepo) Update(ctx context.Context, p *types.Player) error {
	const query = `
		UPDATE players SET level = $2, xp = $3, attributes_json = $4, state_json = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, p.ID, p.Level, p.XP,
		jsonOrEmptyObject(p.Attributes), jsonOrEmptyObject(p.State)).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: player %q: %w", p.ID, turnerr.ErrNotFound)
		}
		return fmt.Errorf("postgres: update player: %w", err)
	}
	return nil
}

func scanPlayer(row pgx.Row) (*types.Player, error) {
	var p types.Player
	if err := row.Scan(&p.ID, &p.CampaignID, &p.ActorID, &p.Level, &p.XP, &p.Attributes, &p.State, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
