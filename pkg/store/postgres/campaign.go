package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/harrowgate/turnengine/pkg/store"
	"github.com/harrowgate/turnengine/pkg/turnerr"
	"github.com/harrowgate/turnengine/pkg/types"
)

type campaignRepo struct {
	db db
}

func (r *campaignRepo) GetOrCreate(ctx context.Context, namespace, name, nameNormalized string) (*types.Campaign, error) {
	const selectQuery = `
		SELECT id, namespace, name, name_normalized, summary, state_json, characters_json,
		       last_narration, memory_visible_max_turn_id, row_version, created_at, updated_at
		FROM campaigns WHERE namespace = $1 AND name_normalized = $2`

	c, err := scanCampaign(r.db.QueryRow(ctx, selectQuery, namespace, nameNormalized))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get campaign: %w", err)
	}

	const insertQuery = `
		INSERT INTO campaigns (id, namespace, name, name_normalized)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, name_normalized) DO UPDATE SET namespace = campaigns.namespace
		RETURNING id, namespace, name, name_normalized, summary, state_json, characters_json,
		          last_narration, memory_visible_max_turn_id, row_version, created_at, updated_at`

	c, err = scanCampaign(r.db.QueryRow(ctx, insertQuery, uuid.NewString(), namespace, name, nameNormalized))
	if err != nil {
		return nil, fmt.Errorf("postgres: create campaign: %w", err)
	}
	return c, nil
}

func (r *campaignRepo) GetByID(ctx context.Context, id string) (*types.Campaign, error) {
	const query = `
		SELECT id, namespace, name, name_normalized, summary, state_json, characters_json,
		       last_narration, memory_visible_max_turn_id, row_version, created_at, updated_at
		FROM campaigns WHERE id = $1`

	c, err := scanCampaign(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: campaign %q: %w", id, turnerr.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get campaign: %w", err)
	}
	return c, nil
}

func (r *campaignRepo) CompareAndSwap(ctx context.Context, id string, expectedRowVersion int64, update store.CampaignUpdate) (*types.Campaign, error) {
	const query = `
		UPDATE campaigns SET
			state_json = $3, characters_json = $4, summary = $5, last_narration = $6,
			row_version = row_version + 1, updated_at = now()
		WHERE id = $1 AND row_version = $2
		RETURNING id, namespace, name, name_normalized, summary, state_json, characters_json,
		          last_narration, memory_visible_max_turn_id, row_version, created_at, updated_at`

	c, err := scanCampaign(r.db.QueryRow(ctx, query, id, expectedRowVersion,
		jsonOrEmptyObject(update.State), jsonOrEmptyObject(update.Characters), update.Summary, update.LastNarration))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: campaign %q at row_version %d: %w", id, expectedRowVersion, turnerr.ErrCASConflict)
		}
		return nil, fmt.Errorf("postgres: cas campaign: %w", err)
	}
	return c, nil
}

func (r *campaignRepo) SetMemoryWatermarkAndBumpVersion(ctx context.Context, id string, maxTurnID int64) (*types.Campaign, error) {
	const query = `
		UPDATE campaigns SET
			memory_visible_max_turn_id = $2, row_version = row_version + 1, updated_at = now()
		WHERE id = $1
		RETURNING id, namespace, name, name_normalized, summary, state_json, characters_json,
		          last_narration, memory_visible_max_turn_id, row_version, created_at, updated_at`

	c, err := scanCampaign(r.db.QueryRow(ctx, query, id, maxTurnID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: campaign %q: %w", id, turnerr.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: set watermark: %w", err)
	}
	return c, nil
}

func (r *campaignRepo) Restore(ctx context.Context, id string, update store.CampaignUpdate) error {
	const query = `
		UPDATE campaigns SET
			state_json = $2, characters_json = $3, summary = $4, last_narration = $5, updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id,
		jsonOrEmptyObject(update.State), jsonOrEmptyObject(update.Characters), update.Summary, update.LastNarration)
	if err != nil {
		return fmt.Errorf("postgres: restore campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: campaign %q: %w", id, turnerr.ErrNotFound)
	}
	return nil
}

func (r *campaignRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete campaign %q: %w", id, err)
	}
	return nil
}

func scanCampaign(row pgx.Row) (*types.Campaign, error) {
	var c types.Campaign
	if err := row.Scan(
		&c.ID, &c.Namespace, &c.Name, &c.NameNormalized, &c.Summary, &c.State, &c.Characters,
		&c.LastNarration, &c.MemoryVisibleMaxTurnID, &c.RowVersion, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func jsonOrEmptyObject(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

func jsonOrEmptyArray(b []byte) []byte {
	if len(b) == 0 {
		return []byte("[]")
	}
	return b
}
