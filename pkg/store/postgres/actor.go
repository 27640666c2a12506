package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/harrowgate/turnengine/pkg/turnerr"
	"github.com/harrowgate/turnengine/pkg/types"
)

type actorRepo struct {
	db db
}

func (r *actorRepo) GetOrCreate(ctx context.Context, actorID, displayName string) (*types.Actor, error) {
	const query = `
		INSERT INTO actors (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET id = actors.id
		RETURNING id, display_name, created_at`

	var a types.Actor
	if err := r.db.QueryRow(ctx, query, actorID, displayName).Scan(&a.ID, &a.DisplayName, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("postgres: get or create actor %q: %w", actorID, err)
	}
	return &a, nil
}

func (r *actorRepo) Get(ctx context.Context, actorID string) (*types.Actor, error) {
	const query = `SELECT id, display_name, created_at FROM actors WHERE id = $1`

	var a types.Actor
	err := r.db.QueryRow(ctx, query, actorID).Scan(&a.ID, &a.DisplayName, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("postgres: actor %q: %w", actorID, turnerr.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: get actor: %w", err)
	}
	return &a, nil
}
