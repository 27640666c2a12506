package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harrowgate/turnengine/internal/config"
	"github.com/harrowgate/turnengine/pkg/clock"
	"github.com/harrowgate/turnengine/pkg/engine"
	"github.com/harrowgate/turnengine/pkg/ports/stub"
	"github.com/harrowgate/turnengine/pkg/store/postgres"
)

func durationFromSeconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// buildEngine opens a store connection and a completion provider from cfg and
// assembles an Engine around them. Callers own the returned store's lifetime
// and must Close it.
func buildEngine(ctx context.Context, cfg *config.Config, log *slog.Logger) (*engine.Engine, *postgres.Store, error) {
	store, err := postgres.NewStore(ctx, cfg.Database.PostgresDSN, defaultEmbeddingDimensions)
	if err != nil {
		return nil, nil, fmt.Errorf("connect store: %w", err)
	}

	reg := config.NewRegistry()
	completion, err := reg.CreateCompletion(cfg.Completion)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("build completion provider %q: %w", cfg.Completion.Name, err)
	}

	eng := engine.New(store, clock.Real{}, completion, &stub.ActorResolver{}, engine.Config{
		LeaseTTL:           durationFromSeconds(cfg.Engine.LeaseTTLSeconds),
		MaxConflictRetries: cfg.Engine.MaxConflictRetries,
		RecentTurnsLimit:   cfg.Engine.RecentTurnsLimit,
	}, log)

	return eng, store, nil
}
