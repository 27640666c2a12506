package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrowgate/turnengine/internal/config"
	"github.com/harrowgate/turnengine/pkg/engine"
)

var resolveFlags struct {
	namespace string
	campaign  string
	actorID   string
	actorName string
	action    string
	surface   string
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run a single resolve_turn call against a configured store, for scripting and debugging",
	RunE: func(cmd *cobra.Command, args []string) error {
		if resolveFlags.action == "" {
			return fmt.Errorf("--action is required")
		}
		if resolveFlags.campaign == "" {
			return fmt.Errorf("--campaign is required")
		}
		if resolveFlags.actorID == "" {
			return fmt.Errorf("--actor-id is required")
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, _ := newLogger(cfg.Server.LogLevel)
		ctx := cmd.Context()

		eng, store, err := buildEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := eng.ResolveTurn(ctx, engine.ResolveTurnInput{
			Namespace:      resolveFlags.namespace,
			CampaignName:   resolveFlags.campaign,
			ActorID:        resolveFlags.actorID,
			ActorName:      resolveFlags.actorName,
			ActionText:     resolveFlags.action,
			SessionSurface: resolveFlags.surface,
		})
		if err != nil {
			return fmt.Errorf("resolve turn: %w", err)
		}

		slog.Info("turn resolved", "turn_id", result.NarrationTurnID, "row_version", result.RowVersionNew, "events", len(result.EmittedEvents))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFlags.namespace, "namespace", "default", "campaign namespace")
	resolveCmd.Flags().StringVar(&resolveFlags.campaign, "campaign", "", "campaign name (required)")
	resolveCmd.Flags().StringVar(&resolveFlags.actorID, "actor-id", "", "acting actor id (required)")
	resolveCmd.Flags().StringVar(&resolveFlags.actorName, "actor-name", "", "acting actor display name")
	resolveCmd.Flags().StringVar(&resolveFlags.action, "action", "", "action text to resolve (required)")
	resolveCmd.Flags().StringVar(&resolveFlags.surface, "surface", "", "external session surface key, if any")
}
