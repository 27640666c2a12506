// Command turnengine is the entry point for the turn-resolution server.
//
// # File Index
//
//   - main.go       - entry point, rootCmd, global --config flag
//   - cmd_serve.go  - serve subcommand: HTTP admin surface + outbox drain worker
//   - cmd_migrate.go - migrate subcommand: applies the PostgreSQL schema
//   - cmd_resolve.go - resolve subcommand: runs one resolve_turn call for scripting/debugging
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "turnengine",
	Short: "Turn-resolution engine for a persistent multi-actor text adventure",
	Long: `turnengine resolves actions into narration for a persistent, multi-actor
text adventure: inflight-lease management, campaign CAS fencing, timer
scheduling, rewind/snapshot, and outbox dispatch, all driven from a single
PostgreSQL-backed store.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(resolveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
