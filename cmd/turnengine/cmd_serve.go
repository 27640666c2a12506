package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/harrowgate/turnengine/internal/config"
	"github.com/harrowgate/turnengine/internal/httpapi"
	"github.com/harrowgate/turnengine/internal/observe"
	"github.com/harrowgate/turnengine/pkg/engine"
	"github.com/harrowgate/turnengine/pkg/outbox"
	"github.com/harrowgate/turnengine/pkg/rewind"
)

// shutdownTimeout bounds how long serve waits for in-flight work to drain on
// SIGINT/SIGTERM before forcing an exit.
const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin/health HTTP surface and the outbox drain worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, logLevel := newLogger(cfg.Server.LogLevel)
		slog.SetDefault(logger)
		slog.Info("turnengine starting", "config", configPath, "listen_addr", cfg.Server.ListenAddr)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownProviders, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName: cfg.Observability.ServiceName,
		})
		if err != nil {
			return fmt.Errorf("init observability providers: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownProviders(shutdownCtx); err != nil {
				slog.Warn("observability shutdown error", "error", err)
			}
		}()

		metrics := observe.DefaultMetrics()

		// serve still needs the engine itself so a config hot reload can call
		// SetConfig on it; resolve_turn is driven by the `resolve` subcommand
		// and by chat-surface integrations, not by this process.
		eng, store, err := buildEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		rewindCtl := rewind.New(store)

		worker := outbox.NewWorker(store, outbox.NopDispatcher{}, outboxWorkerConfig(cfg.Outbox), logger)

		watcher, err := config.NewWatcher(configPath, func(old, newCfg *config.Config) {
			applyConfigDiff(eng, worker, logLevel, config.Diff(old, newCfg))
		})
		if err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		defer watcher.Stop()

		admin := httpapi.New(rewindCtl, metrics,
			httpapi.WithLogger(logger),
			httpapi.WithChecker(httpapi.Checker{
				Name: "database",
				Check: func(ctx context.Context) error {
					return store.Pool().Ping(ctx)
				},
			}),
		)

		adminSrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: admin.Router()}

		var metricsSrv *http.Server
		if cfg.Observability.MetricsAddr != "" {
			metricsSrv = &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: promhttp.Handler()}
		}

		errCh := make(chan error, 3)
		go func() { errCh <- worker.Run(ctx) }()
		go func() { errCh <- runServer(adminSrv, "admin") }()
		if metricsSrv != nil {
			go func() { errCh <- runServer(metricsSrv, "metrics") }()
		}

		slog.Info("turnengine ready")
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}

		slog.Info("goodbye")
		return nil
	},
}

func runServer(srv *http.Server, name string) error {
	slog.Info("http server listening", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// newLogger builds the slog logger used for the lifetime of the process.
// The returned *slog.LevelVar lets the config watcher adjust verbosity
// without tearing down and rebuilding the handler.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	var lvl slog.LevelVar
	lvl.Set(slogLevel(level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &lvl}))
	return logger, &lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func outboxWorkerConfig(cfg config.OutboxConfig) outbox.WorkerConfig {
	return outbox.WorkerConfig{
		BatchSize:    cfg.BatchSize,
		PollInterval: durationFromSeconds(cfg.PollIntervalSeconds),
		RateLimit:    rate.Limit(cfg.RateLimitPerSecond),
	}
}

// applyConfigDiff is the config.Watcher's onChange callback: it applies only
// the fields config.Diff marks as safe to hot-reload (log level, engine
// tunables, outbox tunables), leaving database and completion-provider
// wiring untouched since those require a restart.
func applyConfigDiff(eng *engine.Engine, worker *outbox.Worker, logLevel *slog.LevelVar, diff config.ConfigDiff) {
	if diff.LogLevelChanged {
		logLevel.Set(slogLevel(diff.NewLogLevel))
		slog.Info("config reload: log level changed", "new_level", diff.NewLogLevel)
	}
	if diff.EngineChanged {
		eng.SetConfig(engine.Config{
			LeaseTTL:           durationFromSeconds(diff.NewLeaseTTLSeconds),
			MaxConflictRetries: diff.NewMaxRetries,
			RecentTurnsLimit:   diff.NewRecentTurns,
		})
		slog.Info("config reload: engine tunables changed",
			"lease_ttl_seconds", diff.NewLeaseTTLSeconds,
			"max_conflict_retries", diff.NewMaxRetries,
			"recent_turns_limit", diff.NewRecentTurns)
	}
	if diff.OutboxChanged {
		worker.SetConfig(outboxWorkerConfig(diff.NewOutbox))
		slog.Info("config reload: outbox tunables changed",
			"batch_size", diff.NewOutbox.BatchSize,
			"poll_interval_seconds", diff.NewOutbox.PollIntervalSeconds,
			"rate_limit_per_second", diff.NewOutbox.RateLimitPerSecond)
	}
}
