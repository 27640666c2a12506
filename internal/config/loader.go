package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidCompletionProviders lists the any-llm-go backends the completion
// adapter supports. Used by [Validate] to warn about unrecognised names.
var ValidCompletionProviders = []string{"openai", "anthropic", "gemini", "ollama"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; soft
// concerns (unrecognised-but-plausible values, missing-but-optional wiring)
// are logged as warnings instead of failing the load.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.postgres_dsn is required"))
	}
	if cfg.Database.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("database.max_conns %d must not be negative", cfg.Database.MaxConns))
	}

	// Completion provider
	if cfg.Completion.Name == "" {
		errs = append(errs, errors.New("completion.name is required"))
	} else if !slices.Contains(ValidCompletionProviders, cfg.Completion.Name) {
		slog.Warn("unknown completion provider name — may be a typo or a newer any-llm-go backend",
			"name", cfg.Completion.Name,
			"known", ValidCompletionProviders,
		)
	}
	if cfg.Completion.Model == "" {
		errs = append(errs, errors.New("completion.model is required"))
	}

	// Engine tunables
	if cfg.Engine.LeaseTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("engine.lease_ttl_seconds %d must not be negative", cfg.Engine.LeaseTTLSeconds))
	}
	if cfg.Engine.MaxConflictRetries < 0 {
		errs = append(errs, fmt.Errorf("engine.max_conflict_retries %d must not be negative", cfg.Engine.MaxConflictRetries))
	}
	if cfg.Engine.RecentTurnsLimit < 0 {
		errs = append(errs, fmt.Errorf("engine.recent_turns_limit %d must not be negative", cfg.Engine.RecentTurnsLimit))
	}

	// Outbox tunables
	if cfg.Outbox.PollIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("outbox.poll_interval_seconds %d must not be negative", cfg.Outbox.PollIntervalSeconds))
	}
	if cfg.Outbox.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("outbox.batch_size %d must not be negative", cfg.Outbox.BatchSize))
	}
	if cfg.Outbox.MaxBackoffSeconds < 0 {
		errs = append(errs, fmt.Errorf("outbox.max_backoff_seconds %d must not be negative", cfg.Outbox.MaxBackoffSeconds))
	}
	if cfg.Outbox.RateLimitPerSecond < 0 {
		errs = append(errs, fmt.Errorf("outbox.rate_limit_per_second %.2f must not be negative", cfg.Outbox.RateLimitPerSecond))
	}
	if cfg.Outbox.MaxBackoffSeconds > 0 && cfg.Outbox.MaxBackoffSeconds > 300 {
		slog.Warn("outbox.max_backoff_seconds exceeds the engine's 300s cap; it will be clamped at dispatch time",
			"configured", cfg.Outbox.MaxBackoffSeconds,
		)
	}

	// Observability
	if cfg.Observability.TracesEnabled && cfg.Observability.OTLPEndpoint == "" {
		errs = append(errs, errors.New("observability.otlp_endpoint is required when traces_enabled is true"))
	}

	return errors.Join(errs...)
}
