// Package outbox implements the drain half of the outbox pattern: a worker
// that leases pending rows and hands them to a Dispatcher. Events are
// appended through store.OutboxRepo by the engine's Phase C and by rewind.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/harrowgate/turnengine/pkg/store"
	"github.com/harrowgate/turnengine/pkg/types"
)

// maxBackoff caps the exponential retry delay a failed event accrues.
const maxBackoff = 300 * time.Second

// Dispatcher delivers one outbox event to its external destination (chat
// surface notification, media generation request, memory-prune signal). A
// non-nil error leaves the event pending for retry with backoff.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev types.OutboxEvent) error
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, ev types.OutboxEvent) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, ev types.OutboxEvent) error { return f(ctx, ev) }

// WorkerConfig controls the drain worker's batch size, poll cadence, and
// dispatch rate.
type WorkerConfig struct {
	BatchSize    int
	PollInterval time.Duration
	RateLimit    rate.Limit // dispatches/sec; 0 disables rate limiting
	RateBurst    int
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = rate.Inf
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

// Worker polls for pending outbox rows whose next_attempt_at has elapsed and
// hands each to dispatcher, marking it sent or backing it off on failure.
// Leasing, dispatching, and marking a batch all run inside one
// store.Scope so the row locks FOR UPDATE SKIP LOCKED takes are held across
// dispatch instead of released the instant the lease query completes —
// otherwise two workers could both lease and dispatch the same row.
type Worker struct {
	uow        store.UnitOfWork
	dispatcher Dispatcher
	cfg        atomic.Pointer[WorkerConfig]
	limiter    atomic.Pointer[rate.Limiter]
	log        *slog.Logger
}

// NewWorker constructs a Worker. log may be nil, in which case slog.Default
// is used.
func NewWorker(uow store.UnitOfWork, dispatcher Dispatcher, cfg WorkerConfig, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		uow:        uow,
		dispatcher: dispatcher,
		log:        log,
	}
	w.SetConfig(cfg)
	return w
}

// SetConfig atomically replaces the worker's batch size, poll interval, and
// rate limit. Run picks up a changed PollInterval on its next tick; an
// in-flight processOnce finishes with the config it started with.
func (w *Worker) SetConfig(cfg WorkerConfig) {
	cfg = cfg.withDefaults()
	w.cfg.Store(&cfg)
	w.limiter.Store(rate.NewLimiter(cfg.RateLimit, cfg.RateBurst))
}

func (w *Worker) config() WorkerConfig { return *w.cfg.Load() }

// Run polls until ctx is canceled, processing one batch per tick. A
// PollInterval change from SetConfig takes effect on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.config()
	w.log.Info("outbox worker starting", "batch_size", cfg.BatchSize, "poll_interval", cfg.PollInterval)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("outbox worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				w.log.Error("outbox process cycle failed", "error", err)
			}
			if next := w.config().PollInterval; next != cfg.PollInterval {
				cfg.PollInterval = next
				ticker.Reset(next)
			}
		}
	}
}

// processOnce leases, dispatches, and marks one batch inside a single
// store.Scope so the FOR UPDATE SKIP LOCKED row locks taken by LeaseBatch
// stay held until the batch is fully dispatched and committed — otherwise a
// second Worker could lease and dispatch the same pending row before this
// one marks it sent.
func (w *Worker) processOnce(ctx context.Context) error {
	scope, err := w.uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin scope: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := scope.Rollback(ctx); rbErr != nil {
				w.log.Error("outbox: rollback failed", "error", rbErr)
			}
		}
	}()

	batch, err := scope.Outbox().LeaseBatch(ctx, w.config().BatchSize)
	if err != nil {
		return fmt.Errorf("outbox: lease batch: %w", err)
	}

	limiter := w.limiter.Load()
	for _, ev := range batch {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		w.processOne(ctx, scope.Outbox(), ev)
	}

	if err := scope.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit batch: %w", err)
	}
	committed = true
	return nil
}

func (w *Worker) processOne(ctx context.Context, repo store.OutboxRepo, ev types.OutboxEvent) {
	err := w.dispatcher.Dispatch(ctx, ev)
	if err == nil {
		if markErr := repo.MarkSent(ctx, ev.ID); markErr != nil {
			w.log.Error("mark outbox event sent failed", "id", ev.ID, "error", markErr)
		}
		return
	}

	backoff := backoffFor(ev.Attempts)
	if markErr := repo.MarkFailed(ctx, ev.ID, backoff); markErr != nil {
		w.log.Error("mark outbox event failed failed", "id", ev.ID, "error", markErr)
	}
	w.log.Warn("outbox dispatch failed, backing off", "id", ev.ID, "event_type", ev.EventType,
		"attempts", ev.Attempts+1, "backoff", backoff, "error", err)
}

// maxBackoffExponent is the smallest exponent at which 2^exponent seconds
// already exceeds maxBackoff; capping the exponent here (rather than only
// the resulting duration) keeps math.Pow's input bounded so an event that
// keeps failing forever can never overflow it into +Inf/garbage Duration
// values.
const maxBackoffExponent = 9 // 2^9s = 512s > maxBackoff (300s)

// backoffFor mirrors the capped exponential schedule: 2^(attempts+1)
// seconds, capped at maxBackoff.
func backoffFor(attempts int) time.Duration {
	exponent := attempts + 1
	if exponent > maxBackoffExponent {
		exponent = maxBackoffExponent
	}
	secs := math.Pow(2, float64(exponent))
	d := time.Duration(secs) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// ErrDispatcherNotConfigured is returned by NopDispatcher to make an
// unconfigured drain path fail loudly instead of silently marking every
// event sent.
var ErrDispatcherNotConfigured = errors.New("outbox: no dispatcher configured")

// NopDispatcher always fails, for wiring a Worker before its real
// destinations are configured.
type NopDispatcher struct{}

// Dispatch always returns ErrDispatcherNotConfigured.
func (NopDispatcher) Dispatch(ctx context.Context, ev types.OutboxEvent) error {
	return ErrDispatcherNotConfigured
}
