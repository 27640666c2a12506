// Package observe provides application-wide observability primitives for the
// turn engine: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all turn-engine metrics.
const meterName = "github.com/harrowgate/turnengine"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Turn-resolution latency histograms, one per phase ---

	// PhaseADuration tracks the lease-claim + load short transaction.
	PhaseADuration metric.Float64Histogram

	// PhaseBDuration tracks the no-tx TextCompletion call, including any
	// heartbeat overhead.
	PhaseBDuration metric.Float64Histogram

	// PhaseCDuration tracks the CAS-update + append short transaction.
	PhaseCDuration metric.Float64Histogram

	// TurnResolutionDuration tracks the full resolve_turn call, including
	// any CAS-conflict retries.
	TurnResolutionDuration metric.Float64Histogram

	// --- Counters ---

	// LeaseClaims counts lease claim attempts. Use with attributes:
	//   attribute.String("result", "claimed"|"held"|"stolen")
	LeaseClaims metric.Int64Counter

	// CASConflicts counts campaign row_version conflicts observed by the
	// engine's retry loop, whether retried successfully or surfaced.
	CASConflicts metric.Int64Counter

	// OutboxEventsAppended counts outbox events appended in Phase C. Use
	// with attribute.String("event_type", ...).
	OutboxEventsAppended metric.Int64Counter

	// OutboxEventsDispatched counts outbox events the drain worker
	// successfully delivered to a capability port.
	OutboxEventsDispatched metric.Int64Counter

	// OutboxEventsFailed counts outbox events that failed delivery and were
	// rescheduled with backoff.
	OutboxEventsFailed metric.Int64Counter

	// TimerTransitions counts timer state machine transitions. Use with
	// attribute.String("transition", "scheduled"|"bound"|"cancelled"|"expired"|"consumed").
	TimerTransitions metric.Int64Counter

	// --- Gauges ---

	// OutboxBacklog tracks the number of outbox events currently pending
	// dispatch (status = pending, next_attempt_at <= now).
	OutboxBacklog metric.Int64UpDownCounter

	// ActiveLeases tracks the number of currently held inflight leases.
	ActiveLeases metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// sub-second repository round trips and multi-second LLM completion calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PhaseADuration, err = m.Float64Histogram("turnengine.phase_a.duration",
		metric.WithDescription("Latency of Phase A (lease claim + load)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PhaseBDuration, err = m.Float64Histogram("turnengine.phase_b.duration",
		metric.WithDescription("Latency of Phase B (text completion call)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PhaseCDuration, err = m.Float64Histogram("turnengine.phase_c.duration",
		metric.WithDescription("Latency of Phase C (CAS update + append)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnResolutionDuration, err = m.Float64Histogram("turnengine.turn_resolution.duration",
		metric.WithDescription("End-to-end resolve_turn latency, including CAS-conflict retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.LeaseClaims, err = m.Int64Counter("turnengine.lease.claims",
		metric.WithDescription("Total lease claim attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.CASConflicts, err = m.Int64Counter("turnengine.cas.conflicts",
		metric.WithDescription("Total campaign row_version conflicts observed."),
	); err != nil {
		return nil, err
	}
	if met.OutboxEventsAppended, err = m.Int64Counter("turnengine.outbox.appended",
		metric.WithDescription("Total outbox events appended by event type."),
	); err != nil {
		return nil, err
	}
	if met.OutboxEventsDispatched, err = m.Int64Counter("turnengine.outbox.dispatched",
		metric.WithDescription("Total outbox events successfully dispatched."),
	); err != nil {
		return nil, err
	}
	if met.OutboxEventsFailed, err = m.Int64Counter("turnengine.outbox.failed",
		metric.WithDescription("Total outbox events that failed dispatch and were rescheduled."),
	); err != nil {
		return nil, err
	}
	if met.TimerTransitions, err = m.Int64Counter("turnengine.timer.transitions",
		metric.WithDescription("Total timer state machine transitions by type."),
	); err != nil {
		return nil, err
	}

	if met.OutboxBacklog, err = m.Int64UpDownCounter("turnengine.outbox.backlog",
		metric.WithDescription("Number of outbox events currently pending dispatch."),
	); err != nil {
		return nil, err
	}
	if met.ActiveLeases, err = m.Int64UpDownCounter("turnengine.lease.active",
		metric.WithDescription("Number of currently held inflight leases."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("turnengine.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordLeaseClaim is a convenience method that records a lease claim
// attempt with its result ("claimed", "held", or "stolen").
func (m *Metrics) RecordLeaseClaim(ctx context.Context, result string) {
	m.LeaseClaims.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCASConflict is a convenience method that records a campaign
// row_version conflict.
func (m *Metrics) RecordCASConflict(ctx context.Context) {
	m.CASConflicts.Add(ctx, 1)
}

// RecordOutboxAppended is a convenience method that records an outbox event
// append by event type.
func (m *Metrics) RecordOutboxAppended(ctx context.Context, eventType string) {
	m.OutboxEventsAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordTimerTransition is a convenience method that records a timer state
// machine transition.
func (m *Metrics) RecordTimerTransition(ctx context.Context, transition string) {
	m.TimerTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("transition", transition)))
}
