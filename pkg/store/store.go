// Package store declares the repository and unit-of-work contracts the turn
// engine, lease manager, timer state machine, and rewind controller depend
// on. pkg/store/postgres provides the reference PostgreSQL implementation;
// the interfaces here let every other package depend on behaviour, not on
// pgx, so they can be exercised against hand-rolled mocks in unit tests.
package store

import (
	"context"
	"time"

	"github.com/harrowgate/turnengine/pkg/types"
)

// CampaignUpdate carries the mutable campaign fields written by Phase C.
type CampaignUpdate struct {
	State         []byte
	Characters    []byte
	Summary       string
	LastNarration string
}

// CampaignRepo is typed CRUD plus the CAS fence over Campaign.row_version.
type CampaignRepo interface {
	// GetOrCreate returns the campaign keyed by (namespace, nameNormalized),
	// creating it with row_version=1 if absent.
	GetOrCreate(ctx context.Context, namespace, name, nameNormalized string) (*types.Campaign, error)

	GetByID(ctx context.Context, id string) (*types.Campaign, error)

	// CompareAndSwap applies update only if the row's current row_version
	// equals expectedRowVersion, incrementing row_version by exactly one.
	// Returns turnerr.ErrCASConflict (wrapped) if the affected row count is
	// zero.
	CompareAndSwap(ctx context.Context, id string, expectedRowVersion int64, update CampaignUpdate) (*types.Campaign, error)

	// SetMemoryWatermarkAndBumpVersion sets memory_visible_max_turn_id and
	// increments row_version by one, unconditionally (used by rewind, which
	// holds exclusive access to the campaign within its own transaction).
	SetMemoryWatermarkAndBumpVersion(ctx context.Context, id string, maxTurnID int64) (*types.Campaign, error)

	// Restore overwrites state/characters/summary/last_narration from a
	// rewind snapshot, independent of the CAS fence (rewind already holds
	// exclusive access).
	Restore(ctx context.Context, id string, update CampaignUpdate) error

	// Delete cascades to every owned entity.
	Delete(ctx context.Context, id string) error
}

// ActorRepo manages Actor identity rows.
type ActorRepo interface {
	GetOrCreate(ctx context.Context, actorID, displayName string) (*types.Actor, error)
	Get(ctx context.Context, actorID string) (*types.Actor, error)
}

// PlayerRepo manages per-campaign player stats.
type PlayerRepo interface {
	GetOrCreate(ctx context.Context, campaignID, actorID string) (*types.Player, error)
	Get(ctx context.Context, campaignID, actorID string) (*types.Player, error)
	Update(ctx context.Context, p *types.Player) error
}

// SessionRepo manages the surface binding used to scope outbox idempotency.
type SessionRepo interface {
	GetOrCreate(ctx context.Context, campaignID, surfaceKey string) (*types.Session, error)
}

// TurnRepo is the append-only turn log.
type TurnRepo interface {
	// Append assigns and returns the new turn_id.
	Append(ctx context.Context, t *types.Turn) (int64, error)

	// RecentByCampaign returns up to limit turns, most-recent-first.
	RecentByCampaign(ctx context.Context, campaignID string, limit int) ([]types.Turn, error)

	GetByExternalMessageID(ctx context.Context, campaignID, externalMessageID string) (*types.Turn, error)
	GetByExternalUserMessageID(ctx context.Context, campaignID, externalUserMessageID string) (*types.Turn, error)

	// DeleteAfter removes every turn with turn_id > targetTurnID for the
	// campaign, returning the number of rows deleted.
	DeleteAfter(ctx context.Context, campaignID string, targetTurnID int64) (int64, error)
}

// SnapshotRepo manages the one-to-one rewind snapshots bound to narration turns.
type SnapshotRepo interface {
	Create(ctx context.Context, s *types.Snapshot) error
	GetByTurnID(ctx context.Context, turnID int64) (*types.Snapshot, error)

	// DeleteAfter removes every snapshot with turn_id > targetTurnID for the
	// campaign, returning the number of rows deleted.
	DeleteAfter(ctx context.Context, campaignID string, targetTurnID int64) (int64, error)
}

// TimerRepo implements the timer state machine's storage layer. Every method
// is an idempotent conditional update per spec.md §4.4.
type TimerRepo interface {
	GetActive(ctx context.Context, campaignID string) (*types.Timer, error)

	// ScheduleUnbound cancels any existing active timer for the campaign and
	// inserts a new scheduled_unbound row, within the same call.
	ScheduleUnbound(ctx context.Context, campaignID, eventText string, interruptible bool, interruptAction string, dueAt time.Time) (*types.Timer, error)

	// Bind transitions scheduled_unbound -> scheduled_bound. A second call
	// with the same or different binding is a no-op that returns the
	// already-bound row.
	Bind(ctx context.Context, campaignID, messageID, channelID, threadID string) (*types.Timer, error)

	// Cancel transitions any active timer to cancelled. Idempotent when no
	// active timer exists.
	Cancel(ctx context.Context, campaignID string) error

	// ExpireDue transitions every timer with due_at <= asOf from an active
	// status to expired, returning the rows that changed.
	ExpireDue(ctx context.Context, asOf time.Time) ([]types.Timer, error)

	// Consume transitions expired -> consumed. Idempotent for an
	// already-consumed timer.
	Consume(ctx context.Context, timerID string) error
}

// InflightRepo is the storage layer backing the inflight-lease manager.
type InflightRepo interface {
	// Insert attempts to create the lease row. Returns turnerr.ErrLeaseHeld
	// (wrapped) on a uniqueness conflict with a non-expired row; callers
	// should then attempt Steal.
	Insert(ctx context.Context, campaignID, actorID, claimToken string, claimedAt, expiresAt time.Time) error

	Get(ctx context.Context, campaignID, actorID string) (*types.InflightTurn, error)

	// Steal atomically overwrites an expired lease with a new claim. Returns
	// false if the existing row is no longer expired (lost the race).
	Steal(ctx context.Context, campaignID, actorID, newToken string, claimedAt, expiresAt, now time.Time) (bool, error)

	// Heartbeat extends heartbeat_at/expires_at only if claim_token matches.
	// Returns false if the lease has been stolen or released.
	Heartbeat(ctx context.Context, campaignID, actorID, claimToken string, heartbeatAt, expiresAt time.Time) (bool, error)

	// ExistsValid is a read-only existence check tied to claimToken.
	ExistsValid(ctx context.Context, campaignID, actorID, claimToken string) (bool, error)

	// Release deletes the row if claimToken matches. Idempotent: releasing
	// an already-released lease succeeds silently.
	Release(ctx context.Context, campaignID, actorID, claimToken string) error
}

// EmbeddingRepo manages the opaque per-turn vector blobs.
type EmbeddingRepo interface {
	Upsert(ctx context.Context, e *types.Embedding) error
	DeleteAfter(ctx context.Context, campaignID string, targetTurnID int64) (int64, error)
}

// MediaRepo manages generated media references.
type MediaRepo interface {
	Create(ctx context.Context, m *types.MediaRef) error
}

// OutboxRepo is the write half (Append, inside Phase C) and drain half
// (LeaseBatch/MarkSent/MarkFailed, used by the external drain worker) of the
// outbox.
type OutboxRepo interface {
	// Append is idempotent under the (campaign, session_scope, event_type,
	// idempotency_key) uniqueness constraint: a retried Phase C does not
	// create a duplicate row.
	Append(ctx context.Context, ev *types.OutboxEvent) error

	// LeaseBatch returns up to limit pending rows whose next_attempt_at has
	// elapsed, using FOR UPDATE SKIP LOCKED. The row locks are held only for
	// the lifetime of the transaction this is called within — callers that
	// want the no-double-process guarantee must dispatch and mark each row
	// from inside the same store.Scope used for the lease.
	LeaseBatch(ctx context.Context, limit int) ([]types.OutboxEvent, error)

	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, backoff time.Duration) error
}

// Repositories bundles one accessor per repository. Both the pool-bound
// Store and a transactional Scope satisfy it, so engine/lease/timer/rewind
// code can be written once against Repositories and run inside or outside a
// transaction.
type Repositories interface {
	Campaigns() CampaignRepo
	Actors() ActorRepo
	Players() PlayerRepo
	Sessions() SessionRepo
	Turns() TurnRepo
	Snapshots() SnapshotRepo
	Timers() TimerRepo
	Inflight() InflightRepo
	Embeddings() EmbeddingRepo
	Media() MediaRepo
	Outbox() OutboxRepo
}

// Scope is a transactional boundary: every write made through its
// Repositories commits atomically on Commit and is fully discarded on
// Rollback. Once Commit or Rollback returns, the repositories obtained from
// this Scope must not be used again. Nested scopes are disallowed — calling
// UnitOfWork.Begin again before this Scope ends is a programmer error.
type Scope interface {
	Repositories
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UnitOfWork acquires transactional Scopes and also exposes the repository
// set directly for reads that do not need transactional isolation (e.g. the
// outbox drain worker, the timer-expiry sweep).
type UnitOfWork interface {
	Repositories
	Begin(ctx context.Context) (Scope, error)
}
