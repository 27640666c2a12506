// Package types defines the entities of the turn-resolution engine's data
// model. These are semantic types, not column types: opaque blobs are carried
// as json.RawMessage end to end and are never inspected by the engine.
package types

import (
	"encoding/json"
	"time"
)

// Actor is the identity of a human or NPC. Identity is immutable; DisplayName
// may change over the actor's lifetime.
type Actor struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Campaign is the game world a set of actors plays in. (Namespace, NameNormalized)
// is unique. RowVersion is the CAS fence: every successful turn commit
// increments it by exactly one.
type Campaign struct {
	ID                     string
	Namespace              string
	Name                   string
	NameNormalized         string
	Summary                string
	State                  json.RawMessage
	Characters             json.RawMessage
	LastNarration          string
	MemoryVisibleMaxTurnID int64
	RowVersion             int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Session binds a campaign to an external chat surface (e.g. a channel).
// SurfaceKey is unique. The turn engine never mutates a Session; it is used
// only to scope outbox idempotency via SessionScope.
type Session struct {
	ID         string
	CampaignID string
	SurfaceKey string
	CreatedAt  time.Time
}

// Player is a (CampaignID, ActorID) pairing carrying per-campaign stats.
type Player struct {
	ID         string
	CampaignID string
	ActorID    string
	Level      int
	XP         int64
	Attributes json.RawMessage
	State      json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TurnKind distinguishes the three kinds of append-only Turn rows.
type TurnKind string

const (
	TurnKindUser      TurnKind = "user"
	TurnKindNarration TurnKind = "narration"
	TurnKindSystem    TurnKind = "system"
)

// Turn is an append-only row. TurnID order is causal order within a campaign.
type Turn struct {
	TurnID                int64
	CampaignID            string
	ActorID               string
	Kind                  TurnKind
	Content               string
	ExternalMessageID     string
	ExternalUserMessageID string
	CreatedAt             time.Time
}

// Snapshot is a pre-commit state capture bound one-to-one to a narration
// Turn. It exists solely to serve rewind. Rewind restores Players when it is
// present; the engine's Phase C snapshot leaves Players empty, so rewinding to
// such a snapshot leaves player rows unchanged.
type Snapshot struct {
	TurnID        int64
	CampaignID    string
	CampaignState json.RawMessage
	Characters    json.RawMessage
	Summary       string
	LastNarration string
	Players       json.RawMessage // []PlayerSnapshot, opaque to the engine
	CreatedAt     time.Time
}

// PlayerSnapshot is the per-player projected state captured in a Snapshot.
type PlayerSnapshot struct {
	ActorID    string          `json:"actor_id"`
	Level      int             `json:"level"`
	XP         int64           `json:"xp"`
	Attributes json.RawMessage `json:"attributes"`
	State      json.RawMessage `json:"state"`
}

// TimerStatus is the state of a campaign's (at most one) active timer.
type TimerStatus string

const (
	TimerScheduledUnbound TimerStatus = "scheduled_unbound"
	TimerScheduledBound   TimerStatus = "scheduled_bound"
	TimerCancelled        TimerStatus = "cancelled"
	TimerExpired          TimerStatus = "expired"
	TimerConsumed         TimerStatus = "consumed"
)

// ActiveTimerStatuses is the set of statuses counted toward the "at most one
// active timer per campaign" invariant.
var ActiveTimerStatuses = []TimerStatus{TimerScheduledUnbound, TimerScheduledBound}

// Timer is at most one row per campaign in an active status.
type Timer struct {
	ID              string
	CampaignID      string
	Status          TimerStatus
	EventText       string
	Interruptible   bool
	InterruptAction string
	DueAt           time.Time
	MessageID       string
	ChannelID       string
	ThreadID        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsBound reports whether the timer carries an external message binding.
func (t Timer) IsBound() bool {
	return t.MessageID != ""
}

// InflightTurn is a lease row asserting exclusive right to resolve a turn for
// (CampaignID, ActorID) until ExpiresAt.
type InflightTurn struct {
	CampaignID  string
	ActorID     string
	ClaimToken  string
	ClaimedAt   time.Time
	HeartbeatAt time.Time
	ExpiresAt   time.Time
}

// Embedding is one opaque vector per turn, used by the external memory search
// port. The engine never interprets Vector.
type Embedding struct {
	ID         string
	CampaignID string
	TurnID     int64
	Vector     []float32
	CreatedAt  time.Time
}

// MediaRef is generated media associated with a room or player.
type MediaRef struct {
	ID         string
	CampaignID string
	RoomID     string
	PlayerID   string
	Kind       string
	URI        string
	Metadata   json.RawMessage
	CreatedAt  time.Time
}

// OutboxStatus is the lifecycle state of an OutboxEvent.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// Outbox event types emitted by the core.
const (
	EventSceneImageRequested  = "scene_image_requested"
	EventTimerScheduled       = "timer_scheduled"
	EventMemoryPruneRequested = "memory_prune_requested"
)

// DefaultSessionScope is the sentinel used when no Session applies to an
// OutboxEvent.
const DefaultSessionScope = "_none"

// OutboxEvent is an externally-visible effect written in the same transaction
// as the state change that caused it. Uniqueness is
// (CampaignID, SessionScope, EventType, IdempotencyKey).
type OutboxEvent struct {
	ID             int64
	CampaignID     string
	SessionScope   string
	EventType      string
	IdempotencyKey string
	Payload        json.RawMessage
	Status         OutboxStatus
	Attempts       int
	NextAttemptAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
