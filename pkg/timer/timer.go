// Package timer implements the turn engine's timer state machine on top of
// store.TimerRepo: scheduled_unbound -> scheduled_bound -> {cancelled,
// expired} -> consumed.
package timer

import (
	"context"
	"time"

	"github.com/harrowgate/turnengine/pkg/store"
	"github.com/harrowgate/turnengine/pkg/types"
)

// Machine wraps a store.TimerRepo, presenting the state-machine operations
// used by the turn engine and the external expiry sweep/effects worker.
type Machine struct {
	repo store.TimerRepo
}

// New constructs a Machine over repo.
func New(repo store.TimerRepo) *Machine {
	return &Machine{repo: repo}
}

// Active returns the campaign's current active timer, or nil if none.
func (m *Machine) Active(ctx context.Context, campaignID string) (*types.Timer, error) {
	return m.repo.GetActive(ctx, campaignID)
}

// Schedule supersedes any existing active timer for campaignID with a new
// scheduled_unbound one.
func (m *Machine) Schedule(ctx context.Context, campaignID, eventText string, interruptible bool, interruptAction string, dueAt time.Time) (*types.Timer, error) {
	return m.repo.ScheduleUnbound(ctx, campaignID, eventText, interruptible, interruptAction, dueAt)
}

// Bind attaches the external message/channel/thread identifiers a timer
// notification was posted under. Idempotent: binding an already-bound timer
// returns the existing bound row rather than erroring.
func (m *Machine) Bind(ctx context.Context, campaignID, messageID, channelID, threadID string) (*types.Timer, error) {
	return m.repo.Bind(ctx, campaignID, messageID, channelID, threadID)
}

// Cancel transitions the campaign's active timer (if any) to cancelled.
func (m *Machine) Cancel(ctx context.Context, campaignID string) error {
	return m.repo.Cancel(ctx, campaignID)
}

// SweepExpired transitions every timer whose due_at has elapsed at asOf from
// an active status to expired, returning the rows that changed so the caller
// can hand them to the TimerEffects port.
func (m *Machine) SweepExpired(ctx context.Context, asOf time.Time) ([]types.Timer, error) {
	return m.repo.ExpireDue(ctx, asOf)
}

// Consume transitions an expired timer to consumed once its effects have
// been applied by the external timer-effects port.
func (m *Machine) Consume(ctx context.Context, timerID string) error {
	return m.repo.Consume(ctx, timerID)
}
