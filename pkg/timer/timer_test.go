package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/harrowgate/turnengine/pkg/types"
)

// fakeTimerRepo is an in-memory store.TimerRepo double mirroring the
// conditional-update semantics of the PostgreSQL implementation.
type fakeTimerRepo struct {
	mu     sync.Mutex
	timers map[string]*types.Timer
}

func newFakeTimerRepo() *fakeTimerRepo {
	return &fakeTimerRepo{timers: make(map[string]*types.Timer)}
}

func (f *fakeTimerRepo) isActive(t *types.Timer) bool {
	return t.Status == types.TimerScheduledUnbound || t.Status == types.TimerScheduledBound
}

func (f *fakeTimerRepo) GetActive(ctx context.Context, campaignID string) (*types.Timer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.timers {
		if t.CampaignID == campaignID && f.isActive(t) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeTimerRepo) ScheduleUnbound(ctx context.Context, campaignID, eventText string, interruptible bool, interruptAction string, dueAt time.Time) (*types.Timer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.timers {
		if t.CampaignID == campaignID && f.isActive(t) {
			t.Status = types.TimerCancelled
		}
	}
	nt := &types.Timer{
		ID: uuid.NewString(), CampaignID: campaignID, Status: types.TimerScheduledUnbound,
		EventText: eventText, Interruptible: interruptible, InterruptAction: interruptAction, DueAt: dueAt,
	}
	f.timers[nt.ID] = nt
	cp := *nt
	return &cp, nil
}

func (f *fakeTimerRepo) Bind(ctx context.Context, campaignID, messageID, channelID, threadID string) (*types.Timer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.timers {
		if t.CampaignID == campaignID && t.Status == types.TimerScheduledUnbound {
			t.Status = types.TimerScheduledBound
			t.MessageID, t.ChannelID, t.ThreadID = messageID, channelID, threadID
			cp := *t
			return &cp, nil
		}
	}
	for _, t := range f.timers {
		if t.CampaignID == campaignID && f.isActive(t) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeTimerRepo) Cancel(ctx context.Context, campaignID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.timers {
		if t.CampaignID == campaignID && f.isActive(t) {
			t.Status = types.TimerCancelled
		}
	}
	return nil
}

func (f *fakeTimerRepo) ExpireDue(ctx context.Context, asOf time.Time) ([]types.Timer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Timer
	for _, t := range f.timers {
		if f.isActive(t) && !t.DueAt.After(asOf) {
			t.Status = types.TimerExpired
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTimerRepo) Consume(ctx context.Context, timerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.timers[timerID]
	if !ok {
		return nil
	}
	if t.Status == types.TimerExpired {
		t.Status = types.TimerConsumed
	}
	return nil
}

func TestScheduleSupersedesPriorActive(t *testing.T) {
	repo := newFakeTimerRepo()
	m := New(repo)
	ctx := context.Background()
	due := time.Now().Add(time.Hour)

	first, err := m.Schedule(ctx, "camp-1", "a door creaks", true, "", due)
	require.NoError(t, err)

	second, err := m.Schedule(ctx, "camp-1", "the torch gutters", true, "", due)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	active, err := m.Active(ctx, "camp-1")
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)
}

func TestBindIsIdempotent(t *testing.T) {
	repo := newFakeTimerRepo()
	m := New(repo)
	ctx := context.Background()

	_, err := m.Schedule(ctx, "camp-1", "event", true, "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	bound, err := m.Bind(ctx, "camp-1", "msg-1", "chan-1", "")
	require.NoError(t, err)
	require.True(t, bound.IsBound())

	boundAgain, err := m.Bind(ctx, "camp-1", "msg-2", "chan-1", "")
	require.NoError(t, err)
	require.Equal(t, bound.ID, boundAgain.ID)
	require.Equal(t, "msg-1", boundAgain.MessageID)
}

func TestSweepExpiredThenConsume(t *testing.T) {
	repo := newFakeTimerRepo()
	m := New(repo)
	ctx := context.Background()
	now := time.Now()

	scheduled, err := m.Schedule(ctx, "camp-1", "event", false, "", now.Add(-time.Minute))
	require.NoError(t, err)

	expired, err := m.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, scheduled.ID, expired[0].ID)

	require.NoError(t, m.Consume(ctx, scheduled.ID))
	require.NoError(t, m.Consume(ctx, scheduled.ID))
}

func TestCancelIsIdempotentWhenNoneActive(t *testing.T) {
	repo := newFakeTimerRepo()
	m := New(repo)
	require.NoError(t, m.Cancel(context.Background(), "camp-empty"))
}
