package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harrowgate/turnengine/pkg/clock"
	"github.com/harrowgate/turnengine/pkg/turnerr"
	"github.com/harrowgate/turnengine/pkg/types"
)

// fakeInflightRepo is an in-memory store.InflightRepo double, good enough to
// exercise Claim/Heartbeat/Validate/Release/steal transitions without a
// database.
type fakeInflightRepo struct {
	mu   sync.Mutex
	rows map[string]types.InflightTurn
}

func newFakeInflightRepo() *fakeInflightRepo {
	return &fakeInflightRepo{rows: make(map[string]types.InflightTurn)}
}

func key(campaignID, actorID string) string { return campaignID + "/" + actorID }

func (f *fakeInflightRepo) Insert(ctx context.Context, campaignID, actorID, claimToken string, claimedAt, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[key(campaignID, actorID)]; ok {
		return fmt.Errorf("fake: %w", turnerr.ErrLeaseHeld)
	}
	f.rows[key(campaignID, actorID)] = types.InflightTurn{
		CampaignID: campaignID, ActorID: actorID, ClaimToken: claimToken,
		ClaimedAt: claimedAt, HeartbeatAt: claimedAt, ExpiresAt: expiresAt,
	}
	return nil
}

func (f *fakeInflightRepo) Get(ctx context.Context, campaignID, actorID string) (*types.InflightTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key(campaignID, actorID)]
	if !ok {
		return nil, fmt.Errorf("fake: %w", turnerr.ErrNotFound)
	}
	return &row, nil
}

func (f *fakeInflightRepo) Steal(ctx context.Context, campaignID, actorID, newToken string, claimedAt, expiresAt, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key(campaignID, actorID)]
	if !ok || row.ExpiresAt.After(now) {
		return false, nil
	}
	f.rows[key(campaignID, actorID)] = types.InflightTurn{
		CampaignID: campaignID, ActorID: actorID, ClaimToken: newToken,
		ClaimedAt: claimedAt, HeartbeatAt: claimedAt, ExpiresAt: expiresAt,
	}
	return true, nil
}

func (f *fakeInflightRepo) Heartbeat(ctx context.Context, campaignID, actorID, claimToken string, heartbeatAt, expiresAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key(campaignID, actorID)]
	if !ok || row.ClaimToken != claimToken {
		return false, nil
	}
	row.HeartbeatAt = heartbeatAt
	row.ExpiresAt = expiresAt
	f.rows[key(campaignID, actorID)] = row
	return true, nil
}

func (f *fakeInflightRepo) ExistsValid(ctx context.Context, campaignID, actorID, claimToken string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key(campaignID, actorID)]
	return ok && row.ClaimToken == claimToken, nil
}

func (f *fakeInflightRepo) Release(ctx context.Context, campaignID, actorID, claimToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key(campaignID, actorID)]
	if ok && row.ClaimToken == claimToken {
		delete(f.rows, key(campaignID, actorID))
	}
	return nil
}

func TestClaimSucceedsWhenFree(t *testing.T) {
	m := New(newFakeInflightRepo(), clock.NewFake(time.Unix(1000, 0)))

	l, err := m.Claim(context.Background(), "camp-1", "actor-1", 90*time.Second)
	require.NoError(t, err)
	require.Equal(t, "camp-1", l.CampaignID)
	require.NotEmpty(t, l.Token)
}

func TestClaimFailsWhenHeldAndUnexpired(t *testing.T) {
	m := New(newFakeInflightRepo(), clock.NewFake(time.Unix(1000, 0)))

	_, err := m.Claim(context.Background(), "camp-1", "actor-1", 90*time.Second)
	require.NoError(t, err)

	_, err = m.Claim(context.Background(), "camp-1", "actor-1", 90*time.Second)
	require.True(t, errors.Is(err, turnerr.ErrLeaseHeld))
}

func TestClaimStealsExpiredLease(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	m := New(newFakeInflightRepo(), fc)

	first, err := m.Claim(context.Background(), "camp-1", "actor-1", 10*time.Second)
	require.NoError(t, err)

	fc.Advance(11 * time.Second)

	second, err := m.Claim(context.Background(), "camp-1", "actor-1", 10*time.Second)
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	require.Error(t, m.Validate(context.Background(), first))
	require.NoError(t, m.Validate(context.Background(), second))
}

func TestHeartbeatFailsAfterSteal(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	m := New(newFakeInflightRepo(), fc)

	first, err := m.Claim(context.Background(), "camp-1", "actor-1", 10*time.Second)
	require.NoError(t, err)

	fc.Advance(11 * time.Second)
	_, err = m.Claim(context.Background(), "camp-1", "actor-1", 10*time.Second)
	require.NoError(t, err)

	err = m.Heartbeat(context.Background(), first, 10*time.Second)
	require.True(t, errors.Is(err, turnerr.ErrLeaseLost))
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New(newFakeInflightRepo(), clock.NewFake(time.Unix(1000, 0)))

	l, err := m.Claim(context.Background(), "camp-1", "actor-1", 90*time.Second)
	require.NoError(t, err)

	require.NoError(t, m.Release(context.Background(), l))
	require.NoError(t, m.Release(context.Background(), l))
	require.Error(t, m.Validate(context.Background(), l))
}

func TestHeartbeatIntervalIsThirdOfTTL(t *testing.T) {
	require.Equal(t, 30*time.Second, HeartbeatInterval(90*time.Second))
	require.Equal(t, HeartbeatInterval(DefaultTTL), HeartbeatInterval(0))
}
