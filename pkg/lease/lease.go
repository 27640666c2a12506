// Package lease implements the inflight-lease manager: at-most-one in-flight
// turn per (campaign, actor) across processes, with crash recovery by
// expiry rather than indefinite blocking.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harrowgate/turnengine/pkg/clock"
	"github.com/harrowgate/turnengine/pkg/store"
	"github.com/harrowgate/turnengine/pkg/turnerr"
)

// DefaultTTL is used when Manager.Claim is called with ttl <= 0.
const DefaultTTL = 90 * time.Second

// Lease is the caller's handle on a claimed (campaign, actor) slot. The
// engine must Release it once Phase C ends, on every path.
type Lease struct {
	CampaignID string
	ActorID    string
	Token      string
	ExpiresAt  time.Time
}

// Manager claims, heartbeats, validates, and releases leases backed by a
// store.InflightRepo. It holds no in-process state: every operation is a
// conditional write against the repository, so a Manager is safe to
// construct fresh per call or share across goroutines.
type Manager struct {
	repo  store.InflightRepo
	clock clock.Clock
}

// New constructs a Manager over repo, using clk as the time source for
// expiry comparisons.
func New(repo store.InflightRepo, clk clock.Clock) *Manager {
	return &Manager{repo: repo, clock: clk}
}

// Claim attempts to acquire the lease for (campaignID, actorID). On a
// conflict with an existing, unexpired row it returns turnerr.ErrLeaseHeld.
// On a conflict with an expired row it steals the lease atomically and
// succeeds. ttl <= 0 uses DefaultTTL.
func (m *Manager) Claim(ctx context.Context, campaignID, actorID string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := m.clock.Now()
	token := uuid.NewString()
	expiresAt := now.Add(ttl)

	err := m.repo.Insert(ctx, campaignID, actorID, token, now, expiresAt)
	if err == nil {
		return &Lease{CampaignID: campaignID, ActorID: actorID, Token: token, ExpiresAt: expiresAt}, nil
	}
	if !errors.Is(err, turnerr.ErrLeaseHeld) {
		return nil, err
	}

	// Insert conflicted on the uniqueness constraint: inspect the existing
	// row and attempt a steal if it has expired.
	existing, getErr := m.repo.Get(ctx, campaignID, actorID)
	if getErr != nil {
		return nil, getErr
	}
	if existing.ExpiresAt.After(now) {
		return nil, fmt.Errorf("lease: claim (%s,%s): %w", campaignID, actorID, turnerr.ErrLeaseHeld)
	}

	stolen, stealErr := m.repo.Steal(ctx, campaignID, actorID, token, now, expiresAt, now)
	if stealErr != nil {
		return nil, stealErr
	}
	if !stolen {
		// Lost the race to another stealer between Get and Steal.
		return nil, fmt.Errorf("lease: claim (%s,%s): %w", campaignID, actorID, turnerr.ErrLeaseHeld)
	}
	return &Lease{CampaignID: campaignID, ActorID: actorID, Token: token, ExpiresAt: expiresAt}, nil
}

// Heartbeat extends the lease's expiry by ttl from now. It returns
// turnerr.ErrLeaseLost if the lease has been stolen or released out from
// under the caller.
func (m *Manager) Heartbeat(ctx context.Context, l *Lease, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.clock.Now()
	expiresAt := now.Add(ttl)

	ok, err := m.repo.Heartbeat(ctx, l.CampaignID, l.ActorID, l.Token, now, expiresAt)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lease: heartbeat (%s,%s): %w", l.CampaignID, l.ActorID, turnerr.ErrLeaseLost)
	}
	l.ExpiresAt = expiresAt
	return nil
}

// Validate confirms the lease is still held under its token, returning
// turnerr.ErrLeaseLost if not.
func (m *Manager) Validate(ctx context.Context, l *Lease) error {
	ok, err := m.repo.ExistsValid(ctx, l.CampaignID, l.ActorID, l.Token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lease: validate (%s,%s): %w", l.CampaignID, l.ActorID, turnerr.ErrLeaseLost)
	}
	return nil
}

// Release deletes the lease if its token still matches. Releasing an
// already-released or already-stolen lease is not an error.
func (m *Manager) Release(ctx context.Context, l *Lease) error {
	return m.repo.Release(ctx, l.CampaignID, l.ActorID, l.Token)
}

// HeartbeatInterval returns the recommended cadence for periodic
// heartbeating against a lease of the given ttl: 1/3 of ttl, matching the
// renewal cadence spec.md §4.2 requires (<= ttl/3).
func HeartbeatInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return ttl / 3
}
