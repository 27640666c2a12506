// Package rewind implements the rewind controller: restore a campaign to the
// snapshot bound to an earlier narration turn, deleting everything after it
// in a single transaction.
package rewind

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harrowgate/turnengine/pkg/store"
	"github.com/harrowgate/turnengine/pkg/types"
)

// Result reports the volume of a rewind for observability and test
// assertions.
type Result struct {
	DeletedTurns     int64
	DeletedSnapshots int64
	TargetTurnID     int64
}

// Controller runs rewind_to_turn against a store.UnitOfWork.
type Controller struct {
	uow store.UnitOfWork
}

// New constructs a Controller over uow.
func New(uow store.UnitOfWork) *Controller {
	return &Controller{uow: uow}
}

// ToTurn restores campaignID to the state captured by the snapshot bound to
// targetTurnID, deletes every turn/snapshot/embedding after it, sets the
// memory visibility watermark, bumps row_version, and appends a
// memory_prune_requested outbox event — all within one transaction. Returns
// turnerr.ErrNoSnapshot (wrapped) if targetTurnID has no bound snapshot.
func (c *Controller) ToTurn(ctx context.Context, campaignID string, targetTurnID int64) (*Result, error) {
	scope, err := c.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("rewind: begin: %w", err)
	}
	result, err := c.rewindWithin(ctx, scope, campaignID, targetTurnID)
	if err != nil {
		if rbErr := scope.Rollback(ctx); rbErr != nil {
			return nil, fmt.Errorf("rewind: %w (rollback also failed: %v)", err, rbErr)
		}
		return nil, err
	}
	if err := scope.Commit(ctx); err != nil {
		return nil, fmt.Errorf("rewind: commit: %w", err)
	}
	return result, nil
}

// ToExternalMessage resolves externalMessageID to a turn_id via the turns
// secondary index, falling back to the external-user-message index, then
// rewinds to it.
func (c *Controller) ToExternalMessage(ctx context.Context, campaignID, externalMessageID string) (*Result, error) {
	turn, err := c.uow.Turns().GetByExternalMessageID(ctx, campaignID, externalMessageID)
	if err != nil {
		turn, err = c.uow.Turns().GetByExternalUserMessageID(ctx, campaignID, externalMessageID)
		if err != nil {
			return nil, fmt.Errorf("rewind: resolve external message %q: %w", externalMessageID, err)
		}
	}
	return c.ToTurn(ctx, campaignID, turn.TurnID)
}

func (c *Controller) rewindWithin(ctx context.Context, scope store.Scope, campaignID string, targetTurnID int64) (*Result, error) {
	snap, err := scope.Snapshots().GetByTurnID(ctx, targetTurnID)
	if err != nil {
		return nil, fmt.Errorf("rewind: load snapshot for turn %d: %w", targetTurnID, err)
	}

	if err := scope.Campaigns().Restore(ctx, campaignID, store.CampaignUpdate{
		State:         snap.CampaignState,
		Characters:    snap.Characters,
		Summary:       snap.Summary,
		LastNarration: snap.LastNarration,
	}); err != nil {
		return nil, fmt.Errorf("rewind: restore campaign: %w", err)
	}

	if err := restorePlayers(ctx, scope.Players(), campaignID, snap.Players); err != nil {
		return nil, fmt.Errorf("rewind: restore players: %w", err)
	}

	deletedTurns, err := scope.Turns().DeleteAfter(ctx, campaignID, targetTurnID)
	if err != nil {
		return nil, fmt.Errorf("rewind: delete turns after %d: %w", targetTurnID, err)
	}
	deletedSnapshots, err := scope.Snapshots().DeleteAfter(ctx, campaignID, targetTurnID)
	if err != nil {
		return nil, fmt.Errorf("rewind: delete snapshots after %d: %w", targetTurnID, err)
	}
	if _, err := scope.Embeddings().DeleteAfter(ctx, campaignID, targetTurnID); err != nil {
		return nil, fmt.Errorf("rewind: delete embeddings after %d: %w", targetTurnID, err)
	}

	if _, err := scope.Campaigns().SetMemoryWatermarkAndBumpVersion(ctx, campaignID, targetTurnID); err != nil {
		return nil, fmt.Errorf("rewind: set memory watermark: %w", err)
	}

	if err := scope.Outbox().Append(ctx, &types.OutboxEvent{
		CampaignID:     campaignID,
		EventType:      types.EventMemoryPruneRequested,
		IdempotencyKey: fmt.Sprintf("%d", targetTurnID),
		Payload:        mustJSON(map[string]any{"target_turn_id": targetTurnID}),
	}); err != nil {
		return nil, fmt.Errorf("rewind: append outbox event: %w", err)
	}

	return &Result{DeletedTurns: deletedTurns, DeletedSnapshots: deletedSnapshots, TargetTurnID: targetTurnID}, nil
}

func restorePlayers(ctx context.Context, repo store.PlayerRepo, campaignID string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var snapshots []types.PlayerSnapshot
	if err := json.Unmarshal(raw, &snapshots); err != nil {
		return fmt.Errorf("decode player snapshots: %w", err)
	}
	for _, ps := range snapshots {
		p, err := repo.GetOrCreate(ctx, campaignID, ps.ActorID)
		if err != nil {
			return fmt.Errorf("get or create player %q: %w", ps.ActorID, err)
		}
		p.Level = ps.Level
		p.XP = ps.XP
		p.Attributes = ps.Attributes
		p.State = ps.State
		if err := repo.Update(ctx, p); err != nil {
			return fmt.Errorf("update player %q: %w", ps.ActorID, err)
		}
	}
	return nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// v is always a literal map of static keys constructed above; a
		// marshal failure here would be a programming error, not a runtime
		// condition callers can recover from.
		panic(fmt.Sprintf("rewind: marshal outbox payload: %v", err))
	}
	return b
}
