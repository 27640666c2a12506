// Package engine implements the turn-resolution engine: the three-phase
// resolve_turn protocol (load, completion call, CAS-fenced commit) over
// pkg/store's repository contracts, wired against the inflight-lease manager, the timer state machine, and the
// TextCompletion capability port.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harrowgate/turnengine/pkg/clock"
	"github.com/harrowgate/turnengine/pkg/lease"
	"github.com/harrowgate/turnengine/pkg/ports"
	"github.com/harrowgate/turnengine/pkg/store"
	"github.com/harrowgate/turnengine/pkg/timer"
	"github.com/harrowgate/turnengine/pkg/turnerr"
	"github.com/harrowgate/turnengine/pkg/types"
)

const (
	// DefaultLeaseTTL is the lease lifetime used when Config.LeaseTTL is zero.
	DefaultLeaseTTL = lease.DefaultTTL

	// DefaultMaxConflictRetries is the number of full Phase A->C restarts
	// attempted after a CAS conflict before the conflict is surfaced.
	DefaultMaxConflictRetries = 1

	// defaultRecentTurnsLimit bounds how many prior turns Phase A loads for
	// prompt assembly.
	defaultRecentTurnsLimit = 20
)

// Config configures an Engine. Zero values fall back to the documented
// defaults.
type Config struct {
	LeaseTTL           time.Duration
	MaxConflictRetries int
	RecentTurnsLimit   int
}

func (c Config) withDefaults() Config {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.MaxConflictRetries <= 0 {
		c.MaxConflictRetries = DefaultMaxConflictRetries
	}
	if c.RecentTurnsLimit <= 0 {
		c.RecentTurnsLimit = defaultRecentTurnsLimit
	}
	return c
}

// ResolveTurnInput names the campaign, acting actor, and action text for a
// single resolve_turn invocation.
type ResolveTurnInput struct {
	Namespace      string
	CampaignName   string
	ActorID        string
	ActorName      string
	ActionText     string
	SessionSurface string // external surface key; empty means no session scope
}

// ResolveTurnResult is returned on a successful resolve_turn.
type ResolveTurnResult struct {
	Narration       string
	NarrationTurnID int64
	RowVersionNew   int64
	EmittedEvents   []types.OutboxEvent
}

// turnContext is the opaque snapshot Phase A hands to Phase B and Phase C.
type turnContext struct {
	campaign    *types.Campaign
	recentTurns []types.Turn
	player      *types.Player
	activeTimer *types.Timer
	rv0         int64
	sessionID   string
}

// BeforePhaseC is invoked, read-only, after Phase B has produced a result and
// immediately before Phase C begins its transaction. Tests use it to mutate
// the campaign's row_version out from under a resolve_turn call in order to
// exercise the CAS-conflict retry path.
type BeforePhaseC func(ctx context.Context, tc turnContext)

// Engine orchestrates resolve_turn, rewind is handled separately by
// pkg/rewind.
type Engine struct {
	uow        store.UnitOfWork
	clk        clock.Clock
	leases     *lease.Manager
	completion ports.TextCompletion
	resolver   ports.ActorResolver
	cfg        atomic.Pointer[Config]
	log        *slog.Logger

	beforePhaseC BeforePhaseC
}

// New constructs an Engine. resolver may be nil if give-item instructions are
// never expected; a nil resolver used against a non-empty GiveItems list
// returns turnerr.ErrPortFailure.
func New(uow store.UnitOfWork, clk clock.Clock, completion ports.TextCompletion, resolver ports.ActorResolver, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		uow:        uow,
		clk:        clk,
		leases:     lease.New(uow.Inflight(), clk),
		completion: completion,
		resolver:   resolver,
		log:        log,
	}
	resolved := cfg.withDefaults()
	e.cfg.Store(&resolved)
	return e
}

// WithBeforePhaseC attaches a read-only hook invoked between Phase B and
// Phase C. Intended for tests.
func (e *Engine) WithBeforePhaseC(hook BeforePhaseC) *Engine {
	e.beforePhaseC = hook
	return e
}

// SetConfig atomically replaces the engine's tunables (lease TTL, max
// conflict retries, recent-turns limit). Safe to call concurrently with
// in-flight ResolveTurn calls; a call already in progress keeps the config
// it captured at the start of ResolveTurn (including across all of its
// conflict retries) rather than observing the change mid-flight.
func (e *Engine) SetConfig(cfg Config) {
	resolved := cfg.withDefaults()
	e.cfg.Store(&resolved)
}

// config returns the current tunables.
func (e *Engine) config() Config {
	return *e.cfg.Load()
}

// ResolveTurn runs the three-phase protocol for input. The lease for
// (campaign, actor) is claimed once and held across every CAS-conflict retry;
// it is released on every return path except when the lease itself was lost,
// in which case there is nothing left to release.
func (e *Engine) ResolveTurn(ctx context.Context, input ResolveTurnInput) (*ResolveTurnResult, error) {
	campaign, err := e.uow.Campaigns().GetOrCreate(ctx, input.Namespace, input.CampaignName, normalizeName(input.CampaignName))
	if err != nil {
		return nil, fmt.Errorf("engine: resolve turn: load campaign: %w", err)
	}
	if _, err := e.uow.Actors().GetOrCreate(ctx, input.ActorID, input.ActorName); err != nil {
		return nil, fmt.Errorf("engine: resolve turn: load actor: %w", err)
	}

	cfg := e.config()

	l, err := e.leases.Claim(ctx, campaign.ID, input.ActorID, cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}

	var sessionID string
	if input.SessionSurface != "" {
		s, sErr := e.uow.Sessions().GetOrCreate(ctx, campaign.ID, input.SessionSurface)
		if sErr != nil {
			_ = e.leases.Release(ctx, l)
			return nil, fmt.Errorf("engine: resolve turn: load session: %w", sErr)
		}
		sessionID = s.ID
	}

	result, err := e.resolveWithRetry(ctx, cfg, campaign.ID, input, l, sessionID)
	switch {
	case err == nil:
		_ = e.leases.Release(ctx, l)
	case errors.Is(err, turnerr.ErrLeaseLost):
		// Nothing to release; the lease already belongs to someone else.
	default:
		_ = e.leases.Release(ctx, l)
	}
	return result, err
}

func (e *Engine) resolveWithRetry(ctx context.Context, cfg Config, campaignID string, input ResolveTurnInput, l *lease.Lease, sessionID string) (*ResolveTurnResult, error) {
	attempts := cfg.MaxConflictRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		tc, err := e.phaseA(ctx, cfg, campaignID, input.ActorID, sessionID)
		if err != nil {
			return nil, err
		}

		completionResult, err := e.phaseB(ctx, cfg, l, tc, input.ActionText)
		if err != nil {
			return nil, err
		}

		if e.beforePhaseC != nil {
			e.beforePhaseC(ctx, *tc)
		}

		result, err := e.phaseC(ctx, l, tc, input, completionResult, sessionID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, turnerr.ErrCASConflict) {
			return nil, err
		}
		lastErr = err
		e.log.Info("engine: CAS conflict, retrying", "campaign_id", campaignID, "actor_id", input.ActorID, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("engine: resolve turn: %w after %d attempt(s)", lastErr, attempts)
}

// phaseA claims no new lease (the caller already holds one across retries)
// and loads a fresh snapshot of campaign, recent turns, player, and active
// timer inside a short transaction.
func (e *Engine) phaseA(ctx context.Context, cfg Config, campaignID, actorID, sessionID string) (*turnContext, error) {
	scope, err := e.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: phase A: begin: %w", err)
	}
	defer func() { _ = scope.Rollback(ctx) }()

	campaign, err := scope.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("engine: phase A: load campaign: %w", err)
	}
	recentTurns, err := scope.Turns().RecentByCampaign(ctx, campaignID, cfg.RecentTurnsLimit)
	if err != nil {
		return nil, fmt.Errorf("engine: phase A: load recent turns: %w", err)
	}
	player, err := scope.Players().GetOrCreate(ctx, campaignID, actorID)
	if err != nil {
		return nil, fmt.Errorf("engine: phase A: load player: %w", err)
	}
	activeTimer, err := scope.Timers().GetActive(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("engine: phase A: load active timer: %w", err)
	}

	if err := scope.Commit(ctx); err != nil {
		return nil, fmt.Errorf("engine: phase A: commit: %w", err)
	}

	return &turnContext{
		campaign:    campaign,
		recentTurns: recentTurns,
		player:      player,
		activeTimer: activeTimer,
		rv0:         campaign.RowVersion,
		sessionID:   sessionID,
	}, nil
}

// phaseB assembles a prompt from tc, calls TextCompletion, and heartbeats the
// lease while the call is outstanding.
func (e *Engine) phaseB(ctx context.Context, cfg Config, l *lease.Lease, tc *turnContext, actionText string) (*ports.CompletionResult, error) {
	req := ports.CompletionRequest{
		CampaignID:        tc.campaign.ID,
		ActorID:           l.ActorID,
		ActionText:        actionText,
		Summary:           tc.campaign.Summary,
		LastNarration:     tc.campaign.LastNarration,
		RecentTurnsPrompt: formatRecentTurns(tc.recentTurns),
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.heartbeatWhilePending(heartbeatCtx, cfg, l)
	})

	var result *ports.CompletionResult
	g.Go(func() error {
		defer cancelHeartbeat()
		r, err := e.completion.Complete(gctx, req)
		result = r
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, turnerr.ErrBadModelOutput) || errors.Is(err, turnerr.ErrLeaseLost) {
			return nil, err
		}
		return nil, fmt.Errorf("engine: phase B: %w: %w", turnerr.ErrPortFailure, err)
	}
	return result, nil
}

// heartbeatWhilePending renews the lease on a ticker until ctx is cancelled
// (the completion call returned) or a heartbeat fails, in which case it
// returns turnerr.ErrLeaseLost so the errgroup running alongside it cancels
// the in-flight completion call.
func (e *Engine) heartbeatWhilePending(ctx context.Context, cfg Config, l *lease.Lease) error {
	interval := lease.HeartbeatInterval(cfg.LeaseTTL)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.leases.Heartbeat(ctx, l, cfg.LeaseTTL); err != nil {
				e.log.Warn("engine: lease heartbeat failed", "campaign_id", l.CampaignID, "actor_id", l.ActorID, "error", err)
				return err
			}
		}
	}
}

// phaseC re-validates the lease, CAS-updates the campaign, appends the turn
// pair, writes the snapshot, applies timer transitions, and appends outbox
// events, all within a single short transaction.
func (e *Engine) phaseC(ctx context.Context, l *lease.Lease, tc *turnContext, input ResolveTurnInput, cr *ports.CompletionResult, sessionID string) (*ResolveTurnResult, error) {
	scope, err := e.uow.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: phase C: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = scope.Rollback(ctx)
		}
	}()

	if err := e.leases.Validate(ctx, l); err != nil {
		return nil, err
	}

	update := store.CampaignUpdate{
		State:         coalesceRaw(cr.State, tc.campaign.State),
		Characters:    coalesceRaw(cr.Characters, tc.campaign.Characters),
		Summary:       coalesceString(cr.Summary, tc.campaign.Summary),
		LastNarration: cr.Narration,
	}
	updatedCampaign, err := scope.Campaigns().CompareAndSwap(ctx, tc.campaign.ID, tc.rv0, update)
	if err != nil {
		return nil, err
	}

	userTurn := &types.Turn{
		CampaignID: tc.campaign.ID,
		ActorID:    l.ActorID,
		Kind:       types.TurnKindUser,
		Content:    input.ActionText,
	}
	if _, err := scope.Turns().Append(ctx, userTurn); err != nil {
		return nil, fmt.Errorf("engine: phase C: append user turn: %w", err)
	}

	narrationTurn := &types.Turn{
		CampaignID: tc.campaign.ID,
		ActorID:    l.ActorID,
		Kind:       types.TurnKindNarration,
		Content:    cr.Narration,
	}
	narrationTurnID, err := scope.Turns().Append(ctx, narrationTurn)
	if err != nil {
		return nil, fmt.Errorf("engine: phase C: append narration turn: %w", err)
	}

	if err := e.writeSnapshot(ctx, scope, updatedCampaign, narrationTurnID); err != nil {
		return nil, err
	}

	if err := e.applyGiveItems(ctx, scope, tc.campaign.ID, cr.GiveItems); err != nil {
		return nil, err
	}

	var events []types.OutboxEvent
	timerEvents, err := e.applyTimer(ctx, scope, tc.campaign.ID, sessionScope(sessionID), cr.Timer)
	if err != nil {
		return nil, err
	}
	events = append(events, timerEvents...)

	if err := scope.Commit(ctx); err != nil {
		return nil, fmt.Errorf("engine: phase C: commit: %w", err)
	}
	committed = true

	return &ResolveTurnResult{
		Narration:       cr.Narration,
		NarrationTurnID: narrationTurnID,
		RowVersionNew:   updatedCampaign.RowVersion,
		EmittedEvents:   events,
	}, nil
}

func (e *Engine) writeSnapshot(ctx context.Context, scope store.Scope, campaign *types.Campaign, narrationTurnID int64) error {
	snap := &types.Snapshot{
		TurnID:        narrationTurnID,
		CampaignID:    campaign.ID,
		CampaignState: campaign.State,
		Characters:    campaign.Characters,
		Summary:       campaign.Summary,
		LastNarration: campaign.LastNarration,
	}
	if err := scope.Snapshots().Create(ctx, snap); err != nil {
		return fmt.Errorf("engine: phase C: write snapshot: %w", err)
	}
	return nil
}

// applyGiveItems resolves each instruction's target mention and ensures a
// player row exists for it. Inventory content itself lives in the opaque
// state blob and is never interpreted here.
func (e *Engine) applyGiveItems(ctx context.Context, scope store.Scope, campaignID string, items []ports.GiveItemInstruction) error {
	if len(items) == 0 {
		return nil
	}
	if e.resolver == nil {
		return fmt.Errorf("engine: phase C: give_items present but no ActorResolver configured: %w", turnerr.ErrPortFailure)
	}
	for _, item := range items {
		actorID, err := e.resolver.Resolve(ctx, campaignID, item.TargetMention)
		if err != nil {
			return fmt.Errorf("engine: phase C: resolve give-item target %q: %w: %w", item.TargetMention, turnerr.ErrPortFailure, err)
		}
		if _, err := scope.Players().GetOrCreate(ctx, campaignID, actorID); err != nil {
			return fmt.Errorf("engine: phase C: ensure player for give-item target %q: %w", actorID, err)
		}
	}
	return nil
}

// applyTimer translates an optional TimerInstruction into a timer.Machine
// transition against the Phase-C scope, returning any outbox events it
// produces.
func (e *Engine) applyTimer(ctx context.Context, scope store.Scope, campaignID, scopeKey string, instr *ports.TimerInstruction) ([]types.OutboxEvent, error) {
	if instr == nil || instr.Action == ports.TimerActionNone {
		return nil, nil
	}
	machine := timer.New(scope.Timers())

	switch instr.Action {
	case ports.TimerActionSchedule:
		dueAt := e.clk.Now().Add(time.Duration(instr.DueInSeconds) * time.Second)
		t, err := machine.Schedule(ctx, campaignID, instr.EventText, instr.Interruptible, instr.InterruptAction, dueAt)
		if err != nil {
			return nil, fmt.Errorf("engine: phase C: schedule timer: %w", err)
		}
		ev := &types.OutboxEvent{
			CampaignID:     campaignID,
			SessionScope:   scopeKey,
			EventType:      types.EventTimerScheduled,
			IdempotencyKey: t.ID,
			Payload:        timerSchedulePayload(t),
		}
		if err := scope.Outbox().Append(ctx, ev); err != nil {
			return nil, fmt.Errorf("engine: phase C: append timer_scheduled event: %w", err)
		}
		return []types.OutboxEvent{*ev}, nil

	case ports.TimerActionBind:
		if _, err := machine.Bind(ctx, campaignID, instr.MessageID, instr.ChannelID, instr.ThreadID); err != nil {
			return nil, fmt.Errorf("engine: phase C: bind timer: %w", err)
		}
		return nil, nil

	case ports.TimerActionCancel:
		if err := machine.Cancel(ctx, campaignID); err != nil {
			return nil, fmt.Errorf("engine: phase C: cancel timer: %w", err)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("engine: phase C: unknown timer action %q", instr.Action)
	}
}

func timerSchedulePayload(t *types.Timer) []byte {
	return []byte(fmt.Sprintf(`{"timer_id":%q,"event_text":%q,"due_at":%q}`,
		t.ID, jsonEscape(t.EventText), t.DueAt.Format(time.RFC3339)))
}

func jsonEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}

func formatRecentTurns(turns []types.Turn) string {
	var b strings.Builder
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		fmt.Fprintf(&b, "[%s] %s: %s\n", t.Kind, t.ActorID, t.Content)
	}
	return b.String()
}

func coalesceRaw(next, prev []byte) []byte {
	if len(next) == 0 {
		return prev
	}
	return next
}

func coalesceString(next, prev string) string {
	if next == "" {
		return prev
	}
	return next
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sessionScope(sessionID string) string {
	if sessionID == "" {
		return types.DefaultSessionScope
	}
	return sessionID
}
