// Package ports declares the capability interfaces the turn engine depends
// on but does not implement: text completion, actor resolution, memory
// search, timer effects, and the two outbox-only consumers (IMDb-style
// lookup, media generation). Every port is small and context-first,
// mirroring a typical LLM-provider client shape.
package ports

import (
	"context"
	"encoding/json"

	"github.com/harrowgate/turnengine/pkg/memoryvis"
)

// TimerAction names the instruction a completion response carries for the
// campaign's timer, if any.
type TimerAction string

const (
	TimerActionNone     TimerAction = ""
	TimerActionSchedule TimerAction = "schedule"
	TimerActionCancel   TimerAction = "cancel"
	TimerActionBind     TimerAction = "bind"
)

// TimerInstruction is the optional timer side effect parsed out of a
// completion response.
type TimerInstruction struct {
	Action          TimerAction
	EventText       string
	Interruptible   bool
	InterruptAction string
	DueInSeconds    int64
	MessageID       string
	ChannelID       string
	ThreadID        string
}

// GiveItemInstruction is one inventory transfer parsed out of a completion
// response. TargetMention is resolved to an actor ID via ActorResolver.
type GiveItemInstruction struct {
	TargetMention string
	ItemName      string
	Quantity      int
}

// CompletionRequest carries everything Phase B assembles for the
// TextCompletion call.
type CompletionRequest struct {
	CampaignID  string
	ActorID     string
	ActionText  string
	Summary     string
	LastNarration string
	RecentTurnsPrompt string
}

// CompletionResult is the structured output Phase B parses a completion
// response into. Narration is always required; the rest are optional. State,
// Characters, and Summary are the campaign's opaque blobs as the model wants
// them to read after this turn; an empty value means "leave unchanged" and
// is never itself a meaningful campaign state.
type CompletionResult struct {
	Narration  string
	State      json.RawMessage
	Characters json.RawMessage
	Summary    string
	Timer      *TimerInstruction
	GiveItems  []GiveItemInstruction
}

// TextCompletion is the LLM call at the center of Phase B.
type TextCompletion interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// ActorResolver resolves a free-text mention (e.g. "the dwarf", "@Bram") to
// the actor_id used for a give-item instruction's target.
type ActorResolver interface {
	Resolve(ctx context.Context, campaignID, mention string) (actorID string, err error)
}

// MemorySearch is the external similarity index over prior turns. Results
// must be passed through memoryvis.Filter before use.
type MemorySearch interface {
	Search(ctx context.Context, campaignID, query string, limit int) ([]memoryvis.Hit, error)
}

// TimerEffects applies the narrative consequence of an expired timer. No code
// in this module calls it; timer.Machine.SweepExpired returns the expired rows
// for a caller to pass here before Consume.
type TimerEffects interface {
	Apply(ctx context.Context, campaignID, timerID, eventText string) error
}

// IMDbLookup performs reference lookups. Phase B never calls it, and no code
// in this module (the outbox drain worker included) calls it.
type IMDbLookup interface {
	Lookup(ctx context.Context, query string) (title string, err error)
}

// MediaGeneration produces scene images. Phase B never calls it, and no code
// in this module (the outbox drain worker included) calls it.
type MediaGeneration interface {
	Generate(ctx context.Context, campaignID, prompt string) (uri string, err error)
}
