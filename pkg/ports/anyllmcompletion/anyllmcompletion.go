// Package anyllmcompletion adapts github.com/mozilla-ai/any-llm-go into
// pkg/ports.TextCompletion, instructing the backend to emit a JSON object
// matching the engine's structured output schema (narration, optional
// timer instruction, optional give-item instructions) and parsing it back
// out of the response content.
package anyllmcompletion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/harrowgate/turnengine/pkg/ports"
	"github.com/harrowgate/turnengine/pkg/turnerr"
)

const systemPrompt = `You are the narration engine for a persistent multi-actor text adventure.
Respond with a single JSON object and nothing else, matching this shape:
{
  "narration": "string, required",
  "state": {},
  "characters": {},
  "summary": "string",
  "timer": {
    "action": "schedule|cancel|bind",
    "event_text": "string",
    "interruptible": true,
    "interrupt_action": "string",
    "due_in_seconds": 60,
    "message_id": "string",
    "channel_id": "string",
    "thread_id": "string"
  },
  "give_items": [
    {"target_mention": "string", "item_name": "string", "quantity": 1}
  ]
}
"timer" and "give_items" are optional and may be omitted entirely.`

// Adapter implements ports.TextCompletion over any-llm-go.
type Adapter struct {
	backend anyllmlib.Provider
	model   string
}

// New constructs an Adapter for providerName ("openai", "anthropic",
// "gemini", or "ollama") and model, forwarding opts to any-llm-go (API keys,
// base URLs, etc).
func New(providerName, model string, opts ...anyllmlib.Option) (*Adapter, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllmcompletion: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllmcompletion: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllmcompletion: create %q backend: %w", providerName, err)
	}
	return &Adapter{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama", providerName)
	}
}

// Complete implements ports.TextCompletion.
func (a *Adapter) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResult, error) {
	params := anyllmlib.CompletionParams{
		Model: a.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: buildUserPrompt(req)},
		},
	}

	resp, err := a.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllmcompletion: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllmcompletion: empty choices in response: %w", turnerr.ErrBadModelOutput)
	}

	return parseCompletion(resp.Choices[0].Message.ContentString())
}

func buildUserPrompt(req ports.CompletionRequest) string {
	var b strings.Builder
	if req.Summary != "" {
		fmt.Fprintf(&b, "Summary so far: %s\n", req.Summary)
	}
	if req.LastNarration != "" {
		fmt.Fprintf(&b, "Last narration: %s\n", req.LastNarration)
	}
	if req.RecentTurnsPrompt != "" {
		fmt.Fprintf(&b, "Recent turns:\n%s\n", req.RecentTurnsPrompt)
	}
	fmt.Fprintf(&b, "Actor %s takes the action: %s\n", req.ActorID, req.ActionText)
	return b.String()
}

type wireTimer struct {
	Action          string `json:"action"`
	EventText       string `json:"event_text"`
	Interruptible   bool   `json:"interruptible"`
	InterruptAction string `json:"interrupt_action"`
	DueInSeconds    int64  `json:"due_in_seconds"`
	MessageID       string `json:"message_id"`
	ChannelID       string `json:"channel_id"`
	ThreadID        string `json:"thread_id"`
}

type wireGiveItem struct {
	TargetMention string `json:"target_mention"`
	ItemName      string `json:"item_name"`
	Quantity      int    `json:"quantity"`
}

type wireResult struct {
	Narration  string          `json:"narration"`
	State      json.RawMessage `json:"state"`
	Characters json.RawMessage `json:"characters"`
	Summary    string          `json:"summary"`
	Timer      *wireTimer      `json:"timer"`
	GiveItems  []wireGiveItem  `json:"give_items"`
}

// parseCompletion decodes content into a ports.CompletionResult. Some
// backends wrap JSON in a markdown code fence despite instructions; that
// fence is stripped before decoding.
func parseCompletion(content string) (*ports.CompletionResult, error) {
	content = stripCodeFence(content)

	var wire wireResult
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return nil, fmt.Errorf("anyllmcompletion: decode structured output: %w: %w", err, turnerr.ErrBadModelOutput)
	}
	if wire.Narration == "" {
		return nil, fmt.Errorf("anyllmcompletion: missing narration: %w", turnerr.ErrBadModelOutput)
	}

	result := &ports.CompletionResult{
		Narration:  wire.Narration,
		State:      wire.State,
		Characters: wire.Characters,
		Summary:    wire.Summary,
	}
	if wire.Timer != nil {
		result.Timer = &ports.TimerInstruction{
			Action:          ports.TimerAction(wire.Timer.Action),
			EventText:       wire.Timer.EventText,
			Interruptible:   wire.Timer.Interruptible,
			InterruptAction: wire.Timer.InterruptAction,
			DueInSeconds:    wire.Timer.DueInSeconds,
			MessageID:       wire.Timer.MessageID,
			ChannelID:       wire.Timer.ChannelID,
			ThreadID:        wire.Timer.ThreadID,
		}
	}
	for _, gi := range wire.GiveItems {
		result.GiveItems = append(result.GiveItems, ports.GiveItemInstruction{
			TargetMention: gi.TargetMention,
			ItemName:      gi.ItemName,
			Quantity:      gi.Quantity,
		})
	}
	return result, nil
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
