package anyllmcompletion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harrowgate/turnengine/pkg/ports"
	"github.com/harrowgate/turnengine/pkg/turnerr"
)

func TestParseCompletionNarrationOnly(t *testing.T) {
	result, err := parseCompletion(`{"narration": "You see a lamp."}`)
	require.NoError(t, err)
	require.Equal(t, "You see a lamp.", result.Narration)
	require.Nil(t, result.Timer)
	require.Empty(t, result.GiveItems)
}

func TestParseCompletionStripsCodeFence(t *testing.T) {
	result, err := parseCompletion("```json\n{\"narration\": \"fenced\"}\n```")
	require.NoError(t, err)
	require.Equal(t, "fenced", result.Narration)
}

func TestParseCompletionWithTimerAndGiveItems(t *testing.T) {
	content := `{
		"narration": "Dawn approaches.",
		"timer": {"action": "schedule", "event_text": "dawn", "interruptible": true, "due_in_seconds": 60},
		"give_items": [{"target_mention": "the dwarf", "item_name": "torch", "quantity": 1}]
	}`
	result, err := parseCompletion(content)
	require.NoError(t, err)
	require.NotNil(t, result.Timer)
	require.Equal(t, ports.TimerActionSchedule, result.Timer.Action)
	require.Equal(t, int64(60), result.Timer.DueInSeconds)
	require.Len(t, result.GiveItems, 1)
	require.Equal(t, "torch", result.GiveItems[0].ItemName)
}

func TestParseCompletionMissingNarrationIsBadModelOutput(t *testing.T) {
	_, err := parseCompletion(`{"timer": null}`)
	require.ErrorIs(t, err, turnerr.ErrBadModelOutput)
}

func TestParseCompletionInvalidJSONIsBadModelOutput(t *testing.T) {
	_, err := parseCompletion("not json at all")
	require.ErrorIs(t, err, turnerr.ErrBadModelOutput)
}
