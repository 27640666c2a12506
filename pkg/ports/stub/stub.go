// Package stub provides in-memory implementations of every pkg/ports
// interface, used by engine tests that need a capability port without a
// real backend.
package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/harrowgate/turnengine/pkg/memoryvis"
	"github.com/harrowgate/turnengine/pkg/ports"
)

// TextCompletion is a scripted ports.TextCompletion: each call to Complete
// pops the next queued result, or returns Err if the queue is empty and Err
// is set.
type TextCompletion struct {
	mu      sync.Mutex
	Results []*ports.CompletionResult
	Err     error
	Calls   []ports.CompletionRequest
}

// Complete implements ports.TextCompletion.
func (s *TextCompletion) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, req)
	if len(s.Results) == 0 {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, fmt.Errorf("stub: no queued completion result")
	}
	result := s.Results[0]
	s.Results = s.Results[1:]
	return result, nil
}

// ActorResolver resolves mentions via a static lookup table, defaulting to
// the mention itself when no entry matches.
type ActorResolver struct {
	Mentions map[string]string
}

// Resolve implements ports.ActorResolver.
func (s *ActorResolver) Resolve(ctx context.Context, campaignID, mention string) (string, error) {
	if actorID, ok := s.Mentions[mention]; ok {
		return actorID, nil
	}
	return mention, nil
}

// MemorySearch returns a fixed list of hits regardless of query.
type MemorySearch struct {
	Hits []memoryvis.Hit
}

// Search implements ports.MemorySearch.
func (s *MemorySearch) Search(ctx context.Context, campaignID, query string, limit int) ([]memoryvis.Hit, error) {
	if limit > 0 && limit < len(s.Hits) {
		return s.Hits[:limit], nil
	}
	return s.Hits, nil
}

// TimerEffects records every Apply call instead of doing anything.
type TimerEffects struct {
	mu       sync.Mutex
	Applied  []string
	Err      error
}

// Apply implements ports.TimerEffects.
func (s *TimerEffects) Apply(ctx context.Context, campaignID, timerID, eventText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Applied = append(s.Applied, timerID)
	return nil
}

// IMDbLookup returns Title for any query.
type IMDbLookup struct {
	Title string
	Err   error
}

// Lookup implements ports.IMDbLookup.
func (s *IMDbLookup) Lookup(ctx context.Context, query string) (string, error) {
	return s.Title, s.Err
}

// MediaGeneration returns a fixed URI for any prompt.
type MediaGeneration struct {
	URI string
	Err error
}

// Generate implements ports.MediaGeneration.
func (s *MediaGeneration) Generate(ctx context.Context, campaignID, prompt string) (string, error) {
	return s.URI, s.Err
}
