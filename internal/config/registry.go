package config

import (
	"errors"
	"fmt"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/harrowgate/turnengine/pkg/ports"
	"github.com/harrowgate/turnengine/pkg/ports/anyllmcompletion"
)

// ErrProviderNotRegistered is returned by CreateCompletion when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: completion provider not registered")

// Registry maps completion provider names to their constructor functions.
// It is safe for concurrent use. The turn engine only has one capability
// port with a real backend (TextCompletion); ActorResolver, MemorySearch,
// TimerEffects, IMDbLookup, and MediaGeneration are wired directly from
// their in-memory stubs or left nil by callers that don't need them.
type Registry struct {
	mu         sync.RWMutex
	completion map[string]func(ProviderEntry) (ports.TextCompletion, error)
}

// NewRegistry returns a [Registry] pre-populated with factories for every
// any-llm-go backend the completion adapter supports.
func NewRegistry() *Registry {
	r := &Registry{
		completion: make(map[string]func(ProviderEntry) (ports.TextCompletion, error)),
	}
	for _, name := range ValidCompletionProviders {
		r.RegisterCompletion(name, anyllmFactory(name))
	}
	return r
}

// RegisterCompletion registers a completion provider factory under name,
// overwriting any previous registration.
func (r *Registry) RegisterCompletion(name string, factory func(ProviderEntry) (ports.TextCompletion, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completion[name] = factory
}

// CreateCompletion instantiates the TextCompletion port using the factory
// registered under entry.Name.
func (r *Registry) CreateCompletion(entry ProviderEntry) (ports.TextCompletion, error) {
	r.mu.RLock()
	factory, ok := r.completion[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// anyllmFactory builds the factory function for a single any-llm-go backend
// name, translating a [ProviderEntry]'s credentials into any-llm-go options.
func anyllmFactory(providerName string) func(ProviderEntry) (ports.TextCompletion, error) {
	return func(entry ProviderEntry) (ports.TextCompletion, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllmcompletion.New(providerName, entry.Model, opts...)
	}
}
