package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harrowgate/turnengine/internal/config"
	"github.com/harrowgate/turnengine/pkg/ports"
	"github.com/harrowgate/turnengine/pkg/ports/stub"
)

func TestNewRegistryHasKnownBackends(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	for _, name := range config.ValidCompletionProviders {
		_, err := r.CreateCompletion(config.ProviderEntry{Name: name, Model: "test-model"})
		require.NoError(t, err, "backend %q should construct without error given only a model", name)
	}
}

func TestCreateCompletionUnknownProvider(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateCompletion(config.ProviderEntry{Name: "not-a-real-backend", Model: "x"})
	require.ErrorIs(t, err, config.ErrProviderNotRegistered)
}

func TestRegisterCompletionOverridesFactory(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	called := false
	r.RegisterCompletion("openai", func(entry config.ProviderEntry) (ports.TextCompletion, error) {
		called = true
		return &stub.TextCompletion{}, nil
	})

	got, err := r.CreateCompletion(config.ProviderEntry{Name: "openai", Model: "gpt-4o"})
	require.NoError(t, err)
	require.True(t, called)
	require.IsType(t, &stub.TextCompletion{}, got)
}
