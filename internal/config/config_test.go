package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harrowgate/turnengine/internal/config"
)

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()
	require.True(t, config.LogLevelDebug.IsValid())
	require.True(t, config.LogLevelInfo.IsValid())
	require.True(t, config.LogLevelWarn.IsValid())
	require.True(t, config.LogLevelError.IsValid())
	require.False(t, config.LogLevel("verbose").IsValid())
	require.False(t, config.LogLevel("").IsValid())
}
