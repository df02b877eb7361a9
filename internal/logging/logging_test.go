package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelFromString("DEBUG"))
	assert.Equal(t, slog.LevelWarn, LevelFromString("warning"))
	assert.Equal(t, slog.LevelError, LevelFromString(" error "))
	assert.Equal(t, slog.LevelInfo, LevelFromString("chatty"))
}

func TestLevelFromVerbosity(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, LevelFromVerbosity(0, false))
	assert.Equal(t, slog.LevelInfo, LevelFromVerbosity(1, false))
	assert.Equal(t, slog.LevelDebug, LevelFromVerbosity(3, false))
	assert.True(t, LevelFromVerbosity(3, true) > slog.LevelError)
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "k=v")
}

func TestDiscard(t *testing.T) {
	assert.False(t, Discard().Enabled(context.Background(), slog.LevelError))
}
