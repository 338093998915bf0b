package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestHandlerOptions_SourceOnlyAtError(t *testing.T) {
	assert.False(t, handlerOptions(slog.LevelDebug).AddSource)
	assert.False(t, handlerOptions(slog.LevelInfo).AddSource)
	assert.False(t, handlerOptions(slog.LevelWarn).AddSource)
	assert.True(t, handlerOptions(slog.LevelError).AddSource)
}
