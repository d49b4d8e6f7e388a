package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerHonorsLevel(t *testing.T) {
	cases := []struct {
		level       string
		debugOn     bool
		warnEnabled bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, true},
		{"error", false, false},
		{"", false, true},
		{"bogus", false, true},
	}
	for _, tc := range cases {
		logger := NewLogger(&Config{LogLevel: tc.level})
		assert.Equal(t, tc.debugOn, logger.Enabled(context.Background(), slog.LevelDebug), "level %q debug", tc.level)
		assert.Equal(t, tc.warnEnabled, logger.Enabled(context.Background(), slog.LevelWarn), "level %q warn", tc.level)
	}
}

func TestLoggerNilConfigDefaultsToInfo(t *testing.T) {
	logger := NewLogger(nil)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
