package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.in))
		})
	}
}

func TestNewHandler(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewHandler(&buf, "json", "info"))
		logger.Info("refresh completed", "items", 5)

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "refresh completed", rec["msg"])
		assert.EqualValues(t, 5, rec["items"])
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewHandler(&buf, "text", "warn"))
		logger.Info("hidden")
		assert.Empty(t, buf.String())

		logger.Warn("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("pretty", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(NewHandler(&buf, "pretty", "info"))
		logger.Info("hello", "source", "HackerNews")
		assert.Contains(t, buf.String(), "hello")
		assert.Contains(t, buf.String(), "HackerNews")
	})
}
