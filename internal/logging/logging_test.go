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
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("participant joined", "agent_id", "agent-42")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "participant joined", line["msg"])
	assert.Equal(t, "agent-42", line["agent_id"])
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New("info", "xml", nil)
	assert.Error(t, err)
}
