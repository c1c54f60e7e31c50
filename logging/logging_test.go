package logging

import (
	"bytes"
	"log/slog"
	"testing"

	json "github.com/goccy/go-json"
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
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, FormatJSON, "info")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("hello", "bucket", "logs")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "hello", rec["msg"])
	require.Equal(t, "logs", rec["bucket"])
	require.Equal(t, "trailcheck", rec["app"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, FormatText, "warn")
	require.NoError(t, err)

	logger.Info("skipped")
	logger.Warn("kept")
	require.NotContains(t, buf.String(), "skipped")
	require.Contains(t, buf.String(), "msg=kept")
}

func TestNew_BadFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "xml", "info")
	require.Error(t, err)
}

func TestOrDefault(t *testing.T) {
	require.Same(t, slog.Default(), OrDefault(nil))
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	require.Same(t, l, OrDefault(l))
}
