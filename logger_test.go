package vqgo

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		out = append(out, rec)
	}
	return out
}

func TestLogger_LogProgress(t *testing.T) {
	l, buf := captureLogger(slog.LevelInfo)
	l.LogProgress(context.Background(), 50, 200, Losses{Recon: 0.5, VQ: 0.25}, time.Millisecond, 4096)

	recs := decodeLines(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "training", recs[0]["msg"])
	assert.Equal(t, 25.0, recs[0]["percent"])
	assert.Equal(t, 4096.0, recs[0]["prefetch_bytes"])
}

func TestLogger_LogCodebookUsage(t *testing.T) {
	l, buf := captureLogger(slog.LevelDebug)
	l.LogCodebookUsage(context.Background(), 2, 4, []int{1, 3}, 1.9)

	recs := decodeLines(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "codebook usage", recs[0]["msg"])
	assert.Equal(t, 2.0, recs[0]["dead"])
	assert.Equal(t, "dead codebook entries", recs[1]["msg"])
	assert.Equal(t, []any{1.0, 3.0}, recs[1]["indices"])

	l.LogCodebookUsage(context.Background(), 4, 4, nil, 4)
	recs = decodeLines(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, 0.0, recs[0]["dead"])
}
