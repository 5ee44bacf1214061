package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSetup_AddsServiceAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("lee-social", "1.2.3", "json", "info", &buf)

	ctx := WithRequestID(context.Background(), "req-42")
	logger.InfoContext(ctx, "hello", "k", "v")

	entry := decode(t, &buf)
	assert.Equal(t, "lee-social", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "v", entry["k"])
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("svc", "dev", "json", "warn", &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	Setup("svc", "dev", "text", "", &buf).With("a", 1).Info("hi")
	assert.Contains(t, buf.String(), "msg=hi")
	assert.Contains(t, buf.String(), "service=svc")
	assert.Contains(t, buf.String(), "a=1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("COMMUNITY_NOT_FOUND").With("community_id", "c1").Errorf("community not found")
	LogError(context.Background(), logger, "join failed", err)

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "join failed", entry["msg"])
	assert.Equal(t, "COMMUNITY_NOT_FOUND", entry["code"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogError(context.Background(), logger, "op failed", errors.New("plain"))

	entry := decode(t, &buf)
	assert.Contains(t, entry["error"], "plain")
	assert.NotContains(t, entry, "code")
}
