package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewDefaultsToInfoOnBadLevel(t *testing.T) {
	logger := New("collector", "not-a-level", "json")
	assert.Equal(t, "info", logger.Logger.Level.String())
}

func TestEntriesCarryComponent(t *testing.T) {
	logger := New("collector", "debug", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.Info(context.Background(), "engine started", map[string]interface{}{"sources": 3})

	entry := captureJSON(t, &buf)
	assert.Equal(t, "collector", entry["component"])
	assert.Equal(t, "engine started", entry["message"])
	assert.Equal(t, float64(3), entry["sources"])
}

func TestWithContextPropagatesIdentifiers(t *testing.T) {
	logger := New("periscope", "debug", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithActor(ctx, "analyst-7")
	ctx = WithSourceID(ctx, "vendor-feed")
	logger.Warn(ctx, "slow store write", nil)

	entry := captureJSON(t, &buf)
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "analyst-7", entry["actor"])
	assert.Equal(t, "vendor-feed", entry["source_id"])
}

func TestErrorAttachesError(t *testing.T) {
	logger := New("sinks", "debug", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.Error(context.Background(), "graph upsert failed", errors.New("connection refused"), map[string]interface{}{"item_id": "abc"})

	entry := captureJSON(t, &buf)
	assert.Equal(t, "connection refused", entry["error"])
	assert.Equal(t, "abc", entry["item_id"])
	assert.Equal(t, "error", entry["level"])
}

func TestErrorWithNilError(t *testing.T) {
	logger := New("sinks", "debug", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.Error(context.Background(), "rejected", nil, nil)

	entry := captureJSON(t, &buf)
	_, hasErr := entry["error"]
	assert.False(t, hasErr)
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	logger := New("collector", "info", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.Debug(context.Background(), "noisy detail", nil)
	assert.Zero(t, buf.Len())
}

func TestLogFetch(t *testing.T) {
	logger := New("collector", "debug", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.LogFetch(context.Background(), "vendor-feed", "feed", "ok", 12, 340*time.Millisecond)

	entry := captureJSON(t, &buf)
	assert.Equal(t, "vendor-feed", entry["source_id"])
	assert.Equal(t, "ok", entry["outcome"])
	assert.Equal(t, float64(12), entry["items"])
	assert.Equal(t, float64(340), entry["duration_ms"])
}

func TestLogTierMove(t *testing.T) {
	logger := New("decay", "debug", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.LogTierMove(context.Background(), "item-1", "L2", "L3", "cold")

	entry := captureJSON(t, &buf)
	assert.Equal(t, "L2", entry["from"])
	assert.Equal(t, "L3", entry["to"])
	assert.Equal(t, "cold", entry["reason"])
}

func TestLogRequest(t *testing.T) {
	logger := New("ops", "info", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.LogRequest(context.Background(), "GET", "/debug/stats", 200, 12*time.Millisecond)

	entry := captureJSON(t, &buf)
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/debug/stats", entry["path"])
	assert.Equal(t, float64(200), entry["status_code"])
}

func TestLogSecurityEventIsWarn(t *testing.T) {
	logger := New("ops", "info", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.LogSecurityEvent(context.Background(), "rate_limit_exceeded", map[string]interface{}{"client_ip": "203.0.113.9"})

	entry := captureJSON(t, &buf)
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "rate_limit_exceeded", entry["event_type"])
	assert.Equal(t, "203.0.113.9", entry["client_ip"])
}

func TestTraceIDRoundTrip(t *testing.T) {
	id := NewTraceID()
	require.NotEmpty(t, id)
	assert.NotEqual(t, id, NewTraceID())

	ctx := WithTraceID(context.Background(), id)
	assert.Equal(t, id, GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestActorAndSourceAccessors(t *testing.T) {
	ctx := WithActor(context.Background(), "analyst-1")
	assert.Equal(t, "analyst-1", GetActor(ctx))
	assert.Empty(t, GetActor(context.Background()))

	ctx = WithSourceID(ctx, "src-9")
	assert.Equal(t, "src-9", GetSourceID(ctx))
	assert.Empty(t, GetSourceID(context.Background()))
}

func TestTextFormatter(t *testing.T) {
	logger := New("collector", "info", "text")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.Info(context.Background(), "plain text entry", nil)
	assert.Contains(t, buf.String(), "plain text entry")
	assert.Contains(t, buf.String(), "component=collector")
}
