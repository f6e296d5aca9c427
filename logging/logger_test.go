package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LogLevelInfo, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestStructuredLogger_ScopeAndPairs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf}).
		WithComponent("orchestrator").
		WithSession("sess-1", "run-1")

	l.Info("orchestrator.handoff", "from", "planner", "to", "image_video_creator")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "orchestrator.handoff", entry["msg"])
	assert.Equal(t, "orchestrator", entry["component"])
	assert.Equal(t, "sess-1", entry["session_id"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "planner", entry["from"])
	assert.Equal(t, "image_video_creator", entry["to"])
}

func TestStructuredLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Output: &buf})
	l.Info("hidden")
	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(&buf, LogLevelDebug, "json")
	l.Debug("stream.delta", "session_id", "s1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stream.delta", entry["message"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestLogToolCall(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Output: &buf})

	LogToolCall(l, "write_plan", 5*time.Millisecond, nil)
	assert.Contains(t, buf.String(), "tool.call.completed")

	buf.Reset()
	LogToolCall(l, "write_plan", time.Millisecond, errors.New("boom"))
	assert.Contains(t, buf.String(), "tool.call.failed")
	assert.Contains(t, buf.String(), "boom")
}

func TestOrNoOp(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, OrNoOp(nil))
}
