package core

import (
	"context"
	"sync"
)

type recordedLog struct {
	level string
	msg   string
}

// testLogger records log calls so tests can assert on emitted keys.
type testLogger struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (l *testLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedLog{level: level, msg: msg})
}

func (l *testLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *testLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *testLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *testLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *testLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.msg
	}
	return out
}

func newRunContextForTest() (*RunContext, chan Event, *testLogger) {
	emit := make(chan Event, 10)
	logger := &testLogger{}
	rc := NewRunContext(context.Background(), "sess-1", "canvas-1", "run-1", emit, 0, logger)
	return rc, emit, logger
}
