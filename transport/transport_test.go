package transport

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/stream"
)

func TestWatermillDeliversInOrder(t *testing.T) {
	w := NewWatermill()
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := w.Subscribe(ctx, "s1")
	require.NoError(t, err)

	sent := []stream.Frame{
		stream.Delta("a"),
		stream.ToolCall("c1", "generate_image"),
		stream.ToolCallArguments("c1", `{"prompt":"cat"}`),
		stream.AllMessages([]core.Message{core.NewUserMessage("draw a cat")}),
		stream.Done(),
	}
	go func() {
		for _, f := range sent {
			assert.NoError(t, w.Publish(context.Background(), "s1", f))
		}
	}()

	for i, want := range sent {
		select {
		case got := <-frames:
			assert.Equal(t, want.Type, got.Type, "frame %d", i)
			assert.Equal(t, want.ID, got.ID, "frame %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestWatermillSessionsAreIsolated(t *testing.T) {
	w := NewWatermill()
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other, err := w.Subscribe(ctx, "s2")
	require.NoError(t, err)

	require.NoError(t, w.Publish(context.Background(), "s1", stream.Done()))

	select {
	case f := <-other:
		t.Fatalf("unexpected frame %v", f.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutSubscriber(t *testing.T) {
	w := NewWatermill()
	defer func() { _ = w.Close() }()
	assert.NoError(t, w.Publish(context.Background(), "nobody", stream.Delta("x")))
}

func TestWatermillDropsFramesOfStalledSubscriber(t *testing.T) {
	w := NewWatermill(func(o *Options) { o.SendTimeout = 20 * time.Millisecond })
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := w.Subscribe(ctx, "s1")
	require.NoError(t, err)

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < 3; i++ {
			assert.NoError(t, w.Publish(context.Background(), "s1", stream.Delta("stalled")))
		}
	}()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a subscriber that does not read")
	}

	go func() { assert.NoError(t, w.Publish(context.Background(), "s1", stream.Done())) }()

	select {
	case f := <-frames:
		assert.Equal(t, stream.FrameDone, f.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame after the stall")
	}
}

func TestWatermillDefaultSendTimeout(t *testing.T) {
	w := NewWatermill(func(o *Options) { o.SendTimeout = -1 })
	defer func() { _ = w.Close() }()
	assert.Equal(t, DefaultSendTimeout, w.sendTimeout)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "session.abc", Topic("abc"))
}

func TestRecorderChains(t *testing.T) {
	inner := NewRecorder(nil)
	r := NewRecorder(inner)

	require.NoError(t, r.Publish(context.Background(), "s1", stream.Delta("a")))
	require.NoError(t, r.Publish(context.Background(), "s1", stream.Done()))
	require.NoError(t, r.Publish(context.Background(), "s2", stream.Done()))

	assert.Equal(t, []stream.FrameType{stream.FrameDelta, stream.FrameDone}, r.Types("s1"))
	assert.Equal(t, r.Frames("s1"), inner.Frames("s1"))
	assert.Len(t, r.Frames("s2"), 1)

	r.Reset()
	assert.Empty(t, r.Frames("s1"))
}

type captured struct {
	level, msg string
	args       []any
}

type captureLogger struct{ entries []captured }

func (c *captureLogger) Debug(msg string, args ...any) { c.add("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.add("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.add("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.add("error", msg, args) }
func (c *captureLogger) add(level, msg string, args []any) {
	c.entries = append(c.entries, captured{level: level, msg: msg, args: args})
}

func TestWatermillLoggerBridge(t *testing.T) {
	l := &captureLogger{}
	wl := NewWatermillLogger(l).With(watermill.LogFields{"topic": "session.s1"})

	wl.Info("subscribed", nil)
	wl.Error("publish failed", assert.AnError, watermill.LogFields{"uuid": "u1"})
	wl.Trace("noise", nil)

	require.Len(t, l.entries, 2)
	assert.Equal(t, "debug", l.entries[0].level)
	assert.Equal(t, []any{"topic", "session.s1"}, l.entries[0].args)
	assert.Equal(t, "error", l.entries[1].level)
	assert.Contains(t, l.entries[1].args, assert.AnError.Error())
	assert.Contains(t, l.entries[1].args, "u1")
}
