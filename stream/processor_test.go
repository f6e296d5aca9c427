package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-unicorn-dev/canvas/core"
)

type capture struct {
	mu     sync.Mutex
	frames []Frame
}

func (c *capture) Publish(_ context.Context, _ string, f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *capture) types() []FrameType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FrameType, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Type)
	}
	return out
}

type memStore struct {
	msgs   []core.Message
	failAt int
}

func (s *memStore) AppendMessage(_ context.Context, _ string, msg core.Message) error {
	if s.failAt > 0 && len(s.msgs)+1 == s.failAt {
		s.failAt = 0
		return errors.New("disk full")
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func announce(id, name string) core.Event {
	return core.NewFunctionCallDeltaEvent("r1", "planner", core.FunctionCall{ID: id, Name: name})
}

func fragment(text string) core.Event {
	return core.NewFunctionCallDeltaEvent("r1", "planner", core.FunctionCall{Arguments: text})
}

func TestCheckpointPersistsExactlyOnce(t *testing.T) {
	pub, store := &capture{}, &memStore{}
	user := core.NewUserMessage("hi")
	p := NewProcessor("s1", pub, store, func(o *Options) { o.InitialIndex = 1 })

	a1 := core.NewAssistantMessage("planner", "one")
	a2 := core.NewAssistantMessage("planner", "two")

	require.NoError(t, p.Handle(context.Background(), core.NewCheckpointEvent("r1", "planner", []core.Message{user, a1})))
	require.NoError(t, p.Handle(context.Background(), core.NewCheckpointEvent("r1", "planner", []core.Message{user, a1})))
	require.NoError(t, p.Handle(context.Background(), core.NewCheckpointEvent("r1", "planner", []core.Message{user, a1, a2})))

	require.Len(t, store.msgs, 2)
	assert.Equal(t, a1.ID, store.msgs[0].ID)
	assert.Equal(t, a2.ID, store.msgs[1].ID)
	assert.Equal(t, 3, p.LastSavedIndex())
	assert.Equal(t, []FrameType{FrameAllMessages, FrameAllMessages, FrameAllMessages}, pub.types())
}

func TestPersistFailureRetriedOnNextCheckpoint(t *testing.T) {
	pub, store := &capture{}, &memStore{failAt: 2}
	p := NewProcessor("s1", pub, store)

	a1 := core.NewAssistantMessage("planner", "one")
	a2 := core.NewAssistantMessage("planner", "two")

	err := p.Handle(context.Background(), core.NewCheckpointEvent("r1", "planner", []core.Message{a1, a2}))
	require.Error(t, err)
	assert.Equal(t, 1, p.LastSavedIndex())

	require.NoError(t, p.Handle(context.Background(), core.NewCheckpointEvent("r1", "planner", []core.Message{a1, a2})))
	require.Len(t, store.msgs, 2)
	assert.Equal(t, a2.ID, store.msgs[1].ID)
}

func TestToolCallStreaming(t *testing.T) {
	pub := &capture{}
	p := NewProcessor("s1", pub, &memStore{})
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, core.NewTextDeltaEvent("r1", "planner", "Let me")))
	require.NoError(t, p.Handle(ctx, announce("call_1", "generate_image")))
	require.NoError(t, p.Handle(ctx, fragment(`{"prompt":`)))
	require.NoError(t, p.Handle(ctx, fragment(`"cat"}`)))

	require.Len(t, pub.frames, 4)
	assert.Equal(t, Delta("Let me"), pub.frames[0])
	assert.Equal(t, ToolCall("call_1", "generate_image"), pub.frames[1])
	assert.Equal(t, "{}", pub.frames[1].Arguments)
	assert.Equal(t, ToolCallArguments("call_1", `{"prompt":`), pub.frames[2])
	assert.Equal(t, ToolCallArguments("call_1", `"cat"}`), pub.frames[3])
}

func TestFragmentsFollowLatestAnnouncement(t *testing.T) {
	pub := &capture{}
	p := NewProcessor("s1", pub, &memStore{})
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, announce("a", "t1")))
	require.NoError(t, p.Handle(ctx, announce("b", "t2")))
	require.NoError(t, p.Handle(ctx, fragment("x")))

	last := pub.frames[len(pub.frames)-1]
	assert.Equal(t, "b", last.ID)
}

func TestOrphanFragmentDropped(t *testing.T) {
	pub := &capture{}
	p := NewProcessor("s1", pub, &memStore{})

	require.NoError(t, p.Handle(context.Background(), fragment(`{"a":1}`)))
	assert.Empty(t, pub.frames)
}

func TestHiddenToolsNotAnnounced(t *testing.T) {
	pub := &capture{}
	p := NewProcessor("s1", pub, &memStore{}, func(o *Options) {
		o.Hidden = func(name string) bool { return name == "upload_to_instagram" }
	})
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, announce("c1", "upload_to_instagram")))
	require.NoError(t, p.Handle(ctx, fragment(`{"caption":"hi"}`)))
	assert.Empty(t, pub.frames)

	require.NoError(t, p.Handle(ctx, announce("c2", "generate_image")))
	require.NoError(t, p.Handle(ctx, fragment(`{}`)))
	assert.Equal(t, []FrameType{FrameToolCall, FrameToolCallArguments}, pub.types())
}

func TestToolResultFrame(t *testing.T) {
	pub := &capture{}
	p := NewProcessor("s1", pub, &memStore{})

	msg := core.NewToolResultMessage("call_1", "generate_image", "image ready", nil)
	require.NoError(t, p.Handle(context.Background(), core.NewFunctionResponseEvent("r1", "planner", msg)))

	require.Len(t, pub.frames, 1)
	f := pub.frames[0]
	assert.Equal(t, FrameToolCallResult, f.Type)
	assert.Equal(t, "call_1", f.ID)
	fr, ok := f.Message.FunctionResponse()
	require.True(t, ok)
	assert.Equal(t, "image ready", fr.Response)
}

func TestCancelledContextOnlyHandlesCheckpoints(t *testing.T) {
	pub, store := &capture{}, &memStore{}
	p := NewProcessor("s1", pub, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan core.Event, 3)
	events <- core.NewTextDeltaEvent("r1", "planner", "late")
	events <- core.NewCheckpointEvent("r1", "planner", []core.Message{core.NewAssistantMessage("planner", "partial")})
	events <- announce("c1", "generate_image")
	close(events)

	require.NoError(t, p.Process(ctx, events))
	assert.Equal(t, []FrameType{FrameAllMessages}, pub.types())
	assert.Len(t, store.msgs, 1)
}

func TestFrameJSON(t *testing.T) {
	cases := map[string]struct {
		frame Frame
		want  string
	}{
		"delta":     {Delta("hi"), `{"type":"delta","text":"hi"}`},
		"tool_call": {ToolCall("c1", "generate_image"), `{"type":"tool_call","id":"c1","name":"generate_image","arguments":"{}"}`},
		"arguments": {ToolCallArguments("c1", `{"a"`), `{"type":"tool_call_arguments","id":"c1","text":"{\"a\""}`},
		"empty":     {AllMessages(nil), `{"type":"all_messages","messages":[]}`},
		"done":      {Done(), `{"type":"done"}`},
		"confirmed": {ToolCallConfirmed("c1"), `{"type":"tool_call_confirmed","id":"c1"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := json.Marshal(tc.frame)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(b))
		})
	}

	_, err := json.Marshal(Frame{Type: "bogus"})
	assert.Error(t, err)
}

func TestFrameRoundTripMessages(t *testing.T) {
	msgs := []core.Message{core.NewUserMessage("draw a cat"), core.NewAssistantMessage("planner", "ok")}
	b, err := json.Marshal(AllMessages(msgs))
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(b, &f))
	assert.Equal(t, FrameAllMessages, f.Type)
	require.Len(t, f.Messages, 2)
	assert.Equal(t, "draw a cat", f.Messages[0].Text())
	assert.Equal(t, "planner", f.Messages[1].Agent)
}
