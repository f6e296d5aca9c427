package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-unicorn-dev/canvas/agent"
	"github.com/next-unicorn-dev/canvas/confirm"
	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/graph"
	"github.com/next-unicorn-dev/canvas/model/modeltest"
	"github.com/next-unicorn-dev/canvas/stream"
	"github.com/next-unicorn-dev/canvas/tool"
)

type frames struct {
	mu  sync.Mutex
	all []stream.Frame
}

func (f *frames) Publish(_ context.Context, _ string, fr stream.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, fr)
	return nil
}

func (f *frames) has(want stream.Frame) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fr := range f.all {
		if fr.Type == want.Type && fr.ID == want.ID {
			return true
		}
	}
	return false
}

type harness struct {
	model     *modeltest.ScriptedModel
	graph     *graph.Graph
	gate      *confirm.Gate
	frames    *frames
	sensitive func(string) bool
	uploads   atomic.Int32
	// confirmedFirst records whether the confirmation frame was already
	// published when the upload ran.
	confirmedFirst atomic.Bool
}

func newHarness(t *testing.T, entry string, turns ...modeltest.Turn) *harness {
	t.Helper()
	h := &harness{model: modeltest.New(turns...), frames: &frames{}}
	h.gate = confirm.NewGate(h.frames, nil)

	image := tool.NewFunctionTool("generate_image", "Generate an image.", nil,
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			return "image ready: " + core.ResultText(args["prompt"]), nil
		})
	upload := tool.NewFunctionTool("upload_to_instagram", "Upload to Instagram.", nil,
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			h.confirmedFirst.Store(h.frames.has(stream.ToolCallConfirmed(tc.FunctionCallID())))
			h.uploads.Add(1)
			return "uploaded", nil
		})
	failing := tool.NewFunctionTool("render_video", "Render a video.", nil,
		func(*core.ToolContext, map[string]any) (any, error) {
			return nil, errors.New("provider unavailable")
		})
	panicking := tool.NewFunctionTool("explode", "Panics.", nil,
		func(*core.ToolContext, map[string]any) (any, error) {
			panic("kaboom")
		})
	strict := tool.NewFunctionTool("describe", "Describe an image.", map[string]any{
		"type":       "object",
		"properties": map[string]any{"prompt": map[string]any{"type": "string"}},
		"required":   []string{"prompt"},
	}, func(*core.ToolContext, map[string]any) (any, error) { return "described", nil })

	catalog, err := tool.NewCatalog(
		tool.Entry{Tool: image, Kind: tool.KindImage},
		tool.Entry{Tool: upload, Kind: tool.KindUpload, Sensitive: true},
		tool.Entry{Tool: failing, Kind: tool.KindVideo},
		tool.Entry{Tool: panicking},
		tool.Entry{Tool: strict},
	)
	require.NoError(t, err)

	planner, err := agent.NewDefinition("planner", "You are the planner.", nil,
		agent.Handoff{Target: "creator"}, agent.Handoff{Target: "uploader"})
	require.NoError(t, err)
	creator, err := agent.NewDefinition("creator", "You are the creator.",
		[]string{"generate_image", "render_video", "explode", "describe"}, agent.Handoff{Target: "uploader"})
	require.NoError(t, err)
	uploader, err := agent.NewDefinition("uploader", "You are the uploader.", []string{"upload_to_instagram"})
	require.NoError(t, err)

	defs := []agent.Definition{planner, creator, uploader}
	for i, d := range defs {
		if d.Name == entry {
			defs[0], defs[i] = defs[i], defs[0]
		}
	}

	h.graph, err = graph.Build(defs, h.model, catalog)
	require.NoError(t, err)
	h.sensitive = catalog.IsSensitive
	return h
}

type runResult struct {
	events      []core.Event
	transitions []string
}

func (r runResult) lastSnapshot(t *testing.T) []core.Message {
	t.Helper()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].IsCheckpoint() {
			return r.events[i].Snapshot
		}
	}
	t.Fatal("no checkpoint emitted")
	return nil
}

func (r runResult) final() string {
	return r.transitions[len(r.transitions)-1]
}

func (h *harness) orchestrator(optFns ...func(o *Options)) (*Orchestrator, *[]string) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	o := New(h.graph, append([]func(o *Options){func(o *Options) {
		o.Gate = h.gate
		o.Sensitive = h.sensitive
		o.OnTransition = func(_, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, to.String())
		}
	}}, optFns...)...)
	return o, &transitions
}

func (h *harness) run(ctx context.Context, msgs []core.Message, optFns ...func(o *Options)) runResult {
	o, transitions := h.orchestrator(optFns...)
	var events []core.Event
	for ev := range o.Run(ctx, RunInput{SessionID: "s1", CanvasID: "c1", Messages: msgs}) {
		events = append(events, ev)
	}
	return runResult{events: events, transitions: *transitions}
}

func userTurn(text string) []core.Message { return []core.Message{core.NewUserMessage(text)} }

func TestTextAnswerEndsDone(t *testing.T) {
	h := newHarness(t, "planner", modeltest.TextTurn("Hello there"))
	res := h.run(context.Background(), userTurn("hi"))

	var text strings.Builder
	for _, ev := range res.events {
		if ev.IsPartial() {
			text.WriteString(ev.Text())
		}
	}
	assert.Equal(t, "Hello there", text.String())

	snap := res.lastSnapshot(t)
	require.Len(t, snap, 2)
	assert.Equal(t, "planner", snap[1].Agent)
	assert.Equal(t, "Hello there", snap[1].Text())
	assert.Equal(t, []string{"DONE"}, res.transitions)
}

func TestToolCallThenAnswer(t *testing.T) {
	h := newHarness(t, "creator",
		modeltest.CallTurn("call_1", "generate_image", `{"prompt":"a cat"}`),
		modeltest.TextTurn("Here is your cat"),
	)
	res := h.run(context.Background(), userTurn("draw a cat"))

	var (
		order []string
		args  strings.Builder
	)
	for _, ev := range res.events {
		switch {
		case ev.IsCheckpoint():
			order = append(order, "checkpoint")
		case len(ev.GetFunctionResponses()) > 0:
			order = append(order, "result")
		case len(ev.GetFunctionCalls()) > 0:
			fc := ev.GetFunctionCalls()[0]
			if fc.IsAnnouncement() {
				order = append(order, "announce")
			} else {
				args.WriteString(fc.Arguments)
			}
		}
	}
	assert.Equal(t, []string{"announce", "result", "checkpoint", "checkpoint"}, order)

	snap := res.lastSnapshot(t)
	require.Len(t, snap, 4)
	calls := snap[1].FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, calls[0].Arguments, args.String())

	fr, ok := snap[2].FunctionResponse()
	require.True(t, ok)
	assert.Equal(t, "call_1", fr.ID)
	assert.Equal(t, "image ready: a cat", fr.Response)
	assert.Equal(t, "Here is your cat", snap[3].Text())
}

func TestHandoffTagsTargetAgent(t *testing.T) {
	h := newHarness(t, "planner",
		modeltest.CallTurn("h1", tool.HandoffToolName("creator"), `{}`),
		modeltest.CallTurn("call_1", "generate_image", `{"prompt":"a dog"}`),
		modeltest.TextTurn("Done drawing"),
	)
	res := h.run(context.Background(), userTurn("draw a dog"))

	snap := res.lastSnapshot(t)
	for _, m := range snap {
		if m.IsAssistant() {
			assert.Equal(t, "creator", m.Agent)
		}
		for _, fc := range m.FunctionCalls() {
			assert.False(t, tool.IsHandoffName(fc.Name), "hand-off call leaked into the transcript")
		}
	}
	assert.Equal(t, "creator", snap[len(snap)-1].Agent)
	assert.Contains(t, res.transitions, "HANDING_OFF(planner, creator)")

	reqs := h.model.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "You are the planner.", reqs[0].Instructions)
	assert.Equal(t, "You are the creator.", reqs[1].Instructions)
	assert.Len(t, reqs[1].Messages, 1)
}

func TestOnlyFirstHandoffHonoured(t *testing.T) {
	h := newHarness(t, "planner",
		modeltest.Turn{Calls: []core.FunctionCall{
			{ID: "h1", Name: tool.HandoffToolName("creator"), Arguments: `{}`},
			{ID: "h2", Name: tool.HandoffToolName("uploader"), Arguments: `{}`},
		}},
		modeltest.TextTurn("creator here"),
	)
	res := h.run(context.Background(), userTurn("go"))

	assert.Equal(t, []string{"HANDING_OFF(planner, creator)", "ACTIVE(creator)", "DONE"}, res.transitions)
	assert.Equal(t, "creator", res.lastSnapshot(t)[1].Agent)
}

func TestResumeFromLastActiveAgent(t *testing.T) {
	h := newHarness(t, "planner", modeltest.TextTurn("still the creator"))
	history := []core.Message{
		core.NewUserMessage("draw"),
		core.NewAssistantMessage("creator", "drawn"),
		core.NewUserMessage("again"),
	}
	res := h.run(context.Background(), history)

	assert.Equal(t, "You are the creator.", h.model.Requests()[0].Instructions)
	assert.Equal(t, "creator", res.lastSnapshot(t)[3].Agent)
}

func TestSensitiveToolWaitsForConfirmation(t *testing.T) {
	h := newHarness(t, "uploader",
		modeltest.CallTurn("up_1", "upload_to_instagram", `{"caption":"hi"}`),
		modeltest.TextTurn("Uploaded"),
	)

	done := make(chan runResult, 1)
	go func() { done <- h.run(context.Background(), userTurn("post it")) }()

	require.Eventually(t, func() bool { return len(h.gate.Pending("s1")) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(0), h.uploads.Load())

	assert.Equal(t, confirm.Resolved, h.gate.Confirm("s1", "up_1"))
	res := <-done
	assert.Equal(t, confirm.NotFoundOrDone, h.gate.Confirm("s1", "up_1"))

	assert.Equal(t, int32(1), h.uploads.Load())
	assert.True(t, h.confirmedFirst.Load())
	assert.Contains(t, res.transitions, "AWAITING_CONFIRMATION(up_1)")
	assert.Equal(t, "DONE", res.final())
}

func TestSensitiveToolCancelled(t *testing.T) {
	h := newHarness(t, "uploader",
		modeltest.CallTurn("up_1", "upload_to_instagram", `{}`),
		modeltest.TextTurn("Not uploaded"),
	)

	done := make(chan runResult, 1)
	go func() { done <- h.run(context.Background(), userTurn("post it")) }()

	require.Eventually(t, func() bool { return len(h.gate.Pending("s1")) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, confirm.Resolved, h.gate.Cancel("s1", "up_1"))
	res := <-done

	assert.Equal(t, int32(0), h.uploads.Load())
	snap := res.lastSnapshot(t)
	fr, ok := snap[2].FunctionResponse()
	require.True(t, ok)
	assert.Equal(t, confirm.CancelledResult, fr.Response)
}

func TestCancelWhileAwaitingConfirmationAnswersCalls(t *testing.T) {
	h := newHarness(t, "uploader",
		modeltest.CallTurn("up_1", "upload_to_instagram", `{"caption":"hi"}`),
		modeltest.TextTurn("never"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() { done <- h.run(ctx, userTurn("post it")) }()

	require.Eventually(t, func() bool { return len(h.gate.Pending("s1")) == 1 }, 2*time.Second, time.Millisecond)
	cancel()

	var res runResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	assert.Equal(t, "CANCELLED", res.final())
	assert.Zero(t, h.uploads.Load())
	assert.Equal(t, confirm.NotFoundOrDone, h.gate.Confirm("s1", "up_1"))

	snap := res.lastSnapshot(t)
	var calls, results int
	for _, m := range snap {
		calls += len(m.FunctionCalls())
		if _, ok := m.FunctionResponse(); ok {
			results++
		}
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, calls, results)

	fr, ok := snap[len(snap)-1].FunctionResponse()
	require.True(t, ok)
	assert.Equal(t, "up_1", fr.ID)
	assert.Equal(t, confirm.CancelledResult, fr.Response)
}

func TestCancelBeforeCheckpointAddsNothing(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	h := newHarness(t, "planner", modeltest.Turn{Text: "streaming", Hold: hold})

	ctx, cancel := context.WithCancel(context.Background())
	o, _ := h.orchestrator()
	events := o.Run(ctx, RunInput{SessionID: "s1", Messages: userTurn("hi")})
	<-events
	cancel()

	for ev := range events {
		assert.False(t, ev.IsCheckpoint(), "no checkpoint after cancellation")
	}
}

func TestSensitiveWithoutGateFails(t *testing.T) {
	h := newHarness(t, "uploader", modeltest.CallTurn("up_1", "upload_to_instagram", `{}`))
	res := h.run(context.Background(), userTurn("post it"), func(o *Options) { o.Gate = nil })

	snap := res.lastSnapshot(t)
	assert.Contains(t, snap[len(snap)-1].Text(), "Error:")
	assert.Equal(t, int32(0), h.uploads.Load())
}

func TestModelErrorBecomesAssistantMessage(t *testing.T) {
	h := newHarness(t, "planner", modeltest.Turn{Text: "partial", Err: errors.New("upstream 500")})
	res := h.run(context.Background(), userTurn("hi"))

	snap := res.lastSnapshot(t)
	require.Len(t, snap, 2)
	assert.Equal(t, "Error: upstream 500", snap[1].Text())
	assert.Equal(t, "planner", snap[1].Agent)

	last := res.events[len(res.events)-1]
	reason, failed := last.Failed()
	require.True(t, failed)
	assert.Equal(t, "upstream 500", reason)
	assert.Equal(t, []string{"FAILED(upstream 500)", "DONE"}, res.transitions)
}

func TestToolExecutionErrorFailsRun(t *testing.T) {
	h := newHarness(t, "creator", modeltest.CallTurn("v1", "render_video", `{}`))
	res := h.run(context.Background(), userTurn("video"))

	snap := res.lastSnapshot(t)
	require.Len(t, snap, 4)
	fr, ok := snap[2].FunctionResponse()
	require.True(t, ok)
	assert.NotEmpty(t, fr.Error)
	assert.True(t, strings.HasPrefix(snap[3].Text(), "Error: "))
	assert.Equal(t, "DONE", res.final())
}

func TestToolPanicRecovered(t *testing.T) {
	h := newHarness(t, "creator", modeltest.CallTurn("p1", "explode", `{}`))
	res := h.run(context.Background(), userTurn("boom"))

	snap := res.lastSnapshot(t)
	assert.Contains(t, snap[len(snap)-1].Text(), "kaboom")
	assert.Equal(t, "DONE", res.final())
}

func TestValidationErrorFedBackToModel(t *testing.T) {
	h := newHarness(t, "creator",
		modeltest.CallTurn("d1", "describe", `{}`),
		modeltest.CallTurn("d2", "describe", `{"prompt":"cat"}`),
		modeltest.TextTurn("A cat."),
	)
	res := h.run(context.Background(), userTurn("describe"))

	snap := res.lastSnapshot(t)
	require.Len(t, snap, 6)
	first, _ := snap[2].FunctionResponse()
	assert.Contains(t, first.Error, "VALIDATION_ERROR")
	second, _ := snap[4].FunctionResponse()
	assert.Equal(t, "described", second.Response)
	assert.Equal(t, "A cat.", snap[5].Text())
}

func TestUnknownToolFedBackToModel(t *testing.T) {
	h := newHarness(t, "planner",
		modeltest.CallTurn("x1", "generate_image", `{}`),
		modeltest.TextTurn("sorry"),
	)
	res := h.run(context.Background(), userTurn("draw"))

	snap := res.lastSnapshot(t)
	fr, _ := snap[2].FunctionResponse()
	assert.Contains(t, fr.Error, "NOT_FOUND")
	assert.Equal(t, "sorry", snap[3].Text())
}

func TestModelCallLimit(t *testing.T) {
	h := newHarness(t, "creator",
		modeltest.CallTurn("c1", "generate_image", `{"prompt":"x"}`),
		modeltest.TextTurn("never"),
	)
	res := h.run(context.Background(), userTurn("loop"), func(o *Options) { o.MaxModelCalls = 1 })

	snap := res.lastSnapshot(t)
	assert.Contains(t, snap[len(snap)-1].Text(), "exceeded max model calls")
	assert.Len(t, h.model.Requests(), 1)
}

func TestCancellationMidStream(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	h := newHarness(t, "planner", modeltest.Turn{Text: "streaming text", Hold: hold})

	ctx, cancel := context.WithCancel(context.Background())
	o, transitions := h.orchestrator()
	events := o.Run(ctx, RunInput{SessionID: "s1", Messages: userTurn("hi")})

	first := <-events
	require.True(t, first.IsPartial())
	cancel()

	for range events {
	}
	assert.Equal(t, []string{"CANCELLED"}, *transitions)
}
