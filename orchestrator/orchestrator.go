// Package orchestrator executes a compiled agent graph against a
// conversation. A run is an explicit state machine (see State) that emits
// partial model output, early tool results and conversation checkpoints on
// a single ordered channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/next-unicorn-dev/canvas/confirm"
	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/graph"
	"github.com/next-unicorn-dev/canvas/internal/metrics"
	"github.com/next-unicorn-dev/canvas/logging"
	"github.com/next-unicorn-dev/canvas/model"
)

// ErrNoGate is the failure of a sensitive call when no confirmation gate is
// configured.
var ErrNoGate = errors.New("orchestrator: sensitive tool call without a confirmation gate")

// ErrNoFinalResponse is returned when a model stream ends without the
// aggregated final response.
var ErrNoFinalResponse = errors.New("orchestrator: model stream ended without a final response")

// Confirmer suspends a sensitive call until a decision arrives.
type Confirmer interface {
	Await(ctx context.Context, p confirm.Pending) (confirm.Decision, error)
}

// Options configure an Orchestrator.
type Options struct {
	Logger logging.Logger
	// Gate decides sensitive calls.
	Gate Confirmer
	// Sensitive reports tools that need confirmation before they run.
	Sensitive func(name string) bool
	// MaxModelCalls bounds the model calls of one run. Defaults to 25.
	MaxModelCalls int
	// Parallelism bounds concurrent tool calls within a step. 0 means
	// unbounded.
	Parallelism int
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
	// OnTransition observes every state change.
	OnTransition func(from, to State)
}

// RunInput is the conversation and scope of one run.
type RunInput struct {
	SessionID string
	CanvasID  string
	RunID     string
	Messages  []core.Message
}

// Orchestrator runs a graph. It is stateless between runs and safe for
// concurrent use.
type Orchestrator struct {
	graph *graph.Graph
	opts  Options
	exec  executor
}

// New creates an orchestrator for g.
func New(g *graph.Graph, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxModelCalls: 25,
		EventBuffer:   16,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Sensitive == nil {
		opts.Sensitive = func(string) bool { return false }
	}
	return &Orchestrator{
		graph: g,
		opts:  opts,
		exec:  executor{parallelism: opts.Parallelism},
	}
}

// Run starts a run and returns its event channel. The channel is closed when
// the run reaches Done or Cancelled. Callers must drain it.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) <-chan core.Event {
	events := make(chan core.Event, o.opts.EventBuffer)
	if in.RunID == "" {
		in.RunID = core.NewID()
	}

	r := &run{
		o:              o,
		ctx:            ctx,
		rc:             core.NewRunContext(ctx, in.SessionID, in.CanvasID, in.RunID, events, o.opts.MaxModelCalls, o.opts.Logger),
		messages:       core.CloneMessages(in.Messages),
		base:           len(in.Messages),
		lastCheckpoint: -1,
	}

	go func() {
		defer close(events)
		r.loop(Active{Agent: o.graph.ResolveActive(in.Messages).Name()})
	}()
	return events
}

type run struct {
	o        *Orchestrator
	ctx      context.Context
	rc       *core.RunContext
	messages []core.Message
	// base is the length of the conversation the run started from.
	base int

	lastCheckpoint int
}

func (r *run) loop(state State) {
	start := time.Now()
	r.rc.LogInfo("orchestrator.run.start", "session_id", r.rc.SessionID, "run_id", r.rc.RunID, "state", state.String())

	for !Terminal(state) {
		var next State
		if r.ctx.Err() != nil {
			next = Cancelled{}
		} else {
			switch s := state.(type) {
			case Active:
				next = r.active(s)
			case HandingOff:
				next = r.handingOff(s)
			case AwaitingConfirmation:
				next = r.awaiting(s)
			case Failed:
				next = r.failed(s)
			default:
				next = Failed{Err: fmt.Errorf("orchestrator: unexpected state %T", s)}
			}
		}
		r.transition(state, next)
		state = next
	}
	if _, cancelled := state.(Cancelled); cancelled {
		r.settle()
	}

	r.rc.LogInfo(
		"orchestrator.run.end",
		"session_id", r.rc.SessionID,
		"run_id", r.rc.RunID,
		"state", state.String(),
		"model_calls", r.rc.Limiter.Count(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (r *run) transition(from, to State) {
	r.rc.LogDebug("orchestrator.transition", "from", from.String(), "to", to.String())
	if r.o.opts.OnTransition != nil {
		r.o.opts.OnTransition(from, to)
	}
}

// active performs one step: one model call plus the tool calls it produced.
func (r *run) active(s Active) State {
	a, ok := r.o.graph.Get(s.Agent)
	if !ok {
		return Failed{Err: fmt.Errorf("%w %q", graph.ErrUnknownAgent, s.Agent)}
	}
	rc := r.rc.WithAgent(a.Name())

	if err := rc.Limiter.Increment(); err != nil {
		return Failed{Agent: a.Name(), Err: err}
	}

	instructions, err := a.Instructions(rc)
	if err != nil {
		return Failed{Agent: a.Name(), Err: fmt.Errorf("render instructions: %w", err)}
	}

	req := model.Request{
		Instructions: instructions,
		Messages:     core.CloneMessages(r.messages),
		Tools:        a.ToolDefinitions(),
		Stream:       true,
	}

	start := time.Now()
	content, err := r.generate(rc, a, req)
	logging.LogModelCall(rc.Logger(), a.Model().Info().Name, a.Name(), time.Since(start), err)
	if r.ctx.Err() != nil {
		return Cancelled{}
	}
	if err != nil {
		return Failed{Agent: a.Name(), Err: err}
	}

	var (
		handoff *core.FunctionCall
		work    []core.FunctionCall
	)
	for _, fc := range content.FunctionCalls() {
		if _, ok := a.HandoffTarget(fc.Name); ok {
			if handoff != nil {
				rc.LogWarn("orchestrator.handoff.dropped", "agent", a.Name(), "tool", fc.Name, "function_call_id", fc.ID, "honoured", handoff.Name)
				continue
			}
			h := fc
			handoff = &h
			continue
		}
		work = append(work, fc)
	}

	if visible := visibleContent(content, a); len(visible.Parts) > 0 {
		r.messages = append(r.messages, core.NewAssistantContentMessage(a.Name(), visible))
	}

	if len(work) == 0 && handoff == nil {
		r.checkpoint(rc)
		return Done{}
	}

	var sensitive, immediate []core.FunctionCall
	for _, fc := range work {
		if r.o.opts.Sensitive(fc.Name) {
			sensitive = append(sensitive, fc)
		} else {
			immediate = append(immediate, fc)
		}
	}

	if len(immediate) > 0 {
		if next := r.record(rc, a, r.o.exec.execute(rc, a, immediate)); next != nil {
			return next
		}
	}
	r.checkpoint(rc)

	if len(sensitive) > 0 {
		return AwaitingConfirmation{Agent: a.Name(), Calls: sensitive, Handoff: handoff}
	}
	if handoff != nil {
		return r.transfer(rc, a, *handoff)
	}
	return Active{Agent: a.Name()}
}

// generate streams the model output as partial events and returns the
// aggregated content.
func (r *run) generate(rc *core.RunContext, a *graph.Agent, req model.Request) (core.Content, error) {
	respCh, errCh := a.Model().Generate(rc.Context, req)

	var final *core.Content
	for resp := range respCh {
		if !resp.Partial {
			c := resp.Content
			final = &c
			continue
		}
		for _, part := range resp.Content.Parts {
			var ev core.Event
			switch p := part.(type) {
			case core.TextPart:
				ev = core.NewTextDeltaEvent(rc.RunID, a.Name(), p.Text)
			case core.FunctionCallPart:
				ev = core.NewFunctionCallDeltaEvent(rc.RunID, a.Name(), p.FunctionCall)
			default:
				continue
			}
			// A failed emit means the run was cancelled; keep draining so
			// the model goroutine can exit.
			_ = rc.EmitEvent(ev)
		}
	}

	if err := <-errCh; err != nil {
		return core.Content{}, err
	}
	if final == nil {
		return core.Content{}, ErrNoFinalResponse
	}
	return *final, nil
}

// visibleContent drops hand-off calls and empty text from the model output.
func visibleContent(c core.Content, a *graph.Agent) core.Content {
	out := core.Content{Role: core.RoleAssistant}
	for _, p := range c.Parts {
		switch t := p.(type) {
		case core.TextPart:
			if t.Text == "" {
				continue
			}
		case core.FunctionCallPart:
			if _, ok := a.HandoffTarget(t.FunctionCall.Name); ok {
				continue
			}
		}
		out.Parts = append(out.Parts, p)
	}
	return out
}

// record appends tool results in call order and emits them early. It
// returns a terminal or failed state when the run cannot continue.
func (r *run) record(rc *core.RunContext, a *graph.Agent, results []callResult) State {
	var fatal error
	for _, res := range results {
		msg := core.NewToolResultMessage(res.call.ID, res.call.Name, res.result, res.err)
		r.messages = append(r.messages, msg)
		_ = rc.EmitEvent(core.NewFunctionResponseEvent(rc.RunID, a.Name(), msg))

		if res.err != nil && fatal == nil && !recoverable(res.err) {
			fatal = res.err
		}
	}

	if r.ctx.Err() != nil {
		return Cancelled{}
	}
	if fatal != nil {
		r.checkpoint(rc)
		return Failed{Agent: a.Name(), Err: fatal}
	}
	return nil
}

// awaiting suspends on the first pending call.
func (r *run) awaiting(s AwaitingConfirmation) State {
	a, ok := r.o.graph.Get(s.Agent)
	if !ok || len(s.Calls) == 0 {
		return Failed{Agent: s.Agent, Err: fmt.Errorf("orchestrator: invalid confirmation state %s", s)}
	}
	rc := r.rc.WithAgent(a.Name())
	fc := s.Calls[0]

	if r.o.opts.Gate == nil {
		return r.record(rc, a, []callResult{{call: fc, err: fmt.Errorf("%w: %s", ErrNoGate, fc.Name)}})
	}

	rc.LogInfo("orchestrator.confirmation.await", "agent", a.Name(), "tool", fc.Name, "function_call_id", fc.ID)
	decision, err := r.o.opts.Gate.Await(r.ctx, confirm.Pending{
		SessionID: rc.SessionID,
		CallID:    fc.ID,
		Name:      fc.Name,
		Arguments: fc.Arguments,
	})
	if err != nil {
		return Cancelled{}
	}

	var res callResult
	switch decision {
	case confirm.Confirmed:
		res = r.o.exec.run(rc, a, fc)
	default:
		res = callResult{call: fc, result: confirm.CancelledResult}
	}

	if next := r.record(rc, a, []callResult{res}); next != nil {
		return next
	}
	r.checkpoint(rc)

	if len(s.Calls) > 1 {
		return AwaitingConfirmation{Agent: s.Agent, Calls: s.Calls[1:], Handoff: s.Handoff}
	}
	if s.Handoff != nil {
		return r.transfer(rc, a, *s.Handoff)
	}
	return Active{Agent: a.Name()}
}

// transfer executes the hand-off tool and reads the requested target.
func (r *run) transfer(rc *core.RunContext, a *graph.Agent, fc core.FunctionCall) State {
	res := r.o.exec.run(rc, a, fc)
	if res.err != nil {
		return Failed{Agent: a.Name(), Err: res.err}
	}
	to, ok := res.toolCtx.HandoffTarget()
	if !ok {
		to, _ = a.HandoffTarget(fc.Name)
	}
	return HandingOff{From: a.Name(), To: to}
}

func (r *run) handingOff(s HandingOff) State {
	if _, ok := r.o.graph.Get(s.To); !ok {
		return Failed{Agent: s.From, Err: fmt.Errorf("%w %q", graph.ErrUnknownAgent, s.To)}
	}
	metrics.RecordHandoff(s.From, s.To)
	r.rc.LogInfo("orchestrator.handoff", "from_agent", s.From, "to_agent", s.To)
	return Active{Agent: s.To}
}

// failed renders the error as an assistant message.
func (r *run) failed(s Failed) State {
	r.rc.LogError("orchestrator.run.failed", "agent", s.Agent, "error", s.Err.Error())
	r.messages = append(r.messages, core.NewAssistantMessage(s.Agent, "Error: "+s.Err.Error()))
	rc := r.rc.WithAgent(s.Agent)
	if err := rc.EmitEvent(core.NewFailedCheckpointEvent(rc.RunID, s.Agent, r.messages, s.Err.Error())); err == nil {
		r.lastCheckpoint = len(r.messages)
	}
	return Done{}
}

// settle answers the tool calls of a cancelled run that have no result yet
// with CancelledResult. When one of them was already checkpointed, and so
// persisted, a final checkpoint is sent; the consumer drains the channel
// after cancellation, so the send does not wait on the run's context.
func (r *run) settle() {
	answered := make(map[string]bool)
	for _, m := range r.messages[r.base:] {
		if fr, ok := m.FunctionResponse(); ok {
			answered[fr.ID] = true
		}
	}

	persisted := false
	for i := r.base; i < len(r.messages); i++ {
		m := r.messages[i]
		if !m.IsToolCall() {
			continue
		}
		for _, fc := range m.FunctionCalls() {
			if answered[fc.ID] {
				continue
			}
			answered[fc.ID] = true
			r.messages = append(r.messages, core.NewToolResultMessage(fc.ID, fc.Name, confirm.CancelledResult, nil))
			r.rc.LogInfo("orchestrator.call.cancelled", "agent", m.Agent, "tool", fc.Name, "function_call_id", fc.ID)
			if i < r.lastCheckpoint {
				persisted = true
			}
		}
	}

	if persisted {
		r.rc.Emit <- core.NewCheckpointEvent(r.rc.RunID, r.rc.Agent.Name, r.messages)
		r.lastCheckpoint = len(r.messages)
	}
}

// checkpoint emits the conversation unless it is unchanged since the last
// checkpoint.
func (r *run) checkpoint(rc *core.RunContext) {
	if len(r.messages) == r.lastCheckpoint {
		return
	}
	if err := rc.EmitEvent(core.NewCheckpointEvent(rc.RunID, rc.Agent.Name, r.messages)); err != nil {
		return
	}
	r.lastCheckpoint = len(r.messages)
}
