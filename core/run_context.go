package core

import (
	"context"
	"maps"

	"github.com/next-unicorn-dev/canvas/logging"
)

// AgentInfo identifies the agent currently in control of a run.
type AgentInfo struct {
	Name string
}

// RunContext carries the execution scope of one run:
//   - the cancellation Context (cancelled by the task registry)
//   - identifiers (SessionID, CanvasID, RunID) and the active agent
//   - the emission channel consumed by the stream processor
//   - the model call limiter
//   - template state used to render agent instructions
//
// WithAgent derives a copy for a different agent; the emission channel,
// limiter and logger are shared between copies.
type RunContext struct {
	Context                   context.Context
	SessionID, CanvasID, RunID string
	Agent                     AgentInfo
	Emit                      chan<- Event
	Limiter                   *ModelLimiter
	State                     map[string]any

	*loggerAdapter
}

// NewRunContext constructs a RunContext. State is seeded with session_id and
// canvas_id so instructions may reference them.
func NewRunContext(
	ctx context.Context,
	sessionID, canvasID, runID string,
	emit chan<- Event,
	maxModelCalls int,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:   ctx,
		SessionID: sessionID,
		CanvasID:  canvasID,
		RunID:     runID,
		Emit:      emit,
		Limiter:   NewModelLimiter(maxModelCalls),
		State: map[string]any{
			"session_id": sessionID,
			"canvas_id":  canvasID,
		},
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns the cancellation channel of the underlying context.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error of the underlying context, if any.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// WithAgent returns a shallow copy bound to another agent.
func (rc *RunContext) WithAgent(name string) *RunContext {
	cp := *rc
	cp.Agent = AgentInfo{Name: name}
	cp.State = maps.Clone(rc.State)
	return &cp
}

// EmitEvent sends ev unless the run has been cancelled.
func (rc *RunContext) EmitEvent(ev Event) error {
	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
		return nil
	}
}
