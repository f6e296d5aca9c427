package core

import (
	"context"

	"github.com/next-unicorn-dev/canvas/logging"
)

// ToolContext provides the constrained surface a tool implementation sees.
// It accumulates EventActions (currently only hand-off requests) without
// acting on them; the orchestrator reads them after the call returns.
type ToolContext struct {
	runCtx         *RunContext
	functionCallID string
	eventActions   EventActions

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to a parent RunContext
// and the id of the call being executed.
func NewToolContext(runCtx *RunContext, functionCallID string) *ToolContext {
	return &ToolContext{
		runCtx:         runCtx,
		functionCallID: functionCallID,
		loggerAdapter:  newLoggerAdapter(runCtx.Logger()),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.runCtx.Context }

// SessionID returns the session ID associated with the tool invocation.
func (tc *ToolContext) SessionID() string { return tc.runCtx.SessionID }

// CanvasID returns the canvas the session belongs to.
func (tc *ToolContext) CanvasID() string { return tc.runCtx.CanvasID }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runCtx.RunID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// AgentName returns the agent that issued the call.
func (tc *ToolContext) AgentName() string { return tc.runCtx.Agent.Name }

// Actions exposes the accumulated actions.
func (tc *ToolContext) Actions() EventActions { return tc.eventActions }

// TransferToAgent requests that control moves to the named agent once the
// current call completes.
func (tc *ToolContext) TransferToAgent(name string) {
	tc.eventActions.TransferToAgent = &name
	tc.LogDebug("tool.transfer.request", "from_agent", tc.AgentName(), "to_agent", name, "function_call_id", tc.functionCallID)
}

// HandoffTarget returns the requested hand-off target, if any.
func (tc *ToolContext) HandoffTarget() (string, bool) {
	if tc.eventActions.TransferToAgent == nil || *tc.eventActions.TransferToAgent == "" {
		return "", false
	}
	return *tc.eventActions.TransferToAgent, true
}
