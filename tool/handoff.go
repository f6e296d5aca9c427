package tool

import (
	"strings"

	"github.com/next-unicorn-dev/canvas/core"
)

// HandoffPrefix prefixes every synthetic hand-off tool name.
const HandoffPrefix = "transfer_to_"

// HandoffToolName returns the tool name used to hand control to target.
func HandoffToolName(target string) string { return HandoffPrefix + target }

// IsHandoffName reports whether name looks like a hand-off tool.
func IsHandoffName(name string) bool {
	return strings.HasPrefix(name, HandoffPrefix) && len(name) > len(HandoffPrefix)
}

// HandoffTool moves control to a fixed target agent. Calling it records the
// transfer on the ToolContext; it has no user visible result.
type HandoffTool struct {
	target      string
	description string
}

// NewHandoffTool creates the hand-off tool for target.
func NewHandoffTool(target, description string) *HandoffTool {
	if description == "" {
		description = "Transfer the conversation to the " + target + " agent."
	}
	return &HandoffTool{target: target, description: description}
}

// Target returns the agent this tool hands control to.
func (t *HandoffTool) Target() string { return t.target }

// Name returns transfer_to_<target>.
func (t *HandoffTool) Name() string { return HandoffToolName(t.target) }

// Description returns the configured hand-off description.
func (t *HandoffTool) Description() string { return t.description }

// Parameters returns an empty object schema; hand-offs take no arguments.
func (t *HandoffTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Call signals the transfer.
func (t *HandoffTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	tc.TransferToAgent(t.target)
	return map[string]any{"transferred": true, "agent": t.target}, nil
}
