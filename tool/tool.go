// Package tool implements the executable capabilities agents may call:
// schema validated function tools, remote HTTP tools, the synthetic hand-off
// tools and the catalog the graph builder resolves tool names against.
package tool

import (
	"fmt"

	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/internal/util"
)

// Tool is a named capability the model may invoke with JSON arguments.
type Tool interface {
	// Name returns the unique identifier exposed to the model.
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns the JSON Schema of the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. Implementations must honour
	// toolCtx.Context() cancellation when they block.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError is re-exported so callers need not import internal/util.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
)

// ToolError is the structured error every tool failure is normalized to.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
