package tool

import (
	"encoding/json"
	"fmt"

	"github.com/next-unicorn-dev/canvas/core"
)

// PlanStep is a single step of an execution plan.
type PlanStep struct {
	Title       string `json:"title" jsonschema:"description=Short title of the step"`
	Description string `json:"description" jsonschema:"description=What will be done in this step"`
}

// PlanArgs are the write_plan arguments.
type PlanArgs struct {
	Steps []PlanStep `json:"steps" jsonschema:"description=Ordered steps of the plan"`
}

// NewWritePlanTool returns the planner's write_plan tool. It acknowledges
// the plan so the model can continue with the hand-off.
func NewWritePlanTool() *FunctionTool {
	return NewFunctionToolFromStruct(
		"write_plan",
		"Write an execution plan for the user's request as an ordered list of steps.",
		PlanArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			var plan PlanArgs
			if err := decodeArgs(args, &plan); err != nil {
				return nil, NewToolError("write_plan", err.Error(), CodeValidation)
			}
			if len(plan.Steps) == 0 {
				return nil, NewToolError("write_plan", "plan must contain at least one step", CodeValidation)
			}
			tc.Logger().Debug("tool.write_plan", "steps", len(plan.Steps), "session_id", tc.SessionID())
			return fmt.Sprintf("Plan written with %d steps.", len(plan.Steps)), nil
		},
	)
}

func decodeArgs(args map[string]any, v any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
