package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/graph"
	"github.com/next-unicorn-dev/canvas/internal/metrics"
	"github.com/next-unicorn-dev/canvas/tool"
)

// callResult is the outcome of one tool call.
type callResult struct {
	call    core.FunctionCall
	result  any
	err     error
	toolCtx *core.ToolContext
}

// executor runs a batch of tool calls with bounded parallelism. Results
// are returned in call order. Tool failures never cancel sibling calls.
type executor struct {
	parallelism int
}

func (e executor) execute(rc *core.RunContext, a *graph.Agent, calls []core.FunctionCall) []callResult {
	results := make([]callResult, len(calls))
	if len(calls) == 1 {
		results[0] = e.run(rc, a, calls[0])
		return results
	}

	var g errgroup.Group
	if e.parallelism > 0 {
		g.SetLimit(e.parallelism)
	}

	batchStart := time.Now()
	for i, fc := range calls {
		g.Go(func() error {
			results[i] = e.run(rc, a, fc)
			return nil
		})
	}
	_ = g.Wait()

	rc.LogDebug(
		"orchestrator.tools.batch.complete",
		"agent", a.Name(),
		"count", len(calls),
		"parallelism", e.parallelism,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results
}

// run executes one call. Panics are recovered into an execution error.
func (e executor) run(rc *core.RunContext, a *graph.Agent, fc core.FunctionCall) (res callResult) {
	res.call = fc
	res.toolCtx = core.NewToolContext(rc, fc.ID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.result = nil
			res.err = &panicError{tool: fc.Name, val: r, stack: debug.Stack()}
			rc.LogError("orchestrator.tool.panic", "agent", a.Name(), "tool", fc.Name, "recover", fmt.Sprint(r))
		}
		metrics.RecordToolCall(fc.Name, res.err)
		rc.LogInfo(
			"orchestrator.tool.executed",
			"agent", a.Name(),
			"tool", fc.Name,
			"function_call_id", fc.ID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", res.err != nil,
		)
	}()

	res.result, res.err = invoke(a, res.toolCtx, fc)
	return res
}

func invoke(a *graph.Agent, tc *core.ToolContext, fc core.FunctionCall) (any, error) {
	impl, ok := a.GetTool(fc.Name)
	if !ok {
		return nil, tool.NewToolError(fc.Name, fmt.Sprintf("tool is not available to agent %s", a.Name()), tool.CodeNotFound)
	}

	args := map[string]any{}
	if strings.TrimSpace(fc.Arguments) != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			return nil, tool.NewToolError(fc.Name, fmt.Sprintf("invalid arguments: %v", err), tool.CodeValidation)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	return impl.Call(tc, args)
}

// recoverable reports whether a tool error is fed back to the model instead
// of failing the run: bad arguments and unknown tools are the model's
// mistake and it gets a chance to correct them.
func recoverable(err error) bool {
	var te *tool.ToolError
	if !errors.As(err, &te) {
		return false
	}
	return te.Code == tool.CodeValidation || te.Code == tool.CodeNotFound
}

type panicError struct {
	tool  string
	val   any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("tool %s panicked: %v", p.tool, p.val) }
