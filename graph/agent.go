package graph

import (
	"github.com/next-unicorn-dev/canvas/agent"
	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/model"
	"github.com/next-unicorn-dev/canvas/tool"
)

// Agent is a compiled, runnable agent: a model, resolved instructions and
// the agent's tools including its synthetic hand-off tools. It is immutable
// after Build.
type Agent struct {
	name        string
	llm         model.Model
	instruction agent.Instruction
	def         agent.Definition
	tools       map[string]tool.Tool
	toolOrder   []string
	handoffs    map[string]string // tool name -> target agent
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Model returns the model driving the agent.
func (a *Agent) Model() model.Model { return a.llm }

// Instructions renders the agent's instructions for rc, then places the
// caller's prefix in front of them unrendered.
func (a *Agent) Instructions(rc *core.RunContext) (string, error) {
	rendered, err := a.instruction.Resolve(rc)
	if err != nil {
		return "", err
	}
	return a.def.Decorate(rendered), nil
}

// GetTool returns the named tool, hand-off tools included.
func (a *Agent) GetTool(name string) (tool.Tool, bool) {
	t, ok := a.tools[name]
	return t, ok
}

// HasTool reports whether the agent can call name.
func (a *Agent) HasTool(name string) bool {
	_, ok := a.tools[name]
	return ok
}

// ListTools returns tool names in declaration order, hand-offs last.
func (a *Agent) ListTools() []string {
	out := make([]string, len(a.toolOrder))
	copy(out, a.toolOrder)
	return out
}

// HandoffTarget returns the target agent when toolName is one of this
// agent's hand-off tools.
func (a *Agent) HandoffTarget(toolName string) (string, bool) {
	target, ok := a.handoffs[toolName]
	return target, ok
}

// ToolDefinitions returns the definitions sent to the model.
func (a *Agent) ToolDefinitions() []model.ToolDefinition {
	tools := make([]tool.Tool, 0, len(a.toolOrder))
	for _, name := range a.toolOrder {
		tools = append(tools, a.tools[name])
	}
	return model.ToolDefinitions(tools)
}

func (a *Agent) register(t tool.Tool) {
	if _, exists := a.tools[t.Name()]; exists {
		return
	}
	a.tools[t.Name()] = t
	a.toolOrder = append(a.toolOrder, t.Name())
}
