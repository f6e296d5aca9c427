package agent

import (
	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/internal/util"
)

// Provider produces dynamic instructions for a run.
type Provider interface {
	Instruction(*core.RunContext) (string, error)
}

// Func adapts a function into a Provider.
type Func func(*core.RunContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(rc *core.RunContext) (string, error) { return f(rc) }

// Instruction is either a text template rendered against the run state or
// a dynamic Provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates a template instruction. The text may
// reference run state such as {{ .canvas_id }}.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates a dynamic instruction.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates a dynamic instruction from a function.
func NewInstructionFromFunc(f func(*core.RunContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic reports whether the instruction is template based.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve renders the instruction for rc.
func (i Instruction) Resolve(rc *core.RunContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(rc)
	}
	return util.RenderTemplate(i.text, rc.State)
}
