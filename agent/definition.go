package agent

import (
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyName is returned for a definition without a name.
	ErrEmptyName = errors.New("agent: name must not be empty")
	// ErrSelfHandoff is returned when an agent lists itself as hand-off target.
	ErrSelfHandoff = errors.New("agent: hand-off to self")
	// ErrEmptyHandoffTarget is returned for a hand-off without a target.
	ErrEmptyHandoffTarget = errors.New("agent: hand-off target must not be empty")
)

// Handoff permits an agent to transfer control to Target.
type Handoff struct {
	Target      string `yaml:"target" json:"target"`
	Description string `yaml:"description" json:"description"`
}

// Definition is the static description of one specialist agent.
type Definition struct {
	Name         string    `yaml:"name" json:"name"`
	Instructions string    `yaml:"instructions" json:"instructions"`
	Tools        []string  `yaml:"tools" json:"tools"`
	Handoffs     []Handoff `yaml:"handoffs" json:"handoffs"`

	// AcceptsSystemPrompt marks agents decorated with the caller's
	// system prompt.
	AcceptsSystemPrompt bool `yaml:"accepts_system_prompt" json:"accepts_system_prompt"`
	// ReceivesRequestTools marks agents that are given the tools requested
	// by the caller in addition to Tools.
	ReceivesRequestTools bool `yaml:"receives_request_tools" json:"receives_request_tools"`

	// InstructionPrefix is caller text placed verbatim before the rendered
	// Instructions. It is never parsed as a template.
	InstructionPrefix string `yaml:"-" json:"-"`
}

// NewDefinition builds and validates a definition.
func NewDefinition(name, instructions string, tools []string, handoffs ...Handoff) (Definition, error) {
	d := Definition{
		Name:         name,
		Instructions: instructions,
		Tools:        slices.Clone(tools),
		Handoffs:     slices.Clone(handoffs),
	}
	if err := d.Validate(); err != nil {
		return Definition{}, err
	}
	return d, nil
}

// Validate rejects empty names, empty targets and self hand-offs.
func (d Definition) Validate() error {
	if d.Name == "" {
		return ErrEmptyName
	}
	for _, h := range d.Handoffs {
		if h.Target == "" {
			return fmt.Errorf("%w (agent %q)", ErrEmptyHandoffTarget, d.Name)
		}
		if h.Target == d.Name {
			return fmt.Errorf("%w: %q", ErrSelfHandoff, d.Name)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d Definition) Clone() Definition {
	d.Tools = slices.Clone(d.Tools)
	d.Handoffs = slices.Clone(d.Handoffs)
	return d
}

// WithInstructionPrefix returns a copy decorated with prefix. The model
// sees prefix, a blank line, then the rendered instructions. The receiver
// is unchanged.
func (d Definition) WithInstructionPrefix(prefix string) Definition {
	out := d.Clone()
	if prefix == "" {
		return out
	}
	if out.InstructionPrefix != "" {
		prefix += "\n\n" + out.InstructionPrefix
	}
	out.InstructionPrefix = prefix
	return out
}

// Decorate joins the prefix and rendered instructions.
func (d Definition) Decorate(rendered string) string {
	if d.InstructionPrefix == "" {
		return rendered
	}
	return d.InstructionPrefix + "\n\n" + rendered
}

// WithTools returns a copy with extra tool names appended (duplicates
// skipped).
func (d Definition) WithTools(names ...string) Definition {
	out := d.Clone()
	for _, n := range names {
		if n != "" && !slices.Contains(out.Tools, n) {
			out.Tools = append(out.Tools, n)
		}
	}
	return out
}

// ParseDefinitions reads the `agents:` list of a YAML document and
// validates every entry.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var doc struct {
		Agents []Definition `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse agent definitions: %w", err)
	}
	for _, d := range doc.Agents {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Agents, nil
}
