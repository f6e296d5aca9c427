// Package graph compiles agent definitions into an immutable routing graph:
// each agent gets its catalog tools plus one synthetic hand-off tool per
// permitted target. Resolution errors are configuration errors and abort
// the build, never a run.
package graph

import (
	"errors"
	"fmt"

	"github.com/next-unicorn-dev/canvas/agent"
	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/model"
	"github.com/next-unicorn-dev/canvas/tool"
)

var (
	// ErrUnknownTool is returned when a definition names a tool the catalog
	// does not contain.
	ErrUnknownTool = errors.New("graph: unknown tool")
	// ErrUnknownAgent is returned for a hand-off to an agent outside the graph.
	ErrUnknownAgent = errors.New("graph: unknown hand-off target")
	// ErrDuplicateAgent is returned when two definitions share a name.
	ErrDuplicateAgent = errors.New("graph: duplicate agent")
	// ErrEmpty is returned when no definitions are given.
	ErrEmpty = errors.New("graph: no agents")
)

// Lookup resolves tool names to executable tools.
type Lookup interface {
	Lookup(name string) (tool.Tool, bool)
}

// Graph is the compiled set of agents for one run configuration.
type Graph struct {
	agents map[string]*Agent
	order  []string
	entry  string
}

// Build compiles defs. The first definition is the entry agent.
func Build(defs []agent.Definition, m model.Model, catalog Lookup) (*Graph, error) {
	if len(defs) == 0 {
		return nil, ErrEmpty
	}
	if m == nil {
		return nil, errors.New("graph: nil model")
	}

	g := &Graph{agents: make(map[string]*Agent, len(defs)), entry: defs[0].Name}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := g.agents[d.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAgent, d.Name)
		}
		g.agents[d.Name] = &Agent{
			name:        d.Name,
			llm:         m,
			instruction: agent.NewInstructionFromText(d.Instructions),
			def:         d.Clone(),
			tools:       make(map[string]tool.Tool),
			handoffs:    make(map[string]string),
		}
		g.order = append(g.order, d.Name)
	}

	for _, d := range defs {
		a := g.agents[d.Name]
		for _, name := range d.Tools {
			t, ok := catalog.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("%w %q (agent %q)", ErrUnknownTool, name, d.Name)
			}
			a.register(t)
		}
		for _, h := range d.Handoffs {
			if _, ok := g.agents[h.Target]; !ok {
				return nil, fmt.Errorf("%w %q (agent %q)", ErrUnknownAgent, h.Target, d.Name)
			}
			ht := tool.NewHandoffTool(h.Target, h.Description)
			a.register(ht)
			a.handoffs[ht.Name()] = h.Target
		}
	}

	return g, nil
}

// Entry returns the designated entry agent.
func (g *Graph) Entry() *Agent { return g.agents[g.entry] }

// Get returns the named agent.
func (g *Graph) Get(name string) (*Agent, bool) {
	a, ok := g.agents[name]
	return a, ok
}

// Names returns agent names, entry first.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// IsHandoff reports whether any agent in the graph uses name as a hand-off
// tool.
func (g *Graph) IsHandoff(name string) bool {
	for _, a := range g.agents {
		if _, ok := a.handoffs[name]; ok {
			return true
		}
	}
	return false
}

// ResolveActive picks the agent that should answer the next turn: the agent
// tagged on the most recent assistant message that belongs to this graph,
// or the entry agent.
func (g *Graph) ResolveActive(messages []core.Message) *Agent {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if !msg.IsAssistant() || msg.Agent == "" {
			continue
		}
		if a, ok := g.agents[msg.Agent]; ok {
			return a
		}
	}
	return g.Entry()
}
