package orchestrator

import (
	"fmt"

	"github.com/next-unicorn-dev/canvas/core"
)

// State is one state of a run. The set is closed.
type State interface {
	isState()
	String() string
}

// Active means Agent is in control and the next step calls its model.
type Active struct {
	Agent string
}

// HandingOff is the transient state between two agents. The conversation
// is unchanged by a hand-off.
type HandingOff struct {
	From, To string
}

// AwaitingConfirmation suspends the run until the user decides on Calls[0].
// Remaining calls are decided in order; Handoff, if set, is honoured once
// every call is resolved.
type AwaitingConfirmation struct {
	Agent   string
	Calls   []core.FunctionCall
	Handoff *core.FunctionCall
}

// Done is the natural terminal state.
type Done struct{}

// Cancelled is reached when the run's context is cancelled.
type Cancelled struct{}

// Failed records an unrecoverable model or tool error. It is rendered as an
// assistant error message and then becomes Done.
type Failed struct {
	Agent string
	Err   error
}

func (Active) isState()               {}
func (HandingOff) isState()           {}
func (AwaitingConfirmation) isState() {}
func (Done) isState()                 {}
func (Cancelled) isState()            {}
func (Failed) isState()               {}

func (s Active) String() string     { return fmt.Sprintf("ACTIVE(%s)", s.Agent) }
func (s HandingOff) String() string { return fmt.Sprintf("HANDING_OFF(%s, %s)", s.From, s.To) }
func (s AwaitingConfirmation) String() string {
	if len(s.Calls) == 0 {
		return "AWAITING_CONFIRMATION()"
	}
	return fmt.Sprintf("AWAITING_CONFIRMATION(%s)", s.Calls[0].ID)
}
func (Done) String() string      { return "DONE" }
func (Cancelled) String() string { return "CANCELLED" }
func (s Failed) String() string  { return fmt.Sprintf("FAILED(%v)", s.Err) }

// Terminal reports whether s ends the run.
func Terminal(s State) bool {
	switch s.(type) {
	case Done, Cancelled:
		return true
	}
	return false
}
