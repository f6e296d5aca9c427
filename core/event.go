package core

import (
	"time"

	"github.com/google/uuid"
)

// EventActions are the orchestration signals a tool raises through its
// ToolContext.
type EventActions struct {
	TransferToAgent *string `json:"transfer_to_agent,omitempty"`
}

// Event is the raw unit the orchestrator produces for the stream processor.
// There are two classes:
//
//   - checkpoint events (Snapshot != nil): the full, authoritative
//     conversation after a state change
//   - incremental events: partial assistant output (text, tool call
//     announcements, argument fragments) or an early tool result
//
// After emission an Event should be treated as immutable.
type Event struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	Partial      bool      `json:"partial,omitempty"`
	Content      *Content  `json:"content,omitempty"`
	Snapshot     []Message `json:"snapshot,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}

// NewEvent creates a bare event authored by author bound to a run.
func NewEvent(runID, author string) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Author:    author,
		Timestamp: time.Now().UTC(),
	}
}

// NewTextDeltaEvent carries an incremental piece of assistant text.
func NewTextDeltaEvent(runID, author, text string) Event {
	e := NewEvent(runID, author)
	e.Partial = true
	e.Content = &Content{Role: RoleAssistant, Parts: []Part{TextPart{Text: text}}}
	return e
}

// NewFunctionCallDeltaEvent carries a tool call announcement (id and name)
// or, when fc.ID is empty, an argument fragment.
func NewFunctionCallDeltaEvent(runID, author string, fc FunctionCall) Event {
	e := NewEvent(runID, author)
	e.Partial = true
	e.Content = &Content{Role: RoleAssistant, Parts: []Part{FunctionCallPart{FunctionCall: fc}}}
	return e
}

// NewFunctionResponseEvent carries the result of a tool call ahead of the
// next checkpoint.
func NewFunctionResponseEvent(runID, author string, msg Message) Event {
	e := NewEvent(runID, author)
	e.Content = &Content{Role: RoleTool, Parts: msg.Parts}
	return e
}

// NewCheckpointEvent snapshots the conversation.
func NewCheckpointEvent(runID, author string, messages []Message) Event {
	e := NewEvent(runID, author)
	e.Snapshot = CloneMessages(messages)
	if e.Snapshot == nil {
		e.Snapshot = []Message{}
	}
	return e
}

// NewFailedCheckpointEvent snapshots the conversation of a run that failed
// with errMsg. The snapshot already holds the rendered error message.
func NewFailedCheckpointEvent(runID, author string, messages []Message, errMsg string) Event {
	e := NewCheckpointEvent(runID, author, messages)
	e.ErrorMessage = &errMsg
	return e
}

// NewID generates a new unique identifier.
func NewID() string { return uuid.NewString() }

// IsCheckpoint reports whether the event is a full conversation snapshot.
func (e Event) IsCheckpoint() bool { return e.Snapshot != nil }

// IsPartial reports whether this event is a streaming fragment.
func (e Event) IsPartial() bool { return e.Partial }

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	return functionCalls(e.Content.Parts)
}

// GetFunctionResponses returns any FunctionResponse parts contained within the
// event content preserving their original order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// Text returns the text carried by the event, if any.
func (e Event) Text() string {
	if e.Content == nil {
		return ""
	}
	return e.Content.Text()
}

// Failed reports whether the event closes a failed run, and why.
func (e Event) Failed() (string, bool) {
	if e.ErrorMessage == nil {
		return "", false
	}
	return *e.ErrorMessage, true
}
