package core

import (
	"encoding/json"
	"fmt"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Message is one entry of a conversation. The variant is derived from Role
// and Parts:
//   - user: text and image parts
//   - assistant text: text parts only
//   - assistant tool call: one or more FunctionCallPart (optionally with text)
//   - tool result: exactly one FunctionResponsePart
//
// Agent tags assistant messages with the name of the agent that produced
// them. It is how a later turn finds the agent that was last in control.
type Message struct {
	ID    string
	Role  string
	Agent string
	Parts []Part
}

// NewUserMessage creates a user text message.
func NewUserMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// NewAssistantMessage creates an assistant text message attributed to agent.
func NewAssistantMessage(agent, text string) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Agent: agent, Parts: []Part{TextPart{Text: text}}}
}

// NewAssistantContentMessage attributes model content to agent. Text and
// function call parts are kept, anything else is dropped.
func NewAssistantContentMessage(agent string, content Content) Message {
	parts := make([]Part, 0, len(content.Parts))
	for _, p := range content.Parts {
		switch p.(type) {
		case TextPart, FunctionCallPart:
			parts = append(parts, p)
		}
	}
	return Message{ID: NewID(), Role: RoleAssistant, Agent: agent, Parts: parts}
}

// NewToolResultMessage records the result (or error) of the call identified by id.
func NewToolResultMessage(id, name string, result any, err error) Message {
	fr := FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	return Message{ID: NewID(), Role: RoleTool, Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
}

// Text concatenates the message's text parts.
func (m Message) Text() string { return joinText(m.Parts) }

// FunctionCalls returns the tool calls carried by an assistant message.
func (m Message) FunctionCalls() []FunctionCall { return functionCalls(m.Parts) }

// FunctionResponse returns the tool result carried by a tool message.
func (m Message) FunctionResponse() (FunctionResponse, bool) {
	for _, p := range m.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			return fr.FunctionResponse, true
		}
	}
	return FunctionResponse{}, false
}

// Images returns the URLs of all image parts.
func (m Message) Images() []string {
	var urls []string
	for _, p := range m.Parts {
		if ip, ok := p.(ImagePart); ok {
			urls = append(urls, ip.URL)
		}
	}
	return urls
}

// IsAssistant reports whether the message was produced by an agent.
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }

// IsToolCall reports whether the message is an assistant tool call.
func (m Message) IsToolCall() bool { return m.IsAssistant() && len(m.FunctionCalls()) > 0 }

// CloneMessages returns a copy of the slice that can be appended to without
// aliasing the original backing array.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// ResultText renders a tool result the way it is presented to models and
// clients: strings verbatim, everything else as JSON.
func ResultText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
