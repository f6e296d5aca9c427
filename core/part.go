package core

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// ImagePart references an image by URL. Data URLs (data:image/...;base64,...)
// are accepted as-is.
type ImagePart struct {
	URL string
}

func (ImagePart) isPart() {}

// FunctionCall describes a tool invocation request. While streaming, an
// announcement carries ID and Name only and argument fragments carry
// Arguments only; the aggregated call carries all three.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // Serialized JSON arguments
}

// IsAnnouncement reports whether the call opens a new argument stream.
func (fc FunctionCall) IsAnnouncement() bool { return fc.ID != "" }

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"` // Matches originating FunctionCall ID
	Name     string `json:"name"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

func (FunctionResponsePart) isPart() {}

// Content holds role + ordered parts. It is the unit produced by models,
// before it is attributed to an agent and appended to a conversation.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Text concatenates all text parts.
func (c Content) Text() string { return joinText(c.Parts) }

// FunctionCalls returns the function call parts preserving order.
func (c Content) FunctionCalls() []FunctionCall { return functionCalls(c.Parts) }

func joinText(parts []Part) string {
	var out string
	for _, p := range parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

func functionCalls(parts []Part) []FunctionCall {
	var calls []FunctionCall
	for _, p := range parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}
