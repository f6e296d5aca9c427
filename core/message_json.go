package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Messages are persisted and streamed in the OpenAI chat message shape so
// that stored transcripts can be replayed to any client unchanged.

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireMessage struct {
	ID         string          `json:"id,omitempty"`
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Status     string          `json:"status,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{ID: m.ID, Role: m.Role}

	switch m.Role {
	case RoleTool:
		fr, _ := m.FunctionResponse()
		w.ToolCallID = fr.ID
		w.Name = fr.Name
		text := ResultText(fr.Response)
		if fr.Error != "" {
			text = fr.Error
			w.Status = "error"
		}
		content, err := json.Marshal(text)
		if err != nil {
			return nil, err
		}
		w.Content = content
	default:
		w.Name = m.Agent
		for _, fc := range m.FunctionCalls() {
			args := fc.Arguments
			if args == "" {
				args = "{}"
			}
			w.ToolCalls = append(w.ToolCalls, wireToolCall{
				ID:       fc.ID,
				Type:     "function",
				Function: wireToolFunction{Name: fc.Name, Arguments: args},
			})
		}
		content, err := marshalContent(m.Parts)
		if err != nil {
			return nil, err
		}
		w.Content = content
	}

	return json.Marshal(w)
}

// marshalContent renders plain text as a JSON string and mixed text/image
// content as a list of typed parts.
func marshalContent(parts []Part) (json.RawMessage, error) {
	hasImage := false
	for _, p := range parts {
		if _, ok := p.(ImagePart); ok {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return json.Marshal(joinText(parts))
	}

	list := make([]wireContentPart, 0, len(parts))
	for _, p := range parts {
		switch t := p.(type) {
		case TextPart:
			list = append(list, wireContentPart{Type: "text", Text: t.Text})
		case ImagePart:
			list = append(list, wireContentPart{Type: "image_url", ImageURL: &wireImageURL{URL: t.URL}})
		}
	}
	return json.Marshal(list)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Role == "" {
		w.Role = RoleUser
	}

	*m = Message{ID: w.ID, Role: w.Role}

	parts, err := unmarshalContent(w.Content)
	if err != nil {
		return fmt.Errorf("message content: %w", err)
	}

	if w.Role == RoleTool {
		fr := FunctionResponse{ID: w.ToolCallID, Name: w.Name, Response: joinText(parts)}
		if w.Status == "error" {
			fr.Error = joinText(parts)
			fr.Response = nil
		}
		m.Parts = []Part{FunctionResponsePart{FunctionResponse: fr}}
		return nil
	}

	m.Agent = w.Name
	m.Parts = parts
	for _, tc := range w.ToolCalls {
		m.Parts = append(m.Parts, FunctionCallPart{FunctionCall: FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}
	return nil
}

func unmarshalContent(raw json.RawMessage) ([]Part, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []Part{TextPart{Text: s}}, nil
	}

	var list []wireContentPart
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	parts := make([]Part, 0, len(list))
	for _, cp := range list {
		switch cp.Type {
		case "text":
			parts = append(parts, TextPart{Text: cp.Text})
		case "image_url":
			if cp.ImageURL != nil {
				parts = append(parts, ImagePart{URL: cp.ImageURL.URL})
			}
		}
	}
	return parts, nil
}
