package stream

import (
	"encoding/json"
	"fmt"

	"github.com/next-unicorn-dev/canvas/core"
)

// FrameType names a transport event.
type FrameType string

const (
	FrameDelta                       FrameType = "delta"
	FrameToolCall                    FrameType = "tool_call"
	FrameToolCallArguments           FrameType = "tool_call_arguments"
	FrameToolCallResult              FrameType = "tool_call_result"
	FrameToolCallPendingConfirmation FrameType = "tool_call_pending_confirmation"
	FrameToolCallConfirmed           FrameType = "tool_call_confirmed"
	FrameToolCallCancelled           FrameType = "tool_call_cancelled"
	FrameAllMessages                 FrameType = "all_messages"
	FrameDone                        FrameType = "done"
)

// Frame is one JSON object delivered to a session's live connection. Only
// the fields relevant to Type are serialized.
type Frame struct {
	Type      FrameType
	Text      string
	ID        string
	Name      string
	Arguments string
	Message   *core.Message
	Messages  []core.Message
}

// Delta carries incremental assistant text.
func Delta(text string) Frame { return Frame{Type: FrameDelta, Text: text} }

// ToolCall announces a started tool call. Arguments are streamed separately.
func ToolCall(id, name string) Frame {
	return Frame{Type: FrameToolCall, ID: id, Name: name, Arguments: "{}"}
}

// ToolCallArguments carries an argument fragment for call id.
func ToolCallArguments(id, text string) Frame {
	return Frame{Type: FrameToolCallArguments, ID: id, Text: text}
}

// ToolCallResult carries an early tool result message.
func ToolCallResult(id string, msg core.Message) Frame {
	return Frame{Type: FrameToolCallResult, ID: id, Message: &msg}
}

// ToolCallPendingConfirmation asks the user to confirm a sensitive call.
func ToolCallPendingConfirmation(id, name, arguments string) Frame {
	return Frame{Type: FrameToolCallPendingConfirmation, ID: id, Name: name, Arguments: arguments}
}

// ToolCallConfirmed reports a confirm decision.
func ToolCallConfirmed(id string) Frame { return Frame{Type: FrameToolCallConfirmed, ID: id} }

// ToolCallCancelled reports a cancel decision.
func ToolCallCancelled(id string) Frame { return Frame{Type: FrameToolCallCancelled, ID: id} }

// AllMessages carries the authoritative transcript.
func AllMessages(msgs []core.Message) Frame {
	return Frame{Type: FrameAllMessages, Messages: core.CloneMessages(msgs)}
}

// Done marks the end of a run.
func Done() Frame { return Frame{Type: FrameDone} }

// MarshalJSON implements json.Marshaler.
func (f Frame) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": f.Type}
	switch f.Type {
	case FrameDelta:
		out["text"] = f.Text
	case FrameToolCall:
		out["id"] = f.ID
		out["name"] = f.Name
		out["arguments"] = f.Arguments
	case FrameToolCallArguments:
		out["id"] = f.ID
		out["text"] = f.Text
	case FrameToolCallResult:
		out["id"] = f.ID
		out["message"] = f.Message
	case FrameToolCallPendingConfirmation:
		out["id"] = f.ID
		out["name"] = f.Name
		out["arguments"] = f.Arguments
	case FrameToolCallConfirmed, FrameToolCallCancelled:
		out["id"] = f.ID
	case FrameAllMessages:
		msgs := f.Messages
		if msgs == nil {
			msgs = []core.Message{}
		}
		out["messages"] = msgs
	case FrameDone:
	default:
		return nil, fmt.Errorf("stream: unknown frame type %q", f.Type)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var w struct {
		Type      FrameType      `json:"type"`
		Text      string         `json:"text"`
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Arguments string         `json:"arguments"`
		Message   *core.Message  `json:"message"`
		Messages  []core.Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = Frame{
		Type:      w.Type,
		Text:      w.Text,
		ID:        w.ID,
		Name:      w.Name,
		Arguments: w.Arguments,
		Message:   w.Message,
		Messages:  w.Messages,
	}
	return nil
}
