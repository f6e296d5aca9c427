// Package modeltest provides a deterministic model.Model for tests and local
// development. A ScriptedModel replays a fixed list of turns, streaming
// each one the way the provider adapters do.
package modeltest

import (
	"context"
	"errors"
	"sync"

	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/model"
)

// ErrScriptExhausted is returned when Generate is called more often than
// turns were scripted.
var ErrScriptExhausted = errors.New("scripted model: no turns left")

// Turn is one scripted model call.
type Turn struct {
	// Text is streamed as deltas of ChunkSize runes.
	Text string
	// Calls are announced one by one, each followed by its arguments split
	// into ChunkSize fragments.
	Calls []core.FunctionCall
	// Err aborts the turn after streaming Text.
	Err error
	// Hold, when set, blocks after streaming Text until it is closed or
	// the context is cancelled.
	Hold <-chan struct{}
	// ChunkSize defaults to 4.
	ChunkSize int
}

// TextTurn scripts a plain text answer.
func TextTurn(text string) Turn { return Turn{Text: text} }

// CallTurn scripts a single tool call.
func CallTurn(id, name, args string) Turn {
	return Turn{Calls: []core.FunctionCall{{ID: id, Name: name, Arguments: args}}}
}

// ScriptedModel replays turns in order. It is safe for concurrent use; each
// Generate call consumes one turn.
type ScriptedModel struct {
	mu       sync.Mutex
	turns    []Turn
	requests []model.Request
}

// New returns a ScriptedModel replaying turns.
func New(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{turns: turns}
}

// Append adds turns to the end of the script.
func (m *ScriptedModel) Append(turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Info implements model.Model.
func (m *ScriptedModel) Info() model.Info {
	return model.Info{Name: "scripted", Provider: "scripted", SupportsTools: true}
}

// Generate implements model.Model.
func (m *ScriptedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var (
		turn Turn
		ok   bool
	)
	if len(m.turns) > 0 {
		turn, m.turns, ok = m.turns[0], m.turns[1:], true
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)

		if !ok {
			errCh <- ErrScriptExhausted
			return
		}
		if err := play(ctx, turn, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func play(ctx context.Context, turn Turn, out chan<- model.Response) error {
	size := turn.ChunkSize
	if size <= 0 {
		size = 4
	}

	send := func(r model.Response) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- r:
			return nil
		}
	}
	partial := func(p core.Part) model.Response {
		return model.Response{Partial: true, Content: core.Content{Role: core.RoleAssistant, Parts: []core.Part{p}}}
	}

	for _, chunk := range split(turn.Text, size) {
		if err := send(partial(core.TextPart{Text: chunk})); err != nil {
			return err
		}
	}

	if turn.Hold != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-turn.Hold:
		}
	}

	if turn.Err != nil {
		return turn.Err
	}

	finalParts := make([]core.Part, 0, len(turn.Calls)+1)
	if turn.Text != "" {
		finalParts = append(finalParts, core.TextPart{Text: turn.Text})
	}

	for _, call := range turn.Calls {
		announce := core.FunctionCall{ID: call.ID, Name: call.Name}
		if err := send(partial(core.FunctionCallPart{FunctionCall: announce})); err != nil {
			return err
		}
		for _, frag := range split(call.Arguments, size) {
			if err := send(partial(core.FunctionCallPart{FunctionCall: core.FunctionCall{Arguments: frag}})); err != nil {
				return err
			}
		}
		finalParts = append(finalParts, core.FunctionCallPart{FunctionCall: call})
	}

	reason := "stop"
	if len(turn.Calls) > 0 {
		reason = "tool_calls"
	}
	return send(model.Response{
		Content:      core.Content{Role: core.RoleAssistant, Parts: finalParts},
		FinishReason: reason,
	})
}

func split(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
