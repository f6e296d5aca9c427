// Package stream turns the orchestrator's raw events into transport frames
// and persists completed messages. Checkpoints are persisted exactly once
// through a monotonic cursor; incremental chunks become live frames.
package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/internal/metrics"
	"github.com/next-unicorn-dev/canvas/logging"
)

// Publisher pushes frames to a session's live connection.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, f Frame) error
}

// Persister appends one message to a session's durable log.
type Persister interface {
	AppendMessage(ctx context.Context, sessionID string, msg core.Message) error
}

// Options configure a Processor.
type Options struct {
	Logger logging.Logger
	// InitialIndex is the number of transcript messages already persisted.
	InitialIndex int
	// Hidden reports tool names whose calls are not announced to the
	// client (sensitive tools and hand-offs).
	Hidden func(name string) bool
}

// Processor is single-use and not safe for concurrent use; one processor
// consumes one run.
type Processor struct {
	sessionID string
	pub       Publisher
	store     Persister
	logger    logging.Logger
	hidden    func(string) bool

	lastSavedIndex  int
	lastStreamingID string
	hiddenCalls     map[string]bool
}

// NewProcessor creates a processor for sessionID.
func NewProcessor(sessionID string, pub Publisher, store Persister, optFns ...func(o *Options)) *Processor {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	hidden := opts.Hidden
	if hidden == nil {
		hidden = func(string) bool { return false }
	}
	return &Processor{
		sessionID:      sessionID,
		pub:            pub,
		store:          store,
		logger:         logging.OrNoOp(opts.Logger),
		hidden:         hidden,
		lastSavedIndex: opts.InitialIndex,
		hiddenCalls:    make(map[string]bool),
	}
}

// LastSavedIndex returns the persistence cursor.
func (p *Processor) LastSavedIndex() int { return p.lastSavedIndex }

// Process consumes events until the channel is closed. It always drains
// the channel; after ctx is cancelled only checkpoints are still handled.
// The returned error joins persistence failures.
func (p *Processor) Process(ctx context.Context, events <-chan core.Event) error {
	var errs []error
	for ev := range events {
		if err := p.Handle(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handle classifies and forwards a single event.
func (p *Processor) Handle(ctx context.Context, ev core.Event) error {
	if ev.IsCheckpoint() {
		if reason, failed := ev.Failed(); failed {
			p.logger.Warn("stream.run.failed", "session_id", p.sessionID, "run_id", ev.RunID, "agent", ev.Author, "error", reason)
		}
		return p.handleCheckpoint(ctx, ev.Snapshot)
	}
	if ev.Content == nil || ctx.Err() != nil {
		return nil
	}

	if ev.Content.Role == core.RoleTool {
		for _, fr := range ev.GetFunctionResponses() {
			msg := core.Message{ID: ev.ID, Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: fr}}}
			p.publish(ctx, ToolCallResult(fr.ID, msg))
		}
		return nil
	}

	if !ev.IsPartial() {
		return nil
	}

	for _, part := range ev.Content.Parts {
		switch t := part.(type) {
		case core.TextPart:
			if t.Text != "" {
				p.publish(ctx, Delta(t.Text))
			}
		case core.FunctionCallPart:
			p.handleCallChunk(ctx, t.FunctionCall)
		}
	}
	return nil
}

func (p *Processor) handleCallChunk(ctx context.Context, fc core.FunctionCall) {
	if fc.IsAnnouncement() {
		p.lastStreamingID = fc.ID
		if p.hidden(fc.Name) {
			p.hiddenCalls[fc.ID] = true
			return
		}
		p.publish(ctx, ToolCall(fc.ID, fc.Name))
		if fc.Arguments != "" {
			p.publish(ctx, ToolCallArguments(fc.ID, fc.Arguments))
		}
		return
	}

	if fc.Arguments == "" {
		return
	}
	if p.lastStreamingID == "" {
		metrics.RecordDroppedFragment()
		p.logger.Warn("stream.tool_call_arguments.orphan", "session_id", p.sessionID, "fragment", fc.Arguments)
		return
	}
	if p.hiddenCalls[p.lastStreamingID] {
		return
	}
	p.publish(ctx, ToolCallArguments(p.lastStreamingID, fc.Arguments))
}

func (p *Processor) handleCheckpoint(ctx context.Context, msgs []core.Message) error {
	detached := context.WithoutCancel(ctx)
	p.publish(detached, AllMessages(msgs))

	if len(msgs) < p.lastSavedIndex {
		p.logger.Warn("stream.checkpoint.shrunk", "session_id", p.sessionID, "length", len(msgs), "last_saved_index", p.lastSavedIndex)
		return nil
	}

	saved := 0
	for i := p.lastSavedIndex; i < len(msgs); i++ {
		if err := p.store.AppendMessage(detached, p.sessionID, msgs[i]); err != nil {
			p.logger.Error("stream.persist.failed", "session_id", p.sessionID, "index", i, "error", err.Error())
			metrics.RecordPersisted(saved)
			return fmt.Errorf("persist message %d: %w", i, err)
		}
		p.lastSavedIndex = i + 1
		saved++
	}
	metrics.RecordPersisted(saved)
	if saved > 0 {
		p.logger.Debug("stream.persist.completed", "session_id", p.sessionID, "count", saved, "last_saved_index", p.lastSavedIndex)
	}
	return nil
}

func (p *Processor) publish(ctx context.Context, f Frame) {
	if err := p.pub.Publish(ctx, p.sessionID, f); err != nil {
		p.logger.Warn("stream.publish.failed", "session_id", p.sessionID, "type", string(f.Type), "error", err.Error())
	}
}
