// Package confirm suspends sensitive tool calls until the user confirms or
// cancels them.
package confirm

import (
	"context"
	"sync"

	"github.com/next-unicorn-dev/canvas/internal/metrics"
	"github.com/next-unicorn-dev/canvas/logging"
	"github.com/next-unicorn-dev/canvas/stream"
)

// Decision is the user's answer to a pending confirmation.
type Decision string

const (
	Confirmed Decision = "confirm"
	Cancelled Decision = "cancel"
)

// CancelledResult is recorded as the tool result of a call the user
// declined.
const CancelledResult = "cancelled by user"

// Result reports whether a decision found a waiting call.
type Result string

const (
	Resolved       Result = "resolved"
	NotFoundOrDone Result = "not_found_or_done"
)

// Pending describes a call waiting for a decision.
type Pending struct {
	SessionID string
	CallID    string
	Name      string
	Arguments string
}

type waiter struct {
	pending Pending
	ch      chan Decision
}

// Gate holds the pending confirmations of all sessions. A call waits
// without a timeout; it is released by a decision or by cancelling its
// context.
type Gate struct {
	pub    stream.Publisher
	logger logging.Logger

	mu      sync.Mutex
	waiters map[string]*waiter
}

// NewGate creates a gate announcing pending calls and decisions through pub.
func NewGate(pub stream.Publisher, logger logging.Logger) *Gate {
	return &Gate{
		pub:     pub,
		logger:  logging.OrNoOp(logger),
		waiters: make(map[string]*waiter),
	}
}

func key(sessionID, callID string) string { return sessionID + "/" + callID }

// Await registers p, announces it and blocks until a decision arrives.
func (g *Gate) Await(ctx context.Context, p Pending) (Decision, error) {
	w := &waiter{pending: p, ch: make(chan Decision, 1)}
	k := key(p.SessionID, p.CallID)

	g.mu.Lock()
	g.waiters[k] = w
	g.mu.Unlock()

	g.logger.Info("confirm.pending", "session_id", p.SessionID, "call_id", p.CallID, "tool", p.Name)
	g.publish(ctx, p.SessionID, stream.ToolCallPendingConfirmation(p.CallID, p.Name, p.Arguments))

	select {
	case d := <-w.ch:
		return d, nil
	case <-ctx.Done():
		g.mu.Lock()
		if g.waiters[k] == w {
			delete(g.waiters, k)
		}
		g.mu.Unlock()
		return "", ctx.Err()
	}
}

// Confirm releases the call to execute.
func (g *Gate) Confirm(sessionID, callID string) Result {
	return g.resolve(sessionID, callID, Confirmed)
}

// Cancel releases the call without executing it.
func (g *Gate) Cancel(sessionID, callID string) Result {
	return g.resolve(sessionID, callID, Cancelled)
}

// Pending lists the calls waiting in sessionID.
func (g *Gate) Pending(sessionID string) []Pending {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Pending
	for _, w := range g.waiters {
		if w.pending.SessionID == sessionID {
			out = append(out, w.pending)
		}
	}
	return out
}

func (g *Gate) resolve(sessionID, callID string, d Decision) Result {
	k := key(sessionID, callID)

	g.mu.Lock()
	w, ok := g.waiters[k]
	if ok {
		delete(g.waiters, k)
	}
	g.mu.Unlock()

	if !ok {
		return NotFoundOrDone
	}

	// The decision frame goes out before the waiter resumes so it precedes
	// any tool result on the stream.
	frame := stream.ToolCallConfirmed(callID)
	if d == Cancelled {
		frame = stream.ToolCallCancelled(callID)
	}
	g.publish(context.Background(), sessionID, frame)
	metrics.RecordConfirmation(string(d))
	g.logger.Info("confirm.resolved", "session_id", sessionID, "call_id", callID, "decision", string(d))

	w.ch <- d
	return Resolved
}

func (g *Gate) publish(ctx context.Context, sessionID string, f stream.Frame) {
	if g.pub == nil {
		return
	}
	if err := g.pub.Publish(context.WithoutCancel(ctx), sessionID, f); err != nil {
		g.logger.Warn("confirm.publish.failed", "session_id", sessionID, "type", string(f.Type), "error", err.Error())
	}
}
