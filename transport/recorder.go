package transport

import (
	"context"
	"sync"

	"github.com/next-unicorn-dev/canvas/stream"
)

// Recorder is an in-memory stream.Publisher that keeps every frame. It
// backs tests and can be chained in front of another publisher.
type Recorder struct {
	next stream.Publisher

	mu     sync.Mutex
	frames map[string][]stream.Frame
}

// NewRecorder creates a recorder. next, if non-nil, receives every frame
// after it was recorded.
func NewRecorder(next stream.Publisher) *Recorder {
	return &Recorder{next: next, frames: make(map[string][]stream.Frame)}
}

// Publish implements stream.Publisher.
func (r *Recorder) Publish(ctx context.Context, sessionID string, f stream.Frame) error {
	r.mu.Lock()
	r.frames[sessionID] = append(r.frames[sessionID], f)
	r.mu.Unlock()

	if r.next != nil {
		return r.next.Publish(ctx, sessionID, f)
	}
	return nil
}

// Frames returns a copy of the frames published for sessionID.
func (r *Recorder) Frames(sessionID string) []stream.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stream.Frame, len(r.frames[sessionID]))
	copy(out, r.frames[sessionID])
	return out
}

// Types returns the frame types published for sessionID, in order.
func (r *Recorder) Types(sessionID string) []stream.FrameType {
	frames := r.Frames(sessionID)
	out := make([]stream.FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

// Reset forgets all recorded frames.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = make(map[string][]stream.Frame)
}

var _ stream.Publisher = (*Recorder)(nil)
