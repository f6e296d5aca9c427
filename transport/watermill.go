// Package transport delivers stream frames to live session connections.
// Frames of one session share a topic; publishing blocks until every
// subscriber acknowledged the frame, which keeps per-session order. A
// subscriber that does not take a frame within Options.SendTimeout has
// that frame dropped, so one stalled connection holds a publisher for at
// most SendTimeout per frame.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/next-unicorn-dev/canvas/logging"
	"github.com/next-unicorn-dev/canvas/stream"
)

// Topic returns the topic frames of sessionID are published on.
func Topic(sessionID string) string { return "session." + sessionID }

// Options configure a Watermill transport.
type Options struct {
	Logger logging.Logger
	// OutputBuffer is the per-subscriber message buffer.
	OutputBuffer int64
	// SendTimeout bounds how long a frame waits for a subscriber to read
	// it before it is dropped for that subscriber. Zero uses the default.
	SendTimeout time.Duration
}

// DefaultSendTimeout is the SendTimeout used when none is configured.
const DefaultSendTimeout = 5 * time.Second

// Watermill is an in-process pub/sub transport backed by a watermill
// gochannel.
type Watermill struct {
	pubsub      *gochannel.GoChannel
	logger      logging.Logger
	sendTimeout time.Duration
}

// NewWatermill creates the transport.
func NewWatermill(optFns ...func(o *Options)) *Watermill {
	opts := Options{OutputBuffer: 64, SendTimeout: DefaultSendTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	logger := logging.OrNoOp(opts.Logger)

	return &Watermill{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            opts.OutputBuffer,
			BlockPublishUntilSubscriberAck: true,
		}, NewWatermillLogger(logger)),
		logger:      logger,
		sendTimeout: opts.SendTimeout,
	}
}

// Publish implements stream.Publisher. Frames published while nobody is
// subscribed are dropped; the next all_messages frame carries the state.
func (w *Watermill) Publish(ctx context.Context, sessionID string, f stream.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", f.Type, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", string(f.Type))

	if err := w.pubsub.Publish(Topic(sessionID), msg); err != nil {
		return fmt.Errorf("publish to %s: %w", Topic(sessionID), err)
	}
	return nil
}

// Subscribe streams the frames of sessionID until ctx is cancelled or the
// transport is closed. Frames not read within the send timeout are dropped.
func (w *Watermill) Subscribe(ctx context.Context, sessionID string) (<-chan stream.Frame, error) {
	messages, err := w.pubsub.Subscribe(ctx, Topic(sessionID))
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", Topic(sessionID), err)
	}

	out := make(chan stream.Frame)
	go func() {
		defer close(out)
		for msg := range messages {
			var f stream.Frame
			if err := json.Unmarshal(msg.Payload, &f); err != nil {
				w.logger.Warn("transport.frame.decode_failed", "session_id", sessionID, "message_id", msg.UUID, "error", err.Error())
				msg.Ack()
				continue
			}
			timer := time.NewTimer(w.sendTimeout)
			select {
			case out <- f:
				timer.Stop()
				msg.Ack()
			case <-timer.C:
				w.logger.Warn("transport.frame.dropped", "session_id", sessionID, "type", string(f.Type), "timeout_ms", w.sendTimeout.Milliseconds())
				msg.Ack()
			case <-ctx.Done():
				timer.Stop()
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the transport down and closes all subscriptions.
func (w *Watermill) Close() error {
	return w.pubsub.Close()
}

var _ stream.Publisher = (*Watermill)(nil)
