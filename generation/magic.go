package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/internal/metrics"
	"github.com/next-unicorn-dev/canvas/stream"
	"github.com/next-unicorn-dev/canvas/tool"
)

// Magic answers and defaults.
const (
	MagicAuthor        = "magic"
	MagicMarker        = "✨"
	MagicDefaultPrompt = "Create a magical and creative variation of this image"
	MagicNoImage       = "✨ No input image found"
	MagicTimeout       = "✨ Time out"
	magicSuccessPrefix = "✨ Magic Success!!!\n\n"
	magicErrorPrefix   = "✨ Magic Generation Error: "
	magicPromptPrefix  = "✨ Magic Transformation: "
)

// ErrNoImageTool is the magic failure when the catalog holds no image tool.
var ErrNoImageTool = errors.New("no image generation tools available")

// MagicRequest is one magic turn on the canvas selection.
type MagicRequest struct {
	SessionID string
	CanvasID  string
	Messages  []core.Message
}

// Magic transforms the image of the last user message with the first image
// tool of the catalog. It blocks until the answer is persisted and done is
// published.
func (s *Service) Magic(ctx context.Context, req MagicRequest) error {
	if err := validate(req.SessionID, req.Messages); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.tasks.Register(req.SessionID, cancel); err != nil {
		cancel()
		return err
	}

	runID := core.NewID()
	start := time.Now()
	result := "done"
	metrics.RecordRunStart(FlowMagic)
	defer func() {
		s.finish(ctx, req.SessionID, cancel)
		metrics.RecordRunEnd(FlowMagic, result, time.Since(start))
		s.logger.Info("generation.magic.end", "session_id", req.SessionID, "run_id", runID, "status", result, "duration_ms", time.Since(start).Milliseconds())
	}()

	s.logger.Info("generation.magic.start", "session_id", req.SessionID, "run_id", runID)
	s.bootstrap(ctx, req.SessionID, req.CanvasID, req.Messages, TextModel{Provider: "prism", Model: "gpt"})

	text, err := s.magic(runCtx, runID, req)
	if runCtx.Err() != nil {
		result = "cancelled"
		return nil
	}
	if err != nil {
		result = "failed"
		text = magicErrorText(err)
		s.logger.Error("generation.magic.failed", "session_id", req.SessionID, "run_id", runID, "error", err.Error())
	}

	answer := core.NewAssistantMessage(MagicAuthor, text)
	messages := append(core.CloneMessages(req.Messages), answer)

	proc := stream.NewProcessor(req.SessionID, s.pub, s.store, func(o *stream.Options) {
		o.Logger = s.logger
		o.InitialIndex = len(req.Messages)
	})
	if err := proc.Handle(runCtx, core.NewCheckpointEvent(runID, MagicAuthor, messages)); err != nil {
		s.logger.Error("generation.magic.persist_failed", "session_id", req.SessionID, "run_id", runID, "error", err.Error())
	}
	return nil
}

// magic returns the answer text. Errors are capability failures and are
// rendered by the caller.
func (s *Service) magic(ctx context.Context, runID string, req MagicRequest) (string, error) {
	image, prompt := magicInput(req.Messages[len(req.Messages)-1])
	if image == "" {
		return MagicNoImage, nil
	}

	t, ok := s.catalog.FirstOfKind(tool.KindImage)
	if !ok {
		return "", ErrNoImageTool
	}

	rc := core.NewRunContext(ctx, req.SessionID, req.CanvasID, runID, nil, 0, s.logger).WithAgent(MagicAuthor)
	callID := core.NewID()
	args := map[string]any{
		"prompt":       magicPromptPrefix + prompt,
		"aspect_ratio": "1:1",
		"input_images": []any{image},
	}

	callStart := time.Now()
	out, err := t.Call(core.NewToolContext(rc, callID), args)
	metrics.RecordToolCall(t.Name(), err)
	s.logger.Info("generation.magic.tool", "session_id", req.SessionID, "tool", t.Name(), "function_call_id", callID, "duration_ms", time.Since(callStart).Milliseconds(), "error", err != nil)
	if err != nil {
		return "", err
	}
	return magicSuccessPrefix + core.ResultText(out), nil
}

// magicInput extracts the first image and the prompt of msg. Text parts
// carrying the magic marker are labels, not prompts.
func magicInput(msg core.Message) (image, prompt string) {
	var texts []string
	for _, p := range msg.Parts {
		switch t := p.(type) {
		case core.ImagePart:
			if image == "" {
				image = t.URL
			}
		case core.TextPart:
			if t.Text != "" && !strings.Contains(t.Text, MagicMarker) {
				texts = append(texts, t.Text)
			}
		}
	}
	prompt = strings.TrimSpace(strings.Join(texts, " "))
	if prompt == "" {
		prompt = MagicDefaultPrompt
	}
	return image, prompt
}

func magicErrorText(err error) string {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return MagicTimeout
	}
	return magicErrorPrefix + err.Error()
}
