// Package generation hosts the chat and magic entry points. Each request
// bootstraps its session, registers a cancellable task, runs to a terminal
// state and always ends with a done frame.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/next-unicorn-dev/canvas/agent"
	"github.com/next-unicorn-dev/canvas/confirm"
	"github.com/next-unicorn-dev/canvas/core"
	"github.com/next-unicorn-dev/canvas/graph"
	"github.com/next-unicorn-dev/canvas/internal/metrics"
	"github.com/next-unicorn-dev/canvas/logging"
	"github.com/next-unicorn-dev/canvas/model"
	"github.com/next-unicorn-dev/canvas/orchestrator"
	"github.com/next-unicorn-dev/canvas/session"
	"github.com/next-unicorn-dev/canvas/stream"
	"github.com/next-unicorn-dev/canvas/task"
	"github.com/next-unicorn-dev/canvas/tool"
)

var (
	// ErrConfiguration marks errors that abort a request before its run
	// starts: unknown tools or agents, unresolvable models.
	ErrConfiguration = errors.New("generation: configuration error")
	// ErrInvalidRequest is returned for requests without a session or
	// without messages.
	ErrInvalidRequest = errors.New("generation: invalid request")
)

// Flow names used for metrics and logs.
const (
	FlowChat  = "chat"
	FlowMagic = "magic"
)

// TextModel selects the model of a chat run.
type TextModel struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ModelResolver resolves a provider/model pair to a model.
type ModelResolver interface {
	Resolve(provider, name string) (model.Model, error)
}

// ModelResolverFunc adapts a function to ModelResolver.
type ModelResolverFunc func(provider, name string) (model.Model, error)

// Resolve implements ModelResolver.
func (f ModelResolverFunc) Resolve(provider, name string) (model.Model, error) {
	return f(provider, name)
}

// StaticModel resolves every request to m.
func StaticModel(m model.Model) ModelResolver {
	return ModelResolverFunc(func(string, string) (model.Model, error) { return m, nil })
}

// ChatRequest is one chat turn. Messages is the whole conversation; its
// last element is the new user message.
type ChatRequest struct {
	SessionID    string
	CanvasID     string
	Messages     []core.Message
	TextModel    TextModel
	Tools        []string
	SystemPrompt string
	// Agents restricts the agents of the run; empty uses all.
	Agents []string
}

// Options configure a Service.
type Options struct {
	Registry  *agent.Registry
	Catalog   *tool.Catalog
	Models    ModelResolver
	Store     session.Store
	Publisher stream.Publisher
	Gate      *confirm.Gate
	Tasks     *task.Registry
	Logger    logging.Logger
	// MaxModelCalls bounds the model calls of one chat run.
	MaxModelCalls int
	// Parallelism bounds concurrent tool calls within a step.
	Parallelism int
}

// Service runs chat and magic requests. Public methods are safe for
// concurrent use; at most one run per session is live at a time.
type Service struct {
	registry *agent.Registry
	catalog  *tool.Catalog
	models   ModelResolver
	store    session.Store
	pub      stream.Publisher
	gate     *confirm.Gate
	tasks    *task.Registry
	logger   logging.Logger

	maxModelCalls int
	parallelism   int
}

// New constructs a Service. Models, Catalog and Publisher are required; the other
// dependencies default to in-memory implementations.
func New(optFns ...func(o *Options)) (*Service, error) {
	opts := Options{
		MaxModelCalls: 25,
		Parallelism:   4,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Models == nil {
		return nil, fmt.Errorf("%w: no model resolver", ErrConfiguration)
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("%w: no tool catalog", ErrConfiguration)
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("%w: no publisher", ErrConfiguration)
	}
	if opts.Registry == nil {
		opts.Registry = agent.DefaultRegistry()
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Tasks == nil {
		opts.Tasks = task.NewRegistry()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Gate == nil {
		opts.Gate = confirm.NewGate(opts.Publisher, opts.Logger)
	}

	return &Service{
		registry:      opts.Registry,
		catalog:       opts.Catalog,
		models:        opts.Models,
		store:         opts.Store,
		pub:           opts.Publisher,
		gate:          opts.Gate,
		tasks:         opts.Tasks,
		logger:        opts.Logger,
		maxModelCalls: opts.MaxModelCalls,
		parallelism:   opts.Parallelism,
	}, nil
}

// Gate returns the confirmation gate of sensitive tool calls.
func (s *Service) Gate() *confirm.Gate { return s.gate }

// Store returns the session store.
func (s *Service) Store() session.Store { return s.store }

// Cancel requests cancellation of the session's live run.
func (s *Service) Cancel(sessionID string) task.Status {
	status := s.tasks.Cancel(sessionID)
	s.logger.Info("generation.cancel", "session_id", sessionID, "status", string(status))
	return status
}

// Active reports whether the session has a live run.
func (s *Service) Active(sessionID string) bool { return s.tasks.Active(sessionID) }

// Chat runs one chat turn and blocks until it is finished. Only
// configuration errors and invalid requests are returned; every other
// failure ends as an assistant error message followed by done.
func (s *Service) Chat(ctx context.Context, req ChatRequest) error {
	if err := validate(req.SessionID, req.Messages); err != nil {
		return err
	}

	g, err := s.compile(req)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.tasks.Register(req.SessionID, cancel); err != nil {
		cancel()
		return err
	}

	runID := core.NewID()
	start := time.Now()
	final := State(orchestrator.Done{})
	metrics.RecordRunStart(FlowChat)
	defer func() {
		s.finish(ctx, req.SessionID, cancel)
		metrics.RecordRunEnd(FlowChat, status(final), time.Since(start))
		s.logger.Info("generation.chat.end", "session_id", req.SessionID, "run_id", runID, "state", final.String(), "duration_ms", time.Since(start).Milliseconds())
	}()

	s.logger.Info("generation.chat.start", "session_id", req.SessionID, "run_id", runID, "messages", len(req.Messages))
	s.bootstrap(ctx, req.SessionID, req.CanvasID, req.Messages, req.TextModel)

	orch := orchestrator.New(g, func(o *orchestrator.Options) {
		o.Logger = s.logger
		o.Gate = s.gate
		o.Sensitive = s.catalog.IsSensitive
		o.MaxModelCalls = s.maxModelCalls
		o.Parallelism = s.parallelism
		o.OnTransition = func(_, to orchestrator.State) {
			if _, failed := to.(orchestrator.Failed); failed || orchestrator.Terminal(to) {
				if _, already := final.(orchestrator.Failed); !already {
					final = to
				}
			}
		}
	})

	proc := stream.NewProcessor(req.SessionID, s.pub, s.store, func(o *stream.Options) {
		o.Logger = s.logger
		o.InitialIndex = len(req.Messages)
		o.Hidden = func(name string) bool { return s.catalog.IsSensitive(name) || g.IsHandoff(name) }
	})

	events := orch.Run(runCtx, orchestrator.RunInput{
		SessionID: req.SessionID,
		CanvasID:  req.CanvasID,
		RunID:     runID,
		Messages:  req.Messages,
	})
	if err := proc.Process(runCtx, events); err != nil {
		s.logger.Error("generation.chat.persist_failed", "session_id", req.SessionID, "run_id", runID, "error", err.Error())
	}
	return nil
}

// State is re-exported so callers observing runs need not import the
// orchestrator.
type State = orchestrator.State

func status(s State) string {
	switch s.(type) {
	case orchestrator.Cancelled:
		return "cancelled"
	case orchestrator.Failed:
		return "failed"
	default:
		return "done"
	}
}

func validate(sessionID string, messages []core.Message) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	if len(messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}
	return nil
}

func (s *Service) compile(req ChatRequest) (*graph.Graph, error) {
	m, err := s.models.Resolve(req.TextModel.Provider, req.TextModel.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve model %s/%s: %w", ErrConfiguration, req.TextModel.Provider, req.TextModel.Model, err)
	}
	defs, err := s.registry.Select(agent.SelectOptions{
		SystemPrompt: req.SystemPrompt,
		RequestTools: req.Tools,
		Agents:       req.Agents,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	g, err := graph.Build(defs, m, s.catalog)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return g, nil
}

// bootstrap creates the session on the first message and persists the new
// user message. Failures are logged; the run still proceeds.
func (s *Service) bootstrap(ctx context.Context, sessionID, canvasID string, messages []core.Message, tm TextModel) {
	ctx = context.WithoutCancel(ctx)
	if len(messages) == 1 {
		cs := session.ChatSession{
			ID:       sessionID,
			CanvasID: canvasID,
			Title:    session.Title(messages[0].Text()),
			Model:    tm.Model,
			Provider: tm.Provider,
		}
		if err := s.store.CreateSession(ctx, cs); err != nil {
			s.logger.Error("generation.session.create_failed", "session_id", sessionID, "error", err.Error())
		}
	}
	if err := s.store.AppendMessage(ctx, sessionID, messages[len(messages)-1]); err != nil {
		s.logger.Error("generation.message.persist_failed", "session_id", sessionID, "error", err.Error())
	}
}

// finish releases the run's context, deregisters the task and publishes
// done on a context that survives cancellation.
func (s *Service) finish(ctx context.Context, sessionID string, cancel context.CancelFunc) {
	cancel()
	s.tasks.Deregister(sessionID)
	if err := s.pub.Publish(context.WithoutCancel(ctx), sessionID, stream.Done()); err != nil {
		s.logger.Warn("generation.done.publish_failed", "session_id", sessionID, "error", err.Error())
	}
}
