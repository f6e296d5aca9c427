// Package canvas assembles the multi-agent chat backend of the canvas: an
// agent registry and tool catalog, the generation service running chat and
// magic turns, the live frame transport and the HTTP server in front of it.
//
// Most applications create a Canvas via New, optionally overriding the
// default in-memory store, catalog or registry, and either serve it over
// HTTP (ListenAndServe) or drive it directly (Chat, Magic, Subscribe).
package canvas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/next-unicorn-dev/canvas/agent"
	"github.com/next-unicorn-dev/canvas/generation"
	"github.com/next-unicorn-dev/canvas/graph"
	"github.com/next-unicorn-dev/canvas/logging"
	"github.com/next-unicorn-dev/canvas/server"
	"github.com/next-unicorn-dev/canvas/session"
	"github.com/next-unicorn-dev/canvas/stream"
	"github.com/next-unicorn-dev/canvas/task"
	"github.com/next-unicorn-dev/canvas/tool"
	"github.com/next-unicorn-dev/canvas/transport"
)

// Options configures a Canvas.
type Options struct {
	// Models resolves the text model of each chat request. Required.
	Models generation.ModelResolver

	// Registry defaults to the built-in agents.
	Registry *agent.Registry
	// Catalog defaults to a catalog holding write_plan only.
	Catalog *tool.Catalog
	// Store defaults to an in-memory store.
	Store session.Store
	// Transport defaults to an in-process watermill transport.
	Transport *transport.Watermill

	Logger logging.Logger

	MaxModelCalls int
	Parallelism   int

	// RunsPerSecond and RunBurst limit run starts per session over HTTP.
	RunsPerSecond float64
	RunBurst      int
}

// Canvas is the assembled backend.
type Canvas struct {
	opts    Options
	service *generation.Service
	server  *server.Server
}

// New assembles a Canvas. Unset dependencies get in-memory defaults.
func New(optFns ...func(o *Options)) (*Canvas, error) {
	opts := Options{
		MaxModelCalls: 25,
		Parallelism:   4,
		RunsPerSecond: 1,
		RunBurst:      5,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	if opts.Registry == nil {
		opts.Registry = agent.DefaultRegistry()
	}
	if opts.Catalog == nil {
		catalog, err := tool.NewCatalog(tool.Entry{Tool: tool.NewWritePlanTool()})
		if err != nil {
			return nil, err
		}
		opts.Catalog = catalog
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Transport == nil {
		opts.Transport = transport.NewWatermill(func(o *transport.Options) { o.Logger = opts.Logger })
	}

	svc, err := generation.New(func(o *generation.Options) {
		o.Registry = opts.Registry
		o.Catalog = opts.Catalog
		o.Models = opts.Models
		o.Store = opts.Store
		o.Publisher = opts.Transport
		o.Tasks = task.NewRegistry()
		o.Logger = opts.Logger
		o.MaxModelCalls = opts.MaxModelCalls
		o.Parallelism = opts.Parallelism
	})
	if err != nil {
		return nil, err
	}

	srv := server.New(svc, opts.Catalog, func(o *server.Options) {
		o.Logger = opts.Logger
		o.Subscriber = opts.Transport
		o.RunsPerSecond = opts.RunsPerSecond
		o.RunBurst = opts.RunBurst
	})

	return &Canvas{opts: opts, service: svc, server: srv}, nil
}

// Check compiles the default agent selection against the catalog, surfacing
// configuration errors (unknown tools, dangling hand-offs) before serving.
func (c *Canvas) Check() error {
	m, err := c.opts.Models.Resolve("", "")
	if err != nil {
		return fmt.Errorf("%w: %w", generation.ErrConfiguration, err)
	}
	defs, err := c.opts.Registry.Select(agent.SelectOptions{})
	if err != nil {
		return fmt.Errorf("%w: %w", generation.ErrConfiguration, err)
	}
	if _, err := graph.Build(defs, m, c.opts.Catalog); err != nil {
		return fmt.Errorf("%w: %w", generation.ErrConfiguration, err)
	}
	return nil
}

// Service returns the generation service.
func (c *Canvas) Service() *generation.Service { return c.service }

// Handler returns the HTTP handler.
func (c *Canvas) Handler() http.Handler { return c.server.Handler() }

// ListenAndServe serves HTTP on addr until ctx is cancelled.
func (c *Canvas) ListenAndServe(ctx context.Context, addr string) error {
	return c.server.ListenAndServe(ctx, addr)
}

// Chat runs one chat turn; see generation.Service.Chat.
func (c *Canvas) Chat(ctx context.Context, req generation.ChatRequest) error {
	return c.service.Chat(ctx, req)
}

// Magic runs one magic turn; see generation.Service.Magic.
func (c *Canvas) Magic(ctx context.Context, req generation.MagicRequest) error {
	return c.service.Magic(ctx, req)
}

// Cancel cancels the session's live run.
func (c *Canvas) Cancel(sessionID string) task.Status { return c.service.Cancel(sessionID) }

// Subscribe streams the session's frames until ctx is done.
func (c *Canvas) Subscribe(ctx context.Context, sessionID string) (<-chan stream.Frame, error) {
	return c.opts.Transport.Subscribe(ctx, sessionID)
}

// Close shuts down the transport and closes the store when it holds
// resources.
func (c *Canvas) Close() error {
	var errs []error
	if err := c.opts.Transport.Close(); err != nil {
		errs = append(errs, err)
	}
	if closer, ok := c.opts.Store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
