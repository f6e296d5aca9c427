// Package server exposes the generation service over HTTP: chat and magic
// runs, cancellation, tool confirmation decisions, chat history and a
// Server-Sent Events feed of each session's frames.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/next-unicorn-dev/canvas/generation"
	"github.com/next-unicorn-dev/canvas/internal/metrics"
	"github.com/next-unicorn-dev/canvas/logging"
	"github.com/next-unicorn-dev/canvas/stream"
	"github.com/next-unicorn-dev/canvas/tool"
)

// Subscriber streams the frames of one session until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan stream.Frame, error)
}

// Options configure a Server.
type Options struct {
	Logger logging.Logger
	// Subscriber backs the events endpoint. Nil disables it.
	Subscriber Subscriber
	// RunsPerSecond and RunBurst limit chat and magic starts per session.
	// A non-positive rate disables limiting.
	RunsPerSecond float64
	RunBurst      int
	// KeepAlive is the interval of SSE comment pings.
	KeepAlive time.Duration
}

// Server is the HTTP front of a generation.Service.
type Server struct {
	svc     *generation.Service
	catalog *tool.Catalog
	sub     Subscriber
	limiter *RateLimiter
	logger  logging.Logger

	keepAlive time.Duration
}

// New creates a Server.
func New(svc *generation.Service, catalog *tool.Catalog, optFns ...func(o *Options)) *Server {
	opts := Options{
		RunsPerSecond: 1,
		RunBurst:      5,
		KeepAlive:     15 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	return &Server{
		svc:       svc,
		catalog:   catalog,
		sub:       opts.Subscriber,
		limiter:   NewRateLimiter(opts.RunsPerSecond, opts.RunBurst),
		logger:    logging.OrNoOp(opts.Logger),
		keepAlive: opts.KeepAlive,
	}
}

// Handler returns the routed handler wrapped with request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/cancel/{session_id}", s.handleCancel)
	mux.HandleFunc("POST /api/magic", s.handleMagic)
	mux.HandleFunc("POST /api/magic/cancel/{session_id}", s.handleCancel)
	mux.HandleFunc("POST /api/tool_confirmation", s.handleToolConfirmation)
	mux.HandleFunc("GET /api/chat_session/{session_id}", s.handleChatSession)
	mux.HandleFunc("GET /api/canvas/{canvas_id}/sessions", s.handleCanvasSessions)
	mux.HandleFunc("GET /api/list_tools", s.handleListTools)
	mux.HandleFunc("GET /api/sessions/{session_id}/events", s.handleEvents)

	return metrics.Middleware(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("server.listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Detail: msg})
}
