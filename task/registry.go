// Package task tracks the in-flight generation run of each session so it
// can be cancelled from outside.
package task

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyRunning is returned by Register when the session already has a
// live run.
var ErrAlreadyRunning = errors.New("task: session already has a running task")

// Status is the outcome of a cancel request.
type Status string

const (
	// StatusCancelled means cancellation was requested for a live run.
	StatusCancelled Status = "cancelled"
	// StatusNotFoundOrDone means there was nothing to cancel.
	StatusNotFoundOrDone Status = "not_found_or_done"
)

type handle struct {
	cancel    context.CancelFunc
	cancelled bool
}

// Registry maps session ids to the cancel function of their running task.
// The zero value is not usable; use NewRegistry.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*handle)}
}

// Register records cancel as the session's running task.
func (r *Registry) Register(sessionID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[sessionID]; exists {
		return ErrAlreadyRunning
	}
	r.tasks[sessionID] = &handle{cancel: cancel}
	return nil
}

// Cancel requests cooperative cancellation. Only the first request for a
// live run reports StatusCancelled.
func (r *Registry) Cancel(sessionID string) Status {
	r.mu.Lock()
	h, ok := r.tasks[sessionID]
	if !ok || h.cancelled {
		r.mu.Unlock()
		return StatusNotFoundOrDone
	}
	h.cancelled = true
	cancel := h.cancel
	r.mu.Unlock()

	cancel()
	return StatusCancelled
}

// Deregister removes the session's task. It is safe to call more than once.
func (r *Registry) Deregister(sessionID string) {
	r.mu.Lock()
	delete(r.tasks, sessionID)
	r.mu.Unlock()
}

// Active reports whether the session has a registered task.
func (r *Registry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[sessionID]
	return ok
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
