package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrModelCallLimit is returned once a run has used up its model calls.
var ErrModelCallLimit = errors.New("exceeded max model calls")

// ModelLimiter bounds the model calls of one run. Hand-offs share the
// budget, so two agents handing back and forth cannot loop forever.
type ModelLimiter struct {
	mu    sync.Mutex
	max   int
	calls int
}

// NewModelLimiter creates a limiter allowing max calls; 0 means unlimited.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: max}
}

// Increment accounts for one model call.
func (ml *ModelLimiter) Increment() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.max > 0 && ml.calls >= ml.max {
		return fmt.Errorf("%w: %d", ErrModelCallLimit, ml.max)
	}
	ml.calls++
	return nil
}

// Count returns the calls made so far.
func (ml *ModelLimiter) Count() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.calls
}
