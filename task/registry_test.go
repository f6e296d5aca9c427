package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelLiveRunOnce(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.Register("s1", cancel))
	assert.True(t, r.Active("s1"))

	assert.Equal(t, StatusCancelled, r.Cancel("s1"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// repeat while the run is still unwinding
	assert.Equal(t, StatusNotFoundOrDone, r.Cancel("s1"))

	r.Deregister("s1")
	assert.False(t, r.Active("s1"))
	assert.Equal(t, StatusNotFoundOrDone, r.Cancel("s1"))
}

func TestCancelUnknownSession(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, StatusNotFoundOrDone, r.Cancel("missing"))
}

func TestRegisterRejectsLiveSession(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("s1", func() {}))
	require.ErrorIs(t, r.Register("s1", func() {}), ErrAlreadyRunning)

	r.Deregister("s1")
	r.Deregister("s1")
	require.NoError(t, r.Register("s1", func() {}))
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var cancelled atomic.Int32

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%10)
			if r.Register(id, func() { cancelled.Add(1) }) == nil {
				r.Cancel(id)
				r.Deregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.Positive(t, cancelled.Load())
}
