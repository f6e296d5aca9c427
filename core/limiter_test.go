package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelLimiter(t *testing.T) {
	l := NewModelLimiter(2)
	require.NoError(t, l.Increment())
	require.NoError(t, l.Increment())

	err := l.Increment()
	assert.ErrorIs(t, err, ErrModelCallLimit)
	assert.Equal(t, 2, l.Count())
}

func TestModelLimiterUnlimited(t *testing.T) {
	l := NewModelLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Increment())
	}
	assert.Equal(t, 100, l.Count())
}
