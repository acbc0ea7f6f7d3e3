package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabled(t *testing.T) {
	l := New(0, 10)
	require.Nil(t, l)

	// A nil limiter never throttles
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	assert.NoError(t, l.Wait(context.Background()))
}

func TestBurst(t *testing.T) {
	l := New(1, 3)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "bucket should be empty after burst")
}

func TestDefaultBurst(t *testing.T) {
	l := New(0.5, 0)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestWaitCancelled(t *testing.T) {
	l := New(0.001, 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx))
}

func TestWaitRefills(t *testing.T) {
	l := New(200, 1)
	require.True(t, l.Allow())

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestGroup(t *testing.T) {
	assert.Nil(t, NewGroup(0, 0).For("a"))

	g := NewGroup(1, 1)
	a := g.For("endpoint-a")
	assert.Same(t, a, g.For("endpoint-a"))
	assert.NotSame(t, a, g.For("endpoint-b"))

	// Budgets are independent per key
	assert.True(t, g.For("endpoint-a").Allow())
	assert.False(t, g.For("endpoint-a").Allow())
	assert.True(t, g.For("endpoint-b").Allow())
}
