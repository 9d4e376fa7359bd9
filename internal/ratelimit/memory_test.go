package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBudgetAndRefill(t *testing.T) {
	start := time.Now()
	now := start
	l := NewMemoryLimiter(Rule{Window: 10 * time.Second, MaxCount: 2}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	// 2 of 5 simultaneous actions fit the (10s, 2) budget.
	var allowed int
	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "realm:acme")
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)

	// Still over budget just inside the window.
	now = start.Add(4 * time.Second)
	ok, err := l.Allow(ctx, "realm:acme")
	require.NoError(t, err)
	assert.False(t, ok)

	// After the window passes, actions are accepted again.
	now = start.Add(11 * time.Second)
	ok, err = l.Allow(ctx, "realm:acme")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(Rule{Window: 10 * time.Second, MaxCount: 1})
	ctx := context.Background()

	ok, err := l.Allow(ctx, "realm:a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "realm:a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "realm:b")
	require.NoError(t, err)
	assert.True(t, ok, "one tenant's burst must not throttle another")
}

func TestMemoryLimiterReset(t *testing.T) {
	l := NewMemoryLimiter(Rule{Window: time.Minute, MaxCount: 1})
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "realm:a")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "realm:a")
	require.False(t, ok)

	require.NoError(t, l.Reset(ctx, "realm:a"))
	ok, _ = l.Allow(ctx, "realm:a")
	assert.True(t, ok)
}

func TestRuleString(t *testing.T) {
	assert.Equal(t, "2 per 10s", Rule{Window: 10 * time.Second, MaxCount: 2}.String())
}
