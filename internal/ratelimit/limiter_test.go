package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/ratelimit"
	"github.com/coreauth/coreauth/internal/store/memory"
)

func TestAllowPermitsUpToLimitThenBlocks(t *testing.T) {
	cache := memory.NewCache()
	lim := ratelimit.New(cache, "login", 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := lim.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be allowed", i)
	}

	allowed, remaining, err := lim.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)
}

func TestAllowIsScopedPerKey(t *testing.T) {
	cache := memory.NewCache()
	lim := ratelimit.New(cache, "login", 1, time.Minute)
	ctx := context.Background()

	allowed, _, err := lim.Allow(ctx, "1.1.1.1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = lim.Allow(ctx, "2.2.2.2")
	require.NoError(t, err)
	require.True(t, allowed, "a different key must have its own window")
}

func TestAllowIsNamespacedByPrefix(t *testing.T) {
	cache := memory.NewCache()
	loginLimiter := ratelimit.New(cache, "login", 1, time.Minute)
	resetLimiter := ratelimit.New(cache, "reset", 1, time.Minute)
	ctx := context.Background()

	allowed, _, err := loginLimiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = resetLimiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, allowed, "a different limiter prefix must not share the counter")
}
