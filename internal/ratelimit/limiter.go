// Package ratelimit implements the per-IP fixed-window limiter spec.md §5
// describes, shared by the authorization server (login/token endpoints)
// and the identity-aware proxy (login/callback endpoints).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/coreauth/coreauth/internal/store"
)

// Limiter enforces a fixed-window request quota per key (typically a
// client IP, optionally combined with a route name), backed by
// store.Cache.Incr. Cache errors fail open: a rate limiter that can't
// reach its backing store must not become an outage, so Allow reports
// allowed=true and logs nothing itself, leaving the caller to decide
// whether to log the degraded state.
type Limiter struct {
	cache  store.Cache
	prefix string
	limit  int64
	window time.Duration
}

// New builds a Limiter permitting at most limit requests per window for
// any given key, namespaced under prefix (so AS and PS limiters sharing
// one cache backend don't collide).
func New(cache store.Cache, prefix string, limit int64, window time.Duration) *Limiter {
	return &Limiter{cache: cache, prefix: prefix, limit: limit, window: window}
}

// Allow increments key's counter in the current window and reports
// whether the request is within the configured limit. On a cache error
// it fails open (allowed=true, err returned for the caller to log).
func (l *Limiter) Allow(ctx context.Context, key string) (allowed bool, remaining int64, err error) {
	count, err := l.cache.Incr(ctx, l.cacheKey(key), l.window)
	if err != nil {
		return true, l.limit, fmt.Errorf("ratelimit: increment %s: %w", key, err)
	}
	if count > l.limit {
		return false, 0, nil
	}
	return true, l.limit - count, nil
}

func (l *Limiter) cacheKey(key string) string {
	return l.prefix + ":" + key
}
