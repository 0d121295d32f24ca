package store

import (
	"context"
	"time"
)

// Cache is the short-lived key-value capability shared by the AZ check
// cache and the PS rate limiter: TTL-bounded values with prefix-pattern
// invalidation, so a tuple write can drop every cached check result that
// might be affected without enumerating exact keys.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a single key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix, returning the
	// count removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Incr increments the integer stored at key by 1, creating it with ttl
	// if absent, and returns the new value. Used by the rate limiter for
	// fixed-window counters.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
