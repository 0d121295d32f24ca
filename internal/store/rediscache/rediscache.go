// Package rediscache implements store.Cache against Redis via go-redis/v9,
// the TTL key-value backing the spec calls for the AZ check cache and the
// proxy's per-IP rate limiter.
package rediscache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/store"
)

var _ store.Cache = (*Cache)(nil)

// Cache wraps a redis.Client.
type Cache struct {
	rdb *redis.Client
}

// Open parses addr (a redis:// URL) and returns a connected Cache.
func Open(addr string) (*Cache, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindCache, "parse redis url")
	}
	return &Cache{rdb: redis.NewClient(opts)}, nil
}

func (c *Cache) Close() error { return c.rdb.Close() }

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Wrap(err, apperr.KindCache, "get %s", key)
	}
	return v, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperr.Wrap(err, apperr.KindCache, "set %s", key)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return apperr.Wrap(err, apperr.KindCache, "delete %s", key)
	}
	return nil
}

// DeletePrefix scans for prefix* with SCAN (not KEYS, so it doesn't block
// the server on a large keyspace) and deletes every match in batches.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var cursor uint64
	var removed int
	pattern := prefix + "*"
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return removed, apperr.Wrap(err, apperr.KindCache, "scan %s", pattern)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, apperr.Wrap(err, apperr.KindCache, "delete scanned keys")
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// Incr implements a fixed-window counter: the TTL is set only on the
// increment that creates the key, so repeated calls within the window don't
// keep pushing the expiry back.
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindCache, "incr %s", key)
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, apperr.Wrap(err, apperr.KindCache, "expire %s", key)
		}
	}
	return n, nil
}
