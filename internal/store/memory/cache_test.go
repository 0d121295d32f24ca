package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheGetSetRoundTrip(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Minute))
	v, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
}

func TestCacheEntryExpires(t *testing.T) {
	c := NewCache()
	fixed := time.Now()
	c.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), time.Second))
	c.now = func() time.Time { return fixed.Add(2 * time.Second) }

	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheDeletePrefix(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "az:t1:doc1", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "az:t1:doc2", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "az:t2:doc1", []byte("1"), time.Minute))

	n, err := c.DeletePrefix(ctx, "az:t1:")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, ok, _ := c.Get(ctx, "az:t2:doc1")
	require.True(t, ok)
}

func TestCacheIncrCreatesAndIncrements(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	v, err := c.Incr(ctx, "rl:ip1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = c.Incr(ctx, "rl:ip1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), v)
}
