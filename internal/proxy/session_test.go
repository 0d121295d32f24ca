package proxy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/proxy"
)

func TestSessionStoreCreateGetDestroy(t *testing.T) {
	store := proxy.NewSessionStore()
	id := store.Create(proxy.SessionData{UserID: "u1", Email: "u1@example.com"})

	data, ok := store.Get(id)
	require.True(t, ok)
	require.Equal(t, "u1", data.UserID)

	store.Destroy(id)
	_, ok = store.Get(id)
	require.False(t, ok)
}

func TestSessionStoreSweepRemovesExpired(t *testing.T) {
	store := proxy.NewSessionStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	expiredID := store.Create(proxy.SessionData{UserID: "old", ExpiresAt: now.Add(-time.Hour)})
	liveID := store.Create(proxy.SessionData{UserID: "new", ExpiresAt: now.Add(time.Hour)})

	removed := store.Sweep(now)
	require.Equal(t, 1, removed)

	_, ok := store.Get(expiredID)
	require.False(t, ok)
	_, ok = store.Get(liveID)
	require.True(t, ok)
}

func TestSessionDataExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, proxy.SessionData{ExpiresAt: now.Add(30 * time.Second)}.Expired(now))
	require.False(t, proxy.SessionData{ExpiresAt: now.Add(5 * time.Minute)}.Expired(now))
}
