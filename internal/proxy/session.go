package proxy

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coreauth/coreauth/internal/primitives"
)

// SessionData is what the proxy keeps server-side for one authenticated
// browser, keyed by an opaque session id. Only the id — never this
// payload — is encrypted into the cookie; see cookie.go.
type SessionData struct {
	UserID          string
	Email           string
	TenantID        string
	TenantSlug      string
	Role            string
	IsPlatformAdmin bool
	AccessToken     string
	RefreshToken    string
	IDToken         string
	ExpiresAt       time.Time
}

// refreshSkew is how far ahead of expiry the proxy treats a session's
// access token as due for renewal, per spec.md §4.3.3.
const refreshSkew = 60 * time.Second

// Expired reports whether s's access token is expired or within
// refreshSkew of expiring.
func (s SessionData) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now.Add(refreshSkew))
}

// SessionStore is a concurrent map of session id to SessionData, swept
// periodically by Sweep. A single map+mutex mirrors the teacher's
// cookieStore simplicity; PS has no need for the cross-process sharing
// store.Cache gives AZ's check cache and the rate limiter, since proxy
// instances are deployed one-per-upstream rather than horizontally
// fronting a shared backend the way AS's token state must be.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionData
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]SessionData)}
}

func (s *SessionStore) Create(data SessionData) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = data
	s.mu.Unlock()
	return id
}

func (s *SessionStore) Get(id string) (SessionData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.sessions[id]
	return data, ok
}

func (s *SessionStore) Update(id string, data SessionData) {
	s.mu.Lock()
	s.sessions[id] = data
	s.mu.Unlock()
}

func (s *SessionStore) Destroy(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Sweep removes every session whose access token expired before now,
// acquiring a single write lease for the whole pass.
func (s *SessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, data := range s.sessions {
		if data.ExpiresAt.Before(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunSweeper blocks, sweeping expired sessions every interval, until ctx
// is canceled. Call it in its own goroutine.
func (s *SessionStore) RunSweeper(ctx context.Context, clock primitives.Clock, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(clock.Now())
		}
	}
}

// sessionCipherKey derives the AES-256-GCM key from the configured
// secret via SHA-256, the same derivation the original prototype uses so
// a deployment's secret need not itself be 32 raw bytes.
func sessionCipherKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}
