package proxy_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/proxy"
)

func testSessionConfig() proxy.SessionConfig {
	return proxy.SessionConfig{Secret: "a-very-secret-value", CookieName: "coreauth_session", MaxAgeSeconds: 3600}
}

func TestCookieRoundTrip(t *testing.T) {
	codec := proxy.NewCookieCodec(testSessionConfig())

	rec := httptest.NewRecorder()
	require.NoError(t, codec.Set(rec, "session-123"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	id, ok := codec.SessionID(req)
	require.True(t, ok)
	require.Equal(t, "session-123", id)
}

// TestCookieIntegrity covers spec.md §8's "Cookie integrity" property:
// any single-bit perturbation of a session cookie yields decryption
// failure and an unauthenticated request.
func TestCookieIntegrity(t *testing.T) {
	codec := proxy.NewCookieCodec(testSessionConfig())

	rec := httptest.NewRecorder()
	require.NoError(t, codec.Set(rec, "session-123"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	tampered := []byte(cookies[0].Value)
	tampered[len(tampered)/2] ^= 0x01

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: cookies[0].Name, Value: string(tampered)})

	_, ok := codec.SessionID(req)
	require.False(t, ok)
}

func TestCookieMissing(t *testing.T) {
	codec := proxy.NewCookieCodec(testSessionConfig())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := codec.SessionID(req)
	require.False(t, ok)
}
