package proxy_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/az"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/proxy"
	"github.com/coreauth/coreauth/internal/store"
	"github.com/coreauth/coreauth/internal/store/memory"
)

func newTestHandler(t *testing.T, routes []proxy.RouteRule, upstream *httptest.Server) (*proxy.Handler, *proxy.SessionStore, *proxy.CookieCodec, *az.Engine) {
	t.Helper()
	cookies := proxy.NewCookieCodec(testSessionConfig())
	sessions := proxy.NewSessionStore()
	clock := primitives.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := az.New(memory.NewTupleStore(), memory.NewCache(), clock, logger)

	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	h := proxy.NewHandler(
		routes,
		cookies,
		sessions,
		nil, // no bearer validator needed for cookie-authenticated tests
		nil, // no refresher needed when sessions never expire mid-test
		proxy.NewEngineChecker(engine, "store1"),
		nil, // no rate limiter
		proxy.NewReverseProxy(upstreamURL),
		proxy.NewReverseProxy(upstreamURL),
		clock,
		logger,
	)
	return h, sessions, cookies, engine
}

func authedRequest(t *testing.T, sessions *proxy.SessionStore, cookies *proxy.CookieCodec, method, path string, session proxy.SessionData) *http.Request {
	t.Helper()
	id := sessions.Create(session)
	rec := httptest.NewRecorder()
	require.NoError(t, cookies.Set(rec, id))

	req := httptest.NewRequest(method, path, nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestHeaderHygieneStripsSpoofedIdentity(t *testing.T) {
	var gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Coreauth-Is-Platform-Admin")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	routes := []proxy.RouteRule{{Match: proxy.MatchRule{Path: "/**"}, Auth: proxy.AuthNone, Target: proxy.TargetUpstream}}
	h, _, _, _ := newTestHandler(t, routes, upstream)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set("X-Coreauth-Is-Platform-Admin", "true")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, gotHeader, "spoofed identity header must not reach upstream on an anonymous request")
}

func TestFGARouteRequiresTuple(t *testing.T) {
	var gotUserID string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = r.Header.Get("X-Coreauth-User-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	routes := []proxy.RouteRule{{
		Match:  proxy.MatchRule{Path: "/api/projects/:id"},
		Auth:   proxy.AuthRequired,
		Target: proxy.TargetUpstream,
		FGA:    &proxy.FGARule{Relation: "viewer", ObjectType: "project", ObjectID: "path:id"},
	}}
	h, sessions, cookies, engine := newTestHandler(t, routes, upstream)

	session := proxy.SessionData{UserID: "alice", Email: "alice@example.com", ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}

	req := authedRequest(t, sessions, cookies, http.MethodGet, "/api/projects/42", session)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, engine.WriteTuple(context.Background(), store.Tuple{
		TenantID: "store1", Namespace: "project", ObjectID: "42", Relation: "viewer",
		SubjectType: store.SubjectUser, SubjectID: "alice",
	}))

	req2 := authedRequest(t, sessions, cookies, http.MethodGet, "/api/projects/42", session)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, "alice", gotUserID)
}

func TestUnauthenticatedRedirectsToLogin(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	routes := []proxy.RouteRule{{
		Match:             proxy.MatchRule{Path: "/dashboard/**"},
		Auth:              proxy.AuthRequired,
		OnUnauthenticated: proxy.RedirectLogin,
		Target:            proxy.TargetUpstream,
	}}
	h, _, _, _ := newTestHandler(t, routes, upstream)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/settings", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "/auth/login")
}

func TestUnauthenticatedStatus401(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	routes := []proxy.RouteRule{{
		Match:             proxy.MatchRule{Path: "/api/**"},
		Auth:              proxy.AuthRequired,
		OnUnauthenticated: proxy.Status401,
		Target:            proxy.TargetUpstream,
	}}
	h, _, _, _ := newTestHandler(t, routes, upstream)

	req := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
