package proxy_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/proxy"
)

func rules(paths ...string) []proxy.RouteRule {
	out := make([]proxy.RouteRule, len(paths))
	for i, p := range paths {
		out[i] = proxy.RouteRule{Match: proxy.MatchRule{Path: p}}
	}
	return out
}

func TestMatchRouteExact(t *testing.T) {
	_, _, ok := proxy.MatchRoute(rules("/health"), "/health", "GET")
	require.True(t, ok)

	_, _, ok = proxy.MatchRoute(rules("/health"), "/healths", "GET")
	require.False(t, ok)
}

func TestMatchRouteParam(t *testing.T) {
	_, params, ok := proxy.MatchRoute(rules("/api/projects/:id"), "/api/projects/123", "GET")
	require.True(t, ok)
	require.Equal(t, "123", params["id"])
}

func TestMatchRouteDoubleWildcard(t *testing.T) {
	r := rules("/dashboard/**")
	for _, path := range []string{"/dashboard", "/dashboard/settings", "/dashboard/a/b/c"} {
		_, _, ok := proxy.MatchRoute(r, path, "GET")
		require.True(t, ok, path)
	}
	_, _, ok := proxy.MatchRoute(rules("/other/**"), "/dashboard", "GET")
	require.False(t, ok)
}

func TestMatchRouteSingleWildcard(t *testing.T) {
	r := rules("/api/*/list")
	_, _, ok := proxy.MatchRoute(r, "/api/users/list", "GET")
	require.True(t, ok)
	_, _, ok = proxy.MatchRoute(r, "/api/users/detail", "GET")
	require.False(t, ok)
}

func TestMatchRouteFirstMatchWins(t *testing.T) {
	specific := proxy.RouteRule{Match: proxy.MatchRule{Path: "/api/public"}, Target: proxy.TargetCoreAuth}
	wildcard := proxy.RouteRule{Match: proxy.MatchRule{Path: "/api/**"}, Target: proxy.TargetUpstream}

	rule, _, ok := proxy.MatchRoute([]proxy.RouteRule{specific, wildcard}, "/api/public", "GET")
	require.True(t, ok)
	require.Equal(t, proxy.TargetCoreAuth, rule.Target)
}

func TestMatchRouteMethodFilter(t *testing.T) {
	r := []proxy.RouteRule{{Match: proxy.MatchRule{Path: "/api/widgets", Methods: []string{"post"}}}}
	_, _, ok := proxy.MatchRoute(r, "/api/widgets", "POST")
	require.True(t, ok)
	_, _, ok = proxy.MatchRoute(r, "/api/widgets", "GET")
	require.False(t, ok)
}

func TestExtractObjectID(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/projects/42?team=eng", nil)
	req.Header.Set("X-Object-Id", "hdr-7")

	v, ok := proxy.ExtractObjectID("path:id", map[string]string{"id": "42"}, req)
	require.True(t, ok)
	require.Equal(t, "42", v)

	v, ok = proxy.ExtractObjectID("query:team", nil, req)
	require.True(t, ok)
	require.Equal(t, "eng", v)

	v, ok = proxy.ExtractObjectID("header:X-Object-Id", nil, req)
	require.True(t, ok)
	require.Equal(t, "hdr-7", v)

	_, ok = proxy.ExtractObjectID("query:missing", nil, req)
	require.False(t, ok)
}
