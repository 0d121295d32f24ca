package as_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/as"
	"github.com/coreauth/coreauth/internal/connector"
	"github.com/coreauth/coreauth/internal/connector/mock"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
	"github.com/coreauth/coreauth/internal/store/memory"
)

func newRateLimitedTestServer(t *testing.T) (*as.Server, store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(logger)
	clock := primitives.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := as.DefaultConfig("https://auth.test")
	srv, err := as.NewServer(cfg, st, clock, logger, nil, nil, nil, memory.NewCache())
	require.NoError(t, err)
	return srv, st
}

func newTestServer(t *testing.T) (*as.Server, store.Store, primitives.Clock) {
	t.Helper()
	return newTestServerWithConnectors(t, nil)
}

func newTestServerWithConnectors(t *testing.T, connectors map[string]connector.Connector) (*as.Server, store.Store, primitives.Clock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(logger)
	clock := primitives.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := as.DefaultConfig("https://auth.test")
	srv, err := as.NewServer(cfg, st, clock, logger, nil, nil, connectors, nil)
	require.NoError(t, err)
	return srv, st, clock
}

func mustCreateApp(t *testing.T, ctx context.Context, st store.Store, public bool) store.Application {
	t.Helper()
	app := store.Application{
		ID:                "app1",
		ClientID:          "app_test",
		Type:              store.AppSPA,
		RedirectURIs:      []string{"https://app.test/cb"},
		PostLogoutURIs:    []string{"https://app.test/logout"},
		AllowedGrantTypes: []string{"authorization_code", "refresh_token", "client_credentials"},
		AllowedScopes:     []string{"openid", "profile", "offline_access"},
		Enabled:           true,
	}
	if !public {
		app.ClientSecretHash = primitives.HashToken("s3cr3t")
		app.Type = store.AppWebApp
	}
	require.NoError(t, st.CreateApplication(ctx, app))
	return app
}

func mustCreateIdentity(t *testing.T, ctx context.Context, st store.Store) store.Identity {
	t.Helper()
	hash, err := primitives.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	u := store.Identity{
		ID:            "user1",
		Email:         "alice@example.com",
		EmailVerified: true,
		PasswordHash:  hash,
		Active:        true,
	}
	require.NoError(t, st.CreateIdentity(ctx, u))
	return u
}

func pkcePair() (verifier, challenge string) {
	verifier = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

// TestAuthorizationCodePKCEHappyPath is spec.md §8 scenario 1: a full
// authorize -> login -> token exchange with PKCE succeeds and returns the
// access/id/refresh token triple.
func TestAuthorizationCodePKCEHappyPath(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()
	mustCreateApp(t, ctx, st, true)
	mustCreateIdentity(t, ctx, st)
	verifier, challenge := pkcePair()

	authorizeURL := "/authorize?" + url.Values{
		"response_type":         {"code"},
		"client_id":             {"app_test"},
		"redirect_uri":          {"https://app.test/cb"},
		"scope":                 {"openid profile offline_access"},
		"state":                 {"xyz"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}.Encode()

	req := httptest.NewRequest(http.MethodGet, authorizeURL, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	loginLocation := rec.Header().Get("Location")
	require.Contains(t, loginLocation, "/oauth/login?request_id=")

	loginURL, err := url.Parse(loginLocation)
	require.NoError(t, err)
	requestID := loginURL.Query().Get("request_id")

	form := url.Values{
		"request_id": {requestID},
		"email":      {"alice@example.com"},
		"password":   {"correct horse battery staple"},
	}
	loginReq := httptest.NewRequest(http.MethodPost, "/oauth/login", strings.NewReader(form.Encode()))
	loginReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	loginRec := httptest.NewRecorder()
	srv.ServeHTTP(loginRec, loginReq)
	require.Equal(t, http.StatusSeeOther, loginRec.Code)

	cbURL, err := url.Parse(loginRec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "xyz", cbURL.Query().Get("state"))
	code := cbURL.Query().Get("code")
	require.NotEmpty(t, code)

	tokenForm := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app.test/cb"},
		"code_verifier": {verifier},
		"client_id":     {"app_test"},
	}
	tokenReq := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(tokenForm.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokenRec := httptest.NewRecorder()
	srv.ServeHTTP(tokenRec, tokenReq)
	require.Equal(t, http.StatusOK, tokenRec.Code, tokenRec.Body.String())
	require.Contains(t, tokenRec.Body.String(), `"access_token"`)
	require.Contains(t, tokenRec.Body.String(), `"id_token"`)
	require.Contains(t, tokenRec.Body.String(), `"refresh_token"`)
}

// TestAuthorizationCodeReplayRejected is spec.md §8 scenario 2: redeeming
// the same authorization code twice fails the second time.
func TestAuthorizationCodeReplayRejected(t *testing.T) {
	srv, st, clock := newTestServer(t)
	ctx := context.Background()
	mustCreateApp(t, ctx, st, true)
	mustCreateIdentity(t, ctx, st)

	code, err := as.IssueAuthCode(ctx, st, "app_test", "https://app.test/cb", "user1", []string{"openid"}, "", store.PKCEChallenge{}, time.Minute, clock.Now())
	require.NoError(t, err)

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.test/cb"},
		"client_id":    {"app_test"},
	}
	req1 := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req1.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec1 := httptest.NewRecorder()
	srv.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code, rec1.Body.String())

	req2 := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusBadRequest, rec2.Code)
	require.Contains(t, rec2.Body.String(), "invalid_grant")
}

// TestRefreshTokenReuseRevokesFamily is spec.md §8 scenario 3: presenting a
// refresh token a second time (after it has already been rotated) revokes
// every token in its family, including the one issued by the rotation.
func TestRefreshTokenReuseRevokesFamily(t *testing.T) {
	srv, st, clock := newTestServer(t)
	ctx := context.Background()
	mustCreateApp(t, ctx, st, true)
	mustCreateIdentity(t, ctx, st)

	first, err := as.IssueRefreshToken(ctx, st, "app_test", "user1", []string{"openid"}, time.Hour, clock.Now())
	require.NoError(t, err)

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {first}, "client_id": {"app_test"}}
	rec1 := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req1.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	srv.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code, rec1.Body.String())

	// Replay the original (now-rotated) token: must fail and burn the family.
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	srv.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusBadRequest, rec2.Code)
	require.Contains(t, rec2.Body.String(), "invalid_grant")

	// The token issued by the first (legitimate) rotation must now be dead too.
	var second string
	{
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &body))
		second = body.RefreshToken
	}
	form2 := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {second}, "client_id": {"app_test"}}
	rec3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form2.Encode()))
	req3.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	srv.ServeHTTP(rec3, req3)
	require.Equal(t, http.StatusBadRequest, rec3.Code)
}

// TestLoginRateLimited exercises the spec.md §5 per-IP login limiter:
// once a client IP exceeds the configured request budget, further
// /oauth/login attempts are rejected with 429 regardless of the
// submitted credentials.
func TestLoginRateLimited(t *testing.T) {
	srv, _ := newRateLimitedTestServer(t)

	postLogin := func() int {
		form := url.Values{"request_id": {"nonexistent"}, "email": {"alice@example.com"}, "password": {"wrong"}}
		req := httptest.NewRequest(http.MethodPost, "/oauth/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 10; i++ {
		code := postLogin()
		require.NotEqual(t, http.StatusTooManyRequests, code, "attempt %d should be within budget", i+1)
	}
	require.Equal(t, http.StatusTooManyRequests, postLogin())
}

// TestBrokeredLoginViaMockConnector exercises the SPEC_FULL.md §4
// brokered-login supplement end to end: /oauth/connector/mock/login
// redirects to the connector, whose callback (simulated directly, since
// mock.Connector makes no network round trip) provisions a first-party
// Identity from the upstream email and completes the same
// authorize->token exchange first-party login does.
func TestBrokeredLoginViaMockConnector(t *testing.T) {
	srv, st, _ := newTestServerWithConnectors(t, map[string]connector.Connector{"mock": mock.Connector{}})
	ctx := context.Background()
	mustCreateApp(t, ctx, st, true)
	verifier, challenge := pkcePair()

	loginStartURL := "/oauth/connector/mock/login?" + url.Values{
		"response_type":         {"code"},
		"client_id":             {"app_test"},
		"redirect_uri":          {"https://app.test/cb"},
		"scope":                 {"openid"},
		"state":                 {"xyz"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}.Encode()

	startReq := httptest.NewRequest(http.MethodGet, loginStartURL, nil)
	startRec := httptest.NewRecorder()
	srv.ServeHTTP(startRec, startReq)
	require.Equal(t, http.StatusFound, startRec.Code)

	upstreamLoc, err := url.Parse(startRec.Header().Get("Location"))
	require.NoError(t, err)
	requestID := upstreamLoc.Query().Get("state")
	require.NotEmpty(t, requestID)

	callbackURL := "/oauth/connector/mock/callback?state=" + url.QueryEscape(requestID)
	cbReq := httptest.NewRequest(http.MethodGet, callbackURL, nil)
	cbRec := httptest.NewRecorder()
	srv.ServeHTTP(cbRec, cbReq)
	require.Equal(t, http.StatusSeeOther, cbRec.Code)

	cbLoc, err := url.Parse(cbRec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "xyz", cbLoc.Query().Get("state"))
	code := cbLoc.Query().Get("code")
	require.NotEmpty(t, code)

	identity, err := st.GetIdentityByEmail(ctx, "", mock.Identity.Email)
	require.NoError(t, err)
	require.Empty(t, identity.PasswordHash)

	tokenForm := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app.test/cb"},
		"code_verifier": {verifier},
		"client_id":     {"app_test"},
	}
	tokenReq := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(tokenForm.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokenRec := httptest.NewRecorder()
	srv.ServeHTTP(tokenRec, tokenReq)
	require.Equal(t, http.StatusOK, tokenRec.Code, tokenRec.Body.String())
	require.Contains(t, tokenRec.Body.String(), `"access_token"`)
}
