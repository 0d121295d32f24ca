package proxy

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/coreauth/coreauth/internal/primitives"
)

// pendingLogin is the transient state.rs-equivalent record stored while a
// browser is off at AS completing the authorize step: the PKCE verifier
// and the return target the original /auth/login request carried.
type pendingLogin struct {
	Verifier string
	Redirect string
	Expiry   time.Time
}

// idTokenClaims is what auth.go decodes out of the id_token AS returns,
// grounded on original auth.rs's IdTokenClaims.
type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	OrgID         string `json:"org_id"`
	OrgName       string `json:"org_name"`
	Subject       string `json:"sub"`
}

// AuthHandler implements the /auth/login, /auth/callback, and /auth/logout
// endpoints spec.md §4.3.6 describes, brokering the OAuth2/OIDC
// authorization-code-with-PKCE dance against AS on the browser's behalf.
type AuthHandler struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	cookies      *CookieCodec
	sessions     *SessionStore
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]pendingLogin
}

// NewAuthHandler discovers issuer's OIDC metadata and builds an
// AuthHandler. clientID/clientSecret/callbackURL come from the proxy's
// CoreAuthConfig.
func NewAuthHandler(ctx context.Context, issuer, clientID, clientSecret, callbackURL string, cookies *CookieCodec, sessions *SessionStore, logger *slog.Logger) (*AuthHandler, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover issuer: %w", err)
	}
	return &AuthHandler{
		oauth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  callbackURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email", "offline_access"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		cookies:  cookies,
		sessions: sessions,
		logger:   logger,
		pending:  make(map[string]pendingLogin),
	}, nil
}

// HandleLogin implements GET /auth/login?email=&redirect=: it mints a
// fresh state/PKCE pair, stashes the return target, and redirects to AS.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state := randomToken()
	verifier := oauth2.GenerateVerifier()

	redirect := r.URL.Query().Get("redirect")
	if redirect == "" {
		redirect = "/"
	}

	h.mu.Lock()
	h.pending[state] = pendingLogin{Verifier: verifier, Redirect: redirect, Expiry: time.Now().Add(10 * time.Minute)}
	h.mu.Unlock()

	authURL := h.oauth2Config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback implements GET /auth/callback?code=&state=: it validates
// state, exchanges the code (with the matching PKCE verifier), parses the
// id_token, creates a server-side session, sets the cookie, and redirects
// to the original return target.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		http.Error(w, fmt.Sprintf("login failed: %s: %s", errMsg, q.Get("error_description")), http.StatusBadRequest)
		return
	}

	state := q.Get("state")
	h.mu.Lock()
	pending, ok := h.pending[state]
	if ok {
		delete(h.pending, state)
	}
	h.mu.Unlock()
	if !ok || time.Now().After(pending.Expiry) {
		http.Error(w, "unknown or expired login state", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	token, err := h.oauth2Config.Exchange(r.Context(), code, oauth2.VerifierOption(pending.Verifier))
	if err != nil {
		h.logger.Error("code exchange failed", "error", err)
		http.Error(w, "failed to exchange code for token", http.StatusBadGateway)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "token response had no id_token", http.StatusBadGateway)
		return
	}
	idToken, err := h.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		h.logger.Error("id_token verification failed", "error", err)
		http.Error(w, "invalid id_token", http.StatusBadGateway)
		return
	}
	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		http.Error(w, "could not decode id_token claims", http.StatusBadGateway)
		return
	}

	session := SessionData{
		UserID:       claims.Subject,
		Email:        claims.Email,
		TenantID:     claims.OrgID,
		TenantSlug:   claims.OrgName,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
		ExpiresAt:    token.Expiry,
	}
	sessionID := h.sessions.Create(session)
	if err := h.cookies.Set(w, sessionID); err != nil {
		h.logger.Error("failed to set session cookie", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, pending.Redirect, http.StatusFound)
}

// HandleLogout implements GET /auth/logout?redirect=: it destroys the
// server-side session, clears the cookie, and redirects.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := h.cookies.SessionID(r); ok {
		h.sessions.Destroy(sessionID)
	}
	h.cookies.Clear(w)

	redirect := r.URL.Query().Get("redirect")
	if redirect == "" || !isLocalRedirect(redirect) {
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// isLocalRedirect rejects an open-redirect target: only a path (no scheme,
// no host) is honored.
func isLocalRedirect(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/")
}

func randomToken() string {
	return base64.RawURLEncoding.EncodeToString(primitives.NewRawBytes(16))
}
