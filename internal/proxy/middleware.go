package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/ratelimit"
)

// Handler implements the full route-rule → auth → FGA-check → forward
// pipeline described in spec.md §4.3, grounded on the teacher's layered-
// middleware idiom (design note §9) and the original prototype's
// main.rs/auth.rs/fga.rs composition, collapsed here into one fallback
// handler the way main.rs's single `.fallback(handle_request)` router does.
type Handler struct {
	routes []RouteRule

	cookies   *CookieCodec
	sessions  *SessionStore
	bearer    *BearerValidator
	refresher *TokenRefresher
	fga       FGAChecker
	limiter   *ratelimit.Limiter

	upstream *ReverseProxy
	coreauth *ReverseProxy

	clock  primitives.Clock
	logger *slog.Logger
}

// NewHandler builds the request pipeline. fga and limiter may be nil: a
// deployment with no fga block in its routes needs no FGAChecker, and the
// rate limiter is optional hardening rather than a hard dependency.
func NewHandler(routes []RouteRule, cookies *CookieCodec, sessions *SessionStore, bearer *BearerValidator, refresher *TokenRefresher, fga FGAChecker, limiter *ratelimit.Limiter, upstream, coreauth *ReverseProxy, clock primitives.Clock, logger *slog.Logger) *Handler {
	return &Handler{
		routes:    routes,
		cookies:   cookies,
		sessions:  sessions,
		bearer:    bearer,
		refresher: refresher,
		fga:       fga,
		limiter:   limiter,
		upstream:  upstream,
		coreauth:  coreauth,
		clock:     clock,
		logger:    logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil {
		allowed, _, err := h.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			h.logger.Warn("rate limiter degraded", "error", err)
		}
		if !allowed {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	rule, pathParams, ok := MatchRoute(h.routes, r.URL.Path, r.Method)
	if !ok {
		http.NotFound(w, r)
		return
	}

	session, authenticated := h.authenticate(w, r)

	switch rule.Auth {
	case AuthRequired:
		if !authenticated {
			h.denyUnauthenticated(w, r, rule)
			return
		}
	case AuthOptional, AuthNone:
		// Proceed either way; session (if any) still flows through for
		// identity-header injection and FGA checks.
	}

	if authenticated && rule.FGA != nil {
		allowed, err := h.checkFGA(r, pathParams, session, *rule.FGA)
		if err != nil {
			h.logger.Error("fga check failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var identity http.Header
	if authenticated {
		identity = identityHeadersFor(session)
	}

	target := h.upstream
	if rule.Target == TargetCoreAuth {
		target = h.coreauth
	}
	target.ServeHTTP(w, r, identity)
}

// authenticate resolves the caller's session from either a cookie or a
// bearer token, refreshing an about-to-expire cookie session in place.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (SessionData, bool) {
	if sessionID, ok := h.cookies.SessionID(r); ok {
		session, ok := h.sessions.Get(sessionID)
		if !ok {
			h.cookies.Clear(w)
			return SessionData{}, false
		}
		if session.Expired(h.clock.Now()) {
			refreshed, err := h.refreshSession(r.Context(), sessionID, session)
			if err != nil {
				h.logger.Warn("session refresh failed, treating as unauthenticated", "error", err)
				h.sessions.Destroy(sessionID)
				h.cookies.Clear(w)
				return SessionData{}, false
			}
			session = refreshed
		}
		return session, true
	}

	if tok, ok := bearerToken(r); ok && h.bearer != nil {
		claims, err := h.bearer.Validate(r.Context(), tok)
		if err != nil {
			return SessionData{}, false
		}
		return SessionData{
			UserID:          claims.Subject,
			Email:           claims.Email,
			TenantID:        claims.OrgID,
			Role:            claims.Role,
			IsPlatformAdmin: claims.IsPlatformAdmin,
			AccessToken:     tok,
		}, true
	}

	return SessionData{}, false
}

func (h *Handler) refreshSession(ctx context.Context, sessionID string, session SessionData) (SessionData, error) {
	if session.RefreshToken == "" {
		return SessionData{}, errNoRefreshToken
	}
	tok, err := h.refresher.Refresh(ctx, session.RefreshToken)
	if err != nil {
		return SessionData{}, err
	}
	session.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		session.RefreshToken = tok.RefreshToken
	}
	if tok.IDToken != "" {
		session.IDToken = tok.IDToken
	}
	session.ExpiresAt = h.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	h.sessions.Update(sessionID, session)
	return session, nil
}

func (h *Handler) denyUnauthenticated(w http.ResponseWriter, r *http.Request, rule RouteRule) {
	if rule.OnUnauthenticated == Status401 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	loginURL := "/auth/login?redirect=" + r.URL.Path
	http.Redirect(w, r, loginURL, http.StatusFound)
}

func (h *Handler) checkFGA(r *http.Request, pathParams map[string]string, session SessionData, rule FGARule) (bool, error) {
	objectID, ok := ExtractObjectID(rule.ObjectID, pathParams, r)
	if !ok {
		return false, nil
	}
	return h.fga.Check(r.Context(), session.UserID, rule.Relation, rule.ObjectType, objectID)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimPrefix(auth, prefix), true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
