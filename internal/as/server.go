package as

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coreauth/coreauth/internal/connector"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/ratelimit"
	"github.com/coreauth/coreauth/internal/store"
)

// Server is the OAuth2/OIDC authorization server's HTTP surface: discovery,
// authorize/login, token, JWKS, userinfo, introspection, revocation, and
// logout. Grounded on the teacher's Server, generalized from a
// connector-backed federation IdP to a direct-credential CIAM issuer.
type Server struct {
	cfg    Config
	store  store.Store
	signer *Signer
	keys   *KeyRing
	legacy *LegacyVerifier
	clock  primitives.Clock
	logger *slog.Logger

	health     gosundheit.Health
	mux        http.Handler
	connectors map[string]connector.Connector
	loginLimit *ratelimit.Limiter
}

// NewServer builds the Server and its routed mux. health may be nil, in
// which case /healthz always reports healthy. connectors may be nil or
// empty; it maps a connector ID (as referenced by
// /oauth/connector/{id}/login) to a configured brokered-identity
// Connector, and is consulted only by the brokered-login handlers. cache
// may be nil, in which case login attempts are not rate limited; when
// non-nil it backs a per-client-IP limiter shared by the first-party and
// brokered login endpoints, per spec.md §5.
func NewServer(cfg Config, st store.Store, clock primitives.Clock, logger *slog.Logger, health gosundheit.Health, registry *prometheus.Registry, connectors map[string]connector.Connector, cache store.Cache) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	keys := NewKeyRing(st, clock, logger, cfg.SigningKeyRetirementGrace)
	s := &Server{
		cfg:        cfg,
		store:      st,
		signer:     NewSigner(keys),
		keys:       keys,
		legacy:     NewLegacyVerifier(cfg.LegacyJWTSecret),
		clock:      clock,
		logger:     logger,
		health:     health,
		connectors: connectors,
	}
	if cache != nil {
		s.loginLimit = ratelimit.New(cache, "as-login", 10, time.Minute)
	}

	instrument := func(name string, h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		if registry != nil {
			durationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "coreauthd_request_duration_seconds",
				Help:    "Latency of coreauthd HTTP requests.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"code", "method"})
			counter := prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "coreauthd_requests_total",
				Help: "Count of coreauthd HTTP requests.",
			}, []string{"code", "method"})
			registry.MustRegister(durationHist, counter)
			handler = promhttp.InstrumentHandlerDuration(durationHist.MustCurryWith(prometheus.Labels{}),
				promhttp.InstrumentHandlerCounter(counter, h))
		}
		return handler
	}

	r := mux.NewRouter().SkipClean(true).UseEncodedPath()

	// handleWithCORS wraps the endpoints an RP's browser-side JS calls
	// directly (discovery, jwks, token, userinfo, introspect) in
	// gorilla/handlers.CORS when cfg.CORSAllowedOrigins is configured,
	// mirroring the teacher's own handleWithCORS closure in
	// server/server.go. Login/authorize/logout are navigations, not
	// fetch()/XHR calls, so the teacher never wraps them in CORS either.
	handleWithCORS := func(path string, name string, h http.HandlerFunc) {
		var handler http.Handler = instrument(name, h)
		if len(cfg.CORSAllowedOrigins) > 0 {
			handler = handlers.CORS(
				handlers.AllowedOrigins(cfg.CORSAllowedOrigins),
				handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
			)(handler)
		}
		r.Handle(path, handler)
	}

	handleWithCORS("/.well-known/openid-configuration", "discovery", s.handleDiscovery)
	handleWithCORS("/.well-known/jwks.json", "jwks", s.handleJWKS)
	r.Handle("/authorize", instrument("authorize", s.handleAuthorize)).Methods(http.MethodGet)
	r.Handle("/oauth/login", instrument("login", s.handleLogin)).Methods(http.MethodPost)
	handleWithCORS("/oauth/token", "token", s.handleToken)
	handleWithCORS("/userinfo", "userinfo", s.handleUserInfo)
	handleWithCORS("/oauth/introspect", "introspect", s.handleIntrospect)
	r.Handle("/oauth/revoke", instrument("revoke", s.handleRevoke)).Methods(http.MethodPost)
	r.Handle("/logout", instrument("logout", s.handleLogout))
	r.Handle("/oauth/connector/{id}/login", instrument("connector_login", s.handleConnectorLogin)).Methods(http.MethodGet)
	r.Handle("/oauth/connector/{id}/callback", instrument("connector_callback", s.handleConnectorCallback)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz)
	r.NotFoundHandler = http.NotFoundHandler()

	s.mux = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// allowLogin enforces the per-client-IP login rate limit, if one is
// configured. It fails open on a limiter/cache error, logging a warning
// rather than blocking the request: a rate limiter outage must not
// become a login outage.
func (s *Server) allowLogin(w http.ResponseWriter, r *http.Request) bool {
	if s.loginLimit == nil {
		return true
	}
	allowed, _, err := s.loginLimit.Allow(r.Context(), clientIP(r))
	if err != nil {
		s.logger.Warn("login rate limiter unavailable, failing open", "error", err)
		return true
	}
	if !allowed {
		w.Header().Set("Retry-After", "60")
		WriteTokenError(w, s.logger, ErrInvalidRequest, "too many login attempts, try again later", http.StatusTooManyRequests)
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil && !s.health.IsHealthy() {
		http.Error(w, "unhealthy", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// RunMaintenance periodically rotates signing keys, retires expired ones,
// and garbage-collects expired auth requests/codes/refresh tokens. It
// blocks until ctx is cancelled; callers run it in its own goroutine.
func (s *Server) RunMaintenance(ctx context.Context, rotationInterval, gcInterval time.Duration) {
	rotateTicker := time.NewTicker(rotationInterval)
	gcTicker := time.NewTicker(gcInterval)
	defer rotateTicker.Stop()
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rotateTicker.C:
			if _, err := s.keys.Rotate(ctx); err != nil {
				s.logger.Error("signing key rotation failed", "error", err)
				continue
			}
			if _, err := s.keys.RetireExpired(ctx); err != nil {
				s.logger.Error("signing key retirement failed", "error", err)
			}
		case <-gcTicker.C:
			res, err := s.store.GarbageCollect(ctx, s.clock.Now())
			if err != nil {
				s.logger.Error("garbage collection failed", "error", err)
				continue
			}
			s.logger.Info("garbage collection completed",
				"auth_requests", res.AuthRequests, "auth_codes", res.AuthCodes, "refresh_tokens", res.RefreshTokens)
		}
	}
}
