package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/ratelimit"
	"github.com/coreauth/coreauth/internal/store"
)

// sweepInterval is how often the session store drops expired entries,
// per spec.md §4.3.5's default 5-minute sweeper.
const sweepInterval = 5 * time.Minute

// Server wires a loaded Config into a runnable identity-aware proxy: the
// auth handler (login/callback/logout), the route-rule/session/FGA
// middleware pipeline, and the session sweeper's background goroutine.
type Server struct {
	cfg     Config
	auth    *AuthHandler
	handler *Handler
	sweeper *SessionStore
	clock   primitives.Clock
	logger  *slog.Logger
}

// Dependencies bundles the collaborators NewServer needs beyond what's
// already expressed in Config: the FGAChecker backing `fga` route rules
// (nil if no route declares one — either an FGAClient against AZ's check
// RPC, the normal cross-process deployment, or an EngineChecker for a
// same-binary deployment), a cache-backed rate limiter (nil to disable),
// and the clock/logger every subsystem takes as a constructor input.
type Dependencies struct {
	FGA    FGAChecker
	Cache  store.Cache
	Clock  primitives.Clock
	Logger *slog.Logger
}

// NewServer builds a Server from cfg, discovering the upstream OIDC
// provider and building the reverse proxies. ctx bounds only the
// construction-time discovery call.
func NewServer(ctx context.Context, cfg Config, deps Dependencies) (*Server, error) {
	clock := deps.Clock
	if clock == nil {
		clock = primitives.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cookies := NewCookieCodec(cfg.Session)
	sessions := NewSessionStore()

	authHandler, err := NewAuthHandler(ctx, cfg.CoreAuth.URL, cfg.CoreAuth.ClientID, cfg.CoreAuth.ClientSecret, cfg.CoreAuth.CallbackURL, cookies, sessions, logger)
	if err != nil {
		return nil, err
	}

	bearer, err := NewBearerValidator(ctx, cfg.CoreAuth.URL)
	if err != nil {
		return nil, err
	}
	refresher := NewTokenRefresher(&http.Client{Timeout: 30 * time.Second}, cfg.CoreAuth.URL, cfg.CoreAuth.ClientID, cfg.CoreAuth.ClientSecret)

	upstreamURL, err := url.Parse(cfg.Server.Upstream)
	if err != nil {
		return nil, err
	}
	coreauthURL, err := url.Parse(cfg.CoreAuth.URL)
	if err != nil {
		return nil, err
	}

	var limiter *ratelimit.Limiter
	if deps.Cache != nil {
		limiter = ratelimit.New(deps.Cache, "proxy", 5, time.Minute)
	}

	handler := NewHandler(
		cfg.Routes,
		cookies,
		sessions,
		bearer,
		refresher,
		deps.FGA,
		limiter,
		NewReverseProxy(upstreamURL),
		NewReverseProxy(coreauthURL),
		clock,
		logger,
	)

	return &Server{
		cfg:     cfg,
		auth:    authHandler,
		handler: handler,
		sweeper: sessions,
		clock:   clock,
		logger:  logger,
	}, nil
}

// RunSweeper blocks sweeping expired sessions until ctx is canceled; run it
// in its own goroutine alongside ServeHTTP.
func (s *Server) RunSweeper(ctx context.Context) {
	s.sweeper.RunSweeper(ctx, s.clock, sweepInterval)
}

// ServeHTTP dispatches /auth/* to the login/callback/logout handler and
// everything else through the route-rule pipeline, mirroring the
// teacher's single fallback-style router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/login":
		s.auth.HandleLogin(w, r)
		return
	case "/auth/callback":
		s.auth.HandleCallback(w, r)
		return
	case "/auth/logout":
		s.auth.HandleLogout(w, r)
		return
	}
	s.handler.ServeHTTP(w, r)
}
