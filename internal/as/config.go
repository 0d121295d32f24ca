package as

import (
	"time"

	"github.com/coreauth/coreauth/internal/apperr"
)

// Config is the authorization server's static configuration, loaded once
// at startup. Per-client overrides (token TTLs, allowed grants) live on
// store.Application instead of here.
type Config struct {
	Issuer string

	DefaultAccessTokenTTL  time.Duration
	DefaultRefreshTokenTTL time.Duration
	DefaultIDTokenTTL      time.Duration
	AuthCodeTTL            time.Duration
	AuthRequestTTL         time.Duration

	// SigningKeyRetirementGrace bounds how long a rotated-out key is kept
	// in JWKS: Validate requires it to be at least DefaultRefreshTokenTTL.
	SigningKeyRetirementGrace time.Duration

	// LegacyJWTSecret, when non-empty, enables HS256 compatibility
	// verification for tokens minted before the RS256 migration. Empty
	// disables the legacy path entirely.
	LegacyJWTSecret string

	// CORSAllowedOrigins, when non-empty, wraps the discovery/jwks/token/
	// userinfo/introspect endpoints in gorilla/handlers.CORS, the same
	// handleWithCORS treatment the teacher's server.go gives its
	// equivalent endpoints. Empty disables CORS entirely, matching the
	// teacher's own "len(c.AllowedOrigins) > 0" gate.
	CORSAllowedOrigins []string
}

func (c Config) Validate() error {
	if c.Issuer == "" {
		return apperr.New(apperr.KindValidation, "issuer is required")
	}
	if c.DefaultAccessTokenTTL <= 0 || c.DefaultRefreshTokenTTL <= 0 || c.DefaultIDTokenTTL <= 0 {
		return apperr.New(apperr.KindValidation, "token TTLs must be positive")
	}
	if c.AuthCodeTTL <= 0 || c.AuthCodeTTL > 10*time.Minute {
		return apperr.New(apperr.KindValidation, "auth code TTL must be positive and at most 10 minutes")
	}
	if c.SigningKeyRetirementGrace < c.DefaultRefreshTokenTTL {
		return apperr.New(apperr.KindValidation, "signing key retirement grace must be at least the refresh token TTL")
	}
	return nil
}

func DefaultConfig(issuer string) Config {
	return Config{
		Issuer:                    issuer,
		DefaultAccessTokenTTL:     15 * time.Minute,
		DefaultRefreshTokenTTL:    30 * 24 * time.Hour,
		DefaultIDTokenTTL:         15 * time.Minute,
		AuthCodeTTL:               60 * time.Second,
		AuthRequestTTL:            10 * time.Minute,
		SigningKeyRetirementGrace: 31 * 24 * time.Hour,
	}
}
