package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/coreauth/coreauth/internal/as"
)

// config is coreauthd's environment-driven startup configuration, per
// spec.md §6.3's configuration-surface table. Unlike coreauth-proxy's
// YAML file, AS+AZ configuration is read entirely from the process
// environment, matching the original coreauth-core prototype and the
// teacher's `cmd/dex/config.go`'s env-override pattern (generalized here
// to env-only, since there is no accompanying config file for this
// binary).
type config struct {
	serverHost string
	serverPort string

	databaseURL         string
	databaseMaxConns    int
	redisURL            string
	legacyJWTSecret     string
	issuerURL           string
	passwordMinLength   int
	baseURL             string
	oidcConnectorIssuer string
	oidcClientID        string
	oidcClientSecret    string
	oidcRedirectURI     string
	azStoreName         string
}

func loadConfigFromEnv() (config, error) {
	c := config{
		serverHost:        getenv("SERVER_HOST", "0.0.0.0"),
		serverPort:        getenv("SERVER_PORT", "8080"),
		databaseURL:       os.Getenv("DATABASE_URL"),
		redisURL:          os.Getenv("REDIS_URL"),
		legacyJWTSecret:   os.Getenv("JWT_SECRET"),
		issuerURL:         os.Getenv("ISSUER_URL"),
		baseURL:           os.Getenv("BASE_URL"),
		passwordMinLength: 8,

		oidcConnectorIssuer: os.Getenv("OIDC_CONNECTOR_ISSUER"),
		oidcClientID:        os.Getenv("OIDC_CONNECTOR_CLIENT_ID"),
		oidcClientSecret:    os.Getenv("OIDC_CONNECTOR_CLIENT_SECRET"),
		oidcRedirectURI:     os.Getenv("OIDC_CONNECTOR_REDIRECT_URI"),

		azStoreName: getenv("AZ_DEFAULT_STORE", "default"),
	}

	if v := os.Getenv("DATABASE_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return config{}, fmt.Errorf("DATABASE_MAX_CONNECTIONS: %w", err)
		}
		c.databaseMaxConns = n
	}
	if v := os.Getenv("PASSWORD_MIN_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return config{}, fmt.Errorf("PASSWORD_MIN_LENGTH: %w", err)
		}
		c.passwordMinLength = n
	}

	if c.issuerURL == "" {
		return config{}, fmt.Errorf("ISSUER_URL is required")
	}
	return c, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c config) listenAddr() string {
	return c.serverHost + ":" + c.serverPort
}

// asConfig builds the internal/as Config from environment settings,
// layering spec.md §6.3's JWT_SECRET / ISSUER_URL onto the library's own
// TTL defaults. PASSWORD_MIN_LENGTH is not part of as.Config.
func (c config) asConfig() as.Config {
	cfg := as.DefaultConfig(c.issuerURL)
	cfg.LegacyJWTSecret = c.legacyJWTSecret
	return cfg
}
