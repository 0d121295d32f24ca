package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_HOST", "SERVER_PORT", "DATABASE_URL", "DATABASE_MAX_CONNECTIONS",
		"REDIS_URL", "JWT_SECRET", "ISSUER_URL", "PASSWORD_MIN_LENGTH", "BASE_URL",
		"OIDC_CONNECTOR_ISSUER", "OIDC_CONNECTOR_CLIENT_ID", "OIDC_CONNECTOR_CLIENT_SECRET",
		"OIDC_CONNECTOR_REDIRECT_URI", "AZ_DEFAULT_STORE",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadConfigFromEnvRequiresIssuer(t *testing.T) {
	clearEnv(t)
	_, err := loadConfigFromEnv()
	require.ErrorContains(t, err, "ISSUER_URL is required")
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("ISSUER_URL", "https://auth.example.com")
	defer clearEnv(t)

	cfg, err := loadConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.serverHost)
	require.Equal(t, "8080", cfg.serverPort)
	require.Equal(t, "0.0.0.0:8080", cfg.listenAddr())
	require.Equal(t, 8, cfg.passwordMinLength)
	require.Equal(t, "default", cfg.azStoreName)
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("ISSUER_URL", "https://auth.example.com")
	os.Setenv("SERVER_HOST", "127.0.0.1")
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("DATABASE_MAX_CONNECTIONS", "25")
	os.Setenv("PASSWORD_MIN_LENGTH", "12")
	os.Setenv("AZ_DEFAULT_STORE", "acme")
	defer clearEnv(t)

	cfg, err := loadConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", cfg.listenAddr())
	require.Equal(t, 25, cfg.databaseMaxConns)
	require.Equal(t, 12, cfg.passwordMinLength)
	require.Equal(t, "acme", cfg.azStoreName)
}

func TestLoadConfigFromEnvInvalidNumbers(t *testing.T) {
	clearEnv(t)
	os.Setenv("ISSUER_URL", "https://auth.example.com")
	defer clearEnv(t)

	os.Setenv("DATABASE_MAX_CONNECTIONS", "not-a-number")
	_, err := loadConfigFromEnv()
	require.ErrorContains(t, err, "DATABASE_MAX_CONNECTIONS")
	os.Unsetenv("DATABASE_MAX_CONNECTIONS")

	os.Setenv("PASSWORD_MIN_LENGTH", "not-a-number")
	_, err = loadConfigFromEnv()
	require.ErrorContains(t, err, "PASSWORD_MIN_LENGTH")
}

func TestAsConfigCarriesLegacyJWTSecret(t *testing.T) {
	clearEnv(t)
	os.Setenv("ISSUER_URL", "https://auth.example.com")
	os.Setenv("JWT_SECRET", "super-secret")
	defer clearEnv(t)

	cfg, err := loadConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "super-secret", cfg.asConfig().LegacyJWTSecret)
	require.Equal(t, "https://auth.example.com", cfg.asConfig().Issuer)
}
