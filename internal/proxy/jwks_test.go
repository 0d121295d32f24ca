package proxy_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/oauth2-proxy/mockoidc"
	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/proxy"
)

// httpNoRedirect returns a client that surfaces mockoidc's authorize
// redirect instead of following it, so the authorization code can be
// read out of the Location header.
func httpNoRedirect() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// startMockIDP starts a mockoidc instance standing in for the AS, grounded
// on the teacher pack's own mockoidc usage
// (_examples/stacklok-toolhive/pkg/authserver/integration_test.go's
// startMockOIDC helper).
func startMockIDP(t *testing.T) *mockoidc.MockOIDC {
	t.Helper()
	m, err := mockoidc.Run()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Shutdown()) })
	m.QueueUser(&mockoidc.MockUser{
		Subject: "mock-user-sub-123",
		Email:   "testuser@example.com",
	})
	return m
}

// mintIDToken drives mockoidc's own authorization-code flow (no PKCE,
// no interactive login — mockoidc answers the authorize request with an
// immediate redirect carrying a code for whichever user was queued) and
// returns the resulting raw ID token, exactly the artifact BearerValidator
// is handed in production by an Authorization: Bearer header.
func mintIDToken(t *testing.T, m *mockoidc.MockOIDC) string {
	t.Helper()
	ctx := context.Background()

	cfg := m.Config()
	state := "test-state"
	authorizeURL := cfg.AuthCodeURL(state)

	resp, err := httpNoRedirect().Get(authorizeURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 302, resp.StatusCode)

	loc, err := resp.Location()
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	token, err := cfg.Exchange(ctx, code)
	require.NoError(t, err)

	raw, ok := token.Extra("id_token").(string)
	require.True(t, ok, "token response missing id_token")
	require.NotEmpty(t, raw)
	return raw
}

func TestBearerValidatorAcceptsMockOIDCToken(t *testing.T) {
	m := startMockIDP(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	validator, err := proxy.NewBearerValidator(ctx, m.Issuer())
	require.NoError(t, err)

	raw := mintIDToken(t, m)

	claims, err := validator.Validate(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, "mock-user-sub-123", claims.Subject)
	require.Equal(t, "testuser@example.com", claims.Email)
}

func TestBearerValidatorRejectsTamperedToken(t *testing.T) {
	m := startMockIDP(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	validator, err := proxy.NewBearerValidator(ctx, m.Issuer())
	require.NoError(t, err)

	raw := mintIDToken(t, m)
	tampered := raw[:len(raw)-1] + flipLastChar(raw[len(raw)-1])

	_, err = validator.Validate(ctx, tampered)
	require.Error(t, err)
}

func TestBearerValidatorRejectsWrongIssuer(t *testing.T) {
	mA := startMockIDP(t)
	mB := startMockIDP(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Validator discovers mB's JWKS, but the token was minted by mA.
	validator, err := proxy.NewBearerValidator(ctx, mB.Issuer())
	require.NoError(t, err)

	raw := mintIDToken(t, mA)

	_, err = validator.Validate(ctx, raw)
	require.Error(t, err)
}

func flipLastChar(c byte) string {
	if c == 'A' {
		return "B"
	}
	return "A"
}
