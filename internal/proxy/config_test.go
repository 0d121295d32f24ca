package proxy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/proxy"
)

const sampleConfig = `
server:
  upstream: http://localhost:8080
coreauth:
  url: http://localhost:5556
  client_id: proxy-client
  client_secret: proxy-secret
  callback_url: http://localhost:4000/auth/callback
session:
  secret: change-me
routes:
  - match:
      path: /api/projects/:id
      methods: [GET]
    auth: required
    fga:
      relation: viewer
      object_type: project
      object_id: "path:id"
  - match:
      path: /public/**
    auth: none
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := proxy.LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:4000", cfg.Server.Listen)
	require.Equal(t, "coreauth_session", cfg.Session.CookieName)
	require.EqualValues(t, 86400, cfg.Session.MaxAgeSeconds)
	require.Len(t, cfg.Routes, 2)
	require.Equal(t, proxy.AuthRequired, cfg.Routes[0].Auth)
	require.Equal(t, proxy.RedirectLogin, cfg.Routes[0].OnUnauthenticated)
	require.Equal(t, proxy.TargetUpstream, cfg.Routes[0].Target)
	require.Equal(t, proxy.AuthNone, cfg.Routes[1].Auth)
}

func TestLoadConfigRejectsMissingUpstream(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: ':4000'\ncoreauth:\n  url: x\n  client_id: x\n  client_secret: x\n  callback_url: x\nsession:\n  secret: x\n"), 0o600))

	_, err := proxy.LoadConfig(path)
	require.Error(t, err)
}
