// Package proxy implements the identity-aware reverse proxy and session
// core: an ordered route-rule engine, session-cookie crypto, JWKS-backed
// bearer validation, transparent token refresh, and identity-header
// injection, grounded on the teacher's cmd/oidc-proxy and the original
// Rust coreauth-proxy prototype's struct-for-struct config shape.
package proxy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level proxy.yaml shape, loaded once at startup.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	CoreAuth CoreAuthConfig `yaml:"coreauth"`
	Session  SessionConfig  `yaml:"session"`
	FGA      FGAConfig      `yaml:"fga"`
	Routes   []RouteRule    `yaml:"routes"`
}

type ServerConfig struct {
	Listen   string `yaml:"listen"`
	Upstream string `yaml:"upstream"`
}

type CoreAuthConfig struct {
	URL          string `yaml:"url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

type SessionConfig struct {
	Secret        string `yaml:"secret"`
	CookieName    string `yaml:"cookie_name"`
	CookieDomain  string `yaml:"cookie_domain"`
	MaxAgeSeconds int64  `yaml:"max_age_seconds"`
	Secure        bool   `yaml:"secure"`
}

// FGAConfig names the single AZ store route rules with an `fga` block
// check against, and how to reach AZ's check RPC to perform that check.
// URL/APIKey are empty for a same-binary deployment that instead passes
// an EngineChecker directly via Dependencies.FGA.
type FGAConfig struct {
	StoreName string `yaml:"store_name"`
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
}

// AuthMode is how strictly a route requires an authenticated caller.
type AuthMode string

const (
	AuthNone     AuthMode = "none"
	AuthOptional AuthMode = "optional"
	AuthRequired AuthMode = "required"
)

// UnauthAction is what happens when auth=required and no session exists.
type UnauthAction string

const (
	RedirectLogin UnauthAction = "redirect_login"
	Status401     UnauthAction = "status_401"
)

// RouteTarget selects which backend a matched request is forwarded to.
type RouteTarget string

const (
	TargetUpstream RouteTarget = "upstream"
	TargetCoreAuth RouteTarget = "coreauth"
)

// RouteRule is one entry in the ordered route-rule list; the first rule
// whose Match fires wins.
type RouteRule struct {
	Match             MatchRule    `yaml:"match"`
	Auth              AuthMode     `yaml:"auth"`
	OnUnauthenticated UnauthAction `yaml:"on_unauthenticated"`
	Target            RouteTarget  `yaml:"target"`
	FGA               *FGARule     `yaml:"fga"`
}

type MatchRule struct {
	Path    string   `yaml:"path"`
	Methods []string `yaml:"methods"`
}

// FGARule names the relation-tuple check a matched request must satisfy.
// ObjectID is a source spec: "path:<param>", "query:<param>", or
// "header:<name>".
type FGARule struct {
	Relation   string `yaml:"relation"`
	ObjectType string `yaml:"object_type"`
	ObjectID   string `yaml:"object_id"`
}

const (
	defaultListen        = "0.0.0.0:4000"
	defaultCookieName    = "coreauth_session"
	defaultMaxAgeSeconds = 86400
)

// LoadConfig reads and parses a proxy.yaml file from path, applying the
// same defaults the original prototype's serde defaults supplied.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = defaultCookieName
	}
	if c.Session.MaxAgeSeconds == 0 {
		c.Session.MaxAgeSeconds = defaultMaxAgeSeconds
	}
	for i, r := range c.Routes {
		if r.Auth == "" {
			c.Routes[i].Auth = AuthRequired
		}
		if r.OnUnauthenticated == "" {
			c.Routes[i].OnUnauthenticated = RedirectLogin
		}
		if r.Target == "" {
			c.Routes[i].Target = TargetUpstream
		}
	}
}

// Validate rejects a config missing the fields every deployment needs,
// regardless of how permissive the route list is.
func (c Config) Validate() error {
	if c.Server.Upstream == "" {
		return fmt.Errorf("server.upstream is required")
	}
	if c.CoreAuth.URL == "" || c.CoreAuth.ClientID == "" || c.CoreAuth.ClientSecret == "" || c.CoreAuth.CallbackURL == "" {
		return fmt.Errorf("coreauth.url, client_id, client_secret, and callback_url are all required")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("session.secret is required")
	}
	for i, r := range c.Routes {
		if r.Match.Path == "" {
			return fmt.Errorf("routes[%d]: match.path is required", i)
		}
		switch r.Auth {
		case AuthNone, AuthOptional, AuthRequired:
		default:
			return fmt.Errorf("routes[%d]: invalid auth mode %q", i, r.Auth)
		}
		switch r.OnUnauthenticated {
		case RedirectLogin, Status401:
		default:
			return fmt.Errorf("routes[%d]: invalid on_unauthenticated %q", i, r.OnUnauthenticated)
		}
		switch r.Target {
		case TargetUpstream, TargetCoreAuth:
		default:
			return fmt.Errorf("routes[%d]: invalid target %q", i, r.Target)
		}
	}
	return nil
}
