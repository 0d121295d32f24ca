// Package connector defines the interfaces brokered external identity
// providers implement. A connector lets /authorize delegate initial
// authentication to an upstream OIDC provider (or a local test double)
// instead of verifying first-party credentials directly, producing the
// same authorization-code artifact either way.
package connector

import (
	"context"
	"net/http"
)

// Identity is the normalized result of a successful upstream login. It
// mirrors the subset of claims the authorization server's own token
// issuance needs, regardless of which connector produced it.
type Identity struct {
	ConnectorUserID string
	Username        string
	Email           string
	EmailVerified   bool

	// ConnectorData is opaque state the connector needs for subsequent
	// operations (e.g. a refresh token for Groups lookups). It is never
	// exposed to end users, clients, or through any API response.
	ConnectorData []byte
}

// Scopes carries the downstream request's scope intent into the upstream
// exchange, so a connector can decide whether to request offline access
// or a groups claim from the provider it brokers.
type Scopes struct {
	OfflineAccess bool
	Groups        bool
}

// Connector is the minimum every brokered identity source implements.
// Concrete connectors additionally implement one of PasswordConnector or
// CallbackConnector (mutually exclusive login mechanics) and, optionally,
// GroupsConnector / RefreshConnector.
type Connector interface {
	Close() error
}

// PasswordConnector is for connectors that validate a username/password
// pair directly against the upstream (e.g. LDAP-alikes); unused by the
// two connectors this module ships but kept so a future connector has a
// home without reshaping the package.
type PasswordConnector interface {
	Login(ctx context.Context, username, password string) (identity Identity, validPassword bool, err error)
}

// CallbackConnector is for connectors using the OAuth2/OIDC
// authorization-code redirect dance.
type CallbackConnector interface {
	LoginURL(scopes Scopes, callbackURL, state string) (string, error)
	HandleCallback(ctx context.Context, scopes Scopes, r *http.Request) (identity Identity, err error)
}

// GroupsConnector is an optional interface for connectors that can map an
// already-authenticated identity to a set of group names.
type GroupsConnector interface {
	Groups(ctx context.Context, identity Identity) ([]string, error)
}

// RefreshConnector is an optional interface for connectors whose upstream
// session can be refreshed without a full re-login, given the
// ConnectorData captured at the original HandleCallback.
type RefreshConnector interface {
	Refresh(ctx context.Context, scopes Scopes, identity Identity) (Identity, error)
}
