// Package store defines the persistence abstraction every other subsystem
// is built against: entity CRUD with compare-and-swap update semantics, a
// relation-tuple store, and a TTL cache with prefix invalidation. It plays
// the role the teacher's storage package plays for dex — a narrow interface
// with a mutex-protected in-memory reference implementation for tests and a
// real backend (here Postgres + Redis) for production.
package store

import (
	"context"
	"time"
)

// Tenant is a root-or-nested isolation unit. HierarchyPath is a slash-joined
// sequence of slugs from the root tenant to this one; HierarchyLevel is its
// depth (root = 0).
type Tenant struct {
	ID             string
	Slug           string
	Name           string
	ParentID       string // empty for a root tenant
	HierarchyPath  string
	HierarchyLevel int
	IsolationMode  IsolationMode
	Settings       TenantSettings
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsolationMode selects how strictly a tenant's data is segregated from its
// siblings in a shared backing store.
type IsolationMode string

const (
	IsolationPool IsolationMode = "pool"
	IsolationSilo IsolationMode = "silo"
)

// TenantSettings is an open bag of tenant-level configuration: branding,
// security policy (MFA requirement, session TTL overrides), feature flags.
type TenantSettings map[string]any

// Identity is an end user. Exactly one of DefaultOrgID and PlatformAdmin
// should hold for any identity capable of authenticating; the tenant
// service enforces that invariant rather than the store.
type Identity struct {
	ID              string
	DefaultOrgID    string
	Email           string
	EmailVerified   bool
	Phone           string
	PasswordHash    string // argon2id, primitives.HashPassword format
	PlatformAdmin   bool
	MFAEnabled      bool
	MFASecret       string // base32, at rest
	Active          bool
	Metadata        map[string]any
	FailedLoginAt   []time.Time
	LockedUntil     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ApplicationType distinguishes OAuth client shapes with different
// authentication and token requirements.
type ApplicationType string

const (
	AppWebApp ApplicationType = "webapp"
	AppSPA    ApplicationType = "spa"
	AppNative ApplicationType = "native"
	AppM2M    ApplicationType = "m2m"
)

// Application is an OAuth2/OIDC client registration.
type Application struct {
	ID                string
	OrgID             string // empty = platform-wide
	ClientID          string
	ClientSecretHash  string // sha256 hex, empty for public clients
	Type              ApplicationType
	RedirectURIs      []string
	PostLogoutURIs    []string
	AllowedWebOrigins []string
	AllowedGrantTypes []string
	AllowedScopes     []string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	IDTokenTTL        time.Duration
	Enabled           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PKCEChallenge carries the PKCE parameters of an authorize request or code.
type PKCEChallenge struct {
	CodeChallenge       string
	CodeChallengeMethod string // always "S256"; "plain" is rejected upstream
}

// AuthRequest is the pending state of a /authorize call awaiting login.
type AuthRequest struct {
	ID           string
	ClientID     string
	RedirectURI  string
	Scopes       []string
	State        string
	Nonce        string
	ResponseType string
	PKCE         PKCEChallenge
	ConnectorID  string // set when authentication is brokered through internal/connector instead of first-party credentials
	LoggedIn     bool
	UserID       string
	Expiry       time.Time
	CreatedAt    time.Time
}

// AuthCode is a one-time authorization code, stored hashed.
type AuthCode struct {
	Hash        string // sha256 hex of the plaintext code; primary key
	ClientID    string
	RedirectURI string
	UserID      string
	Scopes      []string
	Nonce       string
	PKCE        PKCEChallenge
	Expiry      time.Time
	UsedAt      time.Time // zero value = unused
	CreatedAt   time.Time
}

// RefreshToken is an opaque, rotatable refresh token, stored hashed.
type RefreshToken struct {
	Hash      string // sha256 hex of the plaintext token; primary key
	FamilyID  string
	ParentID  string // hash of the token this one replaced, empty for root
	ClientID  string
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
	UsedAt    time.Time // zero value = unused; set atomically on rotation
	RevokedAt time.Time // zero value = not revoked; set on reuse or explicit revoke
	CreatedAt time.Time
}

// SigningKeyStatus is a signing key's position in the rotation state
// machine described by the authorization server's key-rotation design.
type SigningKeyStatus string

const (
	SigningKeyActive   SigningKeyStatus = "active"
	SigningKeyRotating SigningKeyStatus = "rotating"
	SigningKeyRetired  SigningKeyStatus = "retired"
)

// SigningKey is an RSA keypair used to sign access and id tokens.
type SigningKey struct {
	KID         string
	Algorithm   string // "RS256"
	PrivateKeyPEM []byte
	Status      SigningKeyStatus
	CreatedAt   time.Time
	ActivatedAt time.Time
	RetiredAt   time.Time
}

// Consent records that a user has approved a client's requested scopes, so
// the authorize endpoint can short-circuit the prompt on later visits.
type Consent struct {
	UserID    string
	ClientID  string
	Scopes    []string
	GrantedAt time.Time
}

// NotFoundErr and AlreadyExistsErr are returned by implementations via
// apperr.Wrap(err, apperr.KindNotFound/KindAlreadyExists, ...); the store
// package itself stays free of apperr's HTTP-facing concerns and documents
// the contract instead of defining sentinel errors, following the same
// division of responsibility dex draws between storage.ErrNotFound and the
// server package that turns it into an HTTP response.

// Store is the full entity-persistence interface consumed by the tenant,
// AS, and AZ subsystems. Implementations must support the transaction and
// CAS semantics called out on individual methods; callers never get to
// choose a weaker consistency level.
type Store interface {
	Close() error

	CreateTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, id string) (Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (Tenant, error)
	ListChildTenants(ctx context.Context, parentID string) ([]Tenant, error)
	UpdateTenant(ctx context.Context, id string, updater func(Tenant) (Tenant, error)) error
	DeleteTenantCascade(ctx context.Context, id string) error

	CreateIdentity(ctx context.Context, u Identity) error
	GetIdentity(ctx context.Context, id string) (Identity, error)
	GetIdentityByEmail(ctx context.Context, orgID, email string) (Identity, error)
	UpdateIdentity(ctx context.Context, id string, updater func(Identity) (Identity, error)) error
	DeleteIdentity(ctx context.Context, id string) error

	CreateApplication(ctx context.Context, a Application) error
	GetApplication(ctx context.Context, id string) (Application, error)
	GetApplicationByClientID(ctx context.Context, clientID string) (Application, error)
	ListApplications(ctx context.Context, orgID string) ([]Application, error)
	UpdateApplication(ctx context.Context, id string, updater func(Application) (Application, error)) error
	DeleteApplication(ctx context.Context, id string) error

	CreateAuthRequest(ctx context.Context, r AuthRequest) error
	GetAuthRequest(ctx context.Context, id string) (AuthRequest, error)
	UpdateAuthRequest(ctx context.Context, id string, updater func(AuthRequest) (AuthRequest, error)) error
	DeleteAuthRequest(ctx context.Context, id string) error

	CreateAuthCode(ctx context.Context, c AuthCode) error
	GetAuthCode(ctx context.Context, hash string) (AuthCode, error)
	// RedeemAuthCode atomically sets UsedAt if and only if it is currently
	// zero, returning ok=false (no error) if the code was already used.
	RedeemAuthCode(ctx context.Context, hash string, at time.Time) (ok bool, err error)
	DeleteAuthCode(ctx context.Context, hash string) error

	CreateRefreshToken(ctx context.Context, r RefreshToken) error
	GetRefreshToken(ctx context.Context, hash string) (RefreshToken, error)
	// RotateRefreshToken atomically marks `hash` used and creates `next`
	// within one transaction, returning ok=false if `hash` was already used
	// (reuse) so the caller can revoke the family.
	RotateRefreshToken(ctx context.Context, hash string, at time.Time, next RefreshToken) (ok bool, err error)
	RevokeRefreshTokenFamily(ctx context.Context, familyID string, at time.Time) error

	UpsertSigningKey(ctx context.Context, k SigningKey) error
	GetSigningKey(ctx context.Context, kid string) (SigningKey, error)
	ListSigningKeys(ctx context.Context) ([]SigningKey, error)
	UpdateSigningKey(ctx context.Context, kid string, updater func(SigningKey) (SigningKey, error)) error

	GetConsent(ctx context.Context, userID, clientID string) (Consent, error)
	PutConsent(ctx context.Context, c Consent) error

	// GarbageCollect removes expired auth requests, auth codes, and refresh
	// tokens, returning the counts removed of each.
	GarbageCollect(ctx context.Context, now time.Time) (GCResult, error)
}

// GCResult reports how many expired records a GarbageCollect pass removed.
type GCResult struct {
	AuthRequests  int64
	AuthCodes     int64
	RefreshTokens int64
}
