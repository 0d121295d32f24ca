// Package sql implements store.Store against Postgres using sqlx and
// lib/pq, the stack the example pack's own IAM repositories (Abraxas-365's
// apikeyinfra/invitationinfra packages) use for the same kind of
// tenant-scoped entity persistence.
package sql

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is a Postgres-backed store.Store.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens a Postgres connection pool at dsn and verifies connectivity.
func Open(dsn string, maxConns int, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "connect to postgres")
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection pool so callers can share it with
// OpenTupleStore rather than opening a second pool against the same DSN.
func (s *Store) DB() *sqlx.DB { return s.db }

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

type tenantRow struct {
	ID             string         `db:"id"`
	Slug           string         `db:"slug"`
	Name           string         `db:"name"`
	ParentID       sql.NullString `db:"parent_id"`
	HierarchyPath  string         `db:"hierarchy_path"`
	HierarchyLevel int            `db:"hierarchy_level"`
	IsolationMode  string         `db:"isolation_mode"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r tenantRow) toDomain() store.Tenant {
	return store.Tenant{
		ID:             r.ID,
		Slug:           r.Slug,
		Name:           r.Name,
		ParentID:       r.ParentID.String,
		HierarchyPath:  r.HierarchyPath,
		HierarchyLevel: r.HierarchyLevel,
		IsolationMode:  store.IsolationMode(r.IsolationMode),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (s *Store) CreateTenant(ctx context.Context, t store.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, slug, name, parent_id, hierarchy_path, hierarchy_level, isolation_mode, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		t.ID, t.Slug, t.Name, t.ParentID, t.HierarchyPath, t.HierarchyLevel, string(t.IsolationMode), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindAlreadyExists, "tenant %s", t.ID)
		}
		return apperr.Wrap(err, apperr.KindDatabase, "create tenant")
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (store.Tenant, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tenants WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return store.Tenant{}, apperr.New(apperr.KindNotFound, "tenant %s", id)
	}
	if err != nil {
		return store.Tenant{}, apperr.Wrap(err, apperr.KindDatabase, "get tenant")
	}
	return row.toDomain(), nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (store.Tenant, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tenants WHERE slug = $1`, slug)
	if err == sql.ErrNoRows {
		return store.Tenant{}, apperr.New(apperr.KindNotFound, "tenant slug %s", slug)
	}
	if err != nil {
		return store.Tenant{}, apperr.Wrap(err, apperr.KindDatabase, "get tenant by slug")
	}
	return row.toDomain(), nil
}

func (s *Store) ListChildTenants(ctx context.Context, parentID string) ([]store.Tenant, error) {
	var rows []tenantRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM tenants WHERE parent_id = $1 ORDER BY slug`, parentID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "list child tenants")
	}
	out := make([]store.Tenant, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) UpdateTenant(ctx context.Context, id string, updater func(store.Tenant) (store.Tenant, error)) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row tenantRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM tenants WHERE id = $1 FOR UPDATE`, id); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.KindNotFound, "tenant %s", id)
			}
			return apperr.Wrap(err, apperr.KindDatabase, "lock tenant")
		}
		updated, err := updater(row.toDomain())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE tenants SET name = $2, parent_id = NULLIF($3, ''), hierarchy_path = $4,
				hierarchy_level = $5, isolation_mode = $6, updated_at = $7 WHERE id = $1`,
			id, updated.Name, updated.ParentID, updated.HierarchyPath, updated.HierarchyLevel, string(updated.IsolationMode), updated.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "update tenant")
		}
		return nil
	})
}

func (s *Store) DeleteTenantCascade(ctx context.Context, id string) error {
	// hierarchy_path is a prefix of every descendant's path (see data model
	// invariant in the tenant package), so a cascade is a single prefix
	// match rather than a recursive CTE.
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var path string
		if err := tx.GetContext(ctx, &path, `SELECT hierarchy_path FROM tenants WHERE id = $1`, id); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.KindNotFound, "tenant %s", id)
			}
			return apperr.Wrap(err, apperr.KindDatabase, "lookup tenant path")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE default_org_id IN (SELECT id FROM tenants WHERE hierarchy_path = $1 OR hierarchy_path LIKE $1 || '/%')`, path); err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "cascade delete identities")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM applications WHERE org_id IN (SELECT id FROM tenants WHERE hierarchy_path = $1 OR hierarchy_path LIKE $1 || '/%')`, path); err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "cascade delete applications")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE hierarchy_path = $1 OR hierarchy_path LIKE $1 || '/%'`, path); err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "cascade delete tenants")
		}
		return nil
	})
}

type identityRow struct {
	ID            string         `db:"id"`
	DefaultOrgID  sql.NullString `db:"default_org_id"`
	Email         string         `db:"email"`
	EmailVerified bool           `db:"email_verified"`
	Phone         string         `db:"phone"`
	PasswordHash  string         `db:"password_hash"`
	PlatformAdmin bool           `db:"platform_admin"`
	MFAEnabled    bool           `db:"mfa_enabled"`
	MFASecret     string         `db:"mfa_secret"`
	Active        bool           `db:"active"`
	LockedUntil   sql.NullTime   `db:"locked_until"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r identityRow) toDomain() store.Identity {
	return store.Identity{
		ID:            r.ID,
		DefaultOrgID:  r.DefaultOrgID.String,
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		Phone:         r.Phone,
		PasswordHash:  r.PasswordHash,
		PlatformAdmin: r.PlatformAdmin,
		MFAEnabled:    r.MFAEnabled,
		MFASecret:     r.MFASecret,
		Active:        r.Active,
		LockedUntil:   r.LockedUntil.Time,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *Store) CreateIdentity(ctx context.Context, u store.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, default_org_id, email, email_verified, phone, password_hash,
			platform_admin, mfa_enabled, mfa_secret, active, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.DefaultOrgID, strings.ToLower(u.Email), u.EmailVerified, u.Phone, u.PasswordHash,
		u.PlatformAdmin, u.MFAEnabled, u.MFASecret, u.Active, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindAlreadyExists, "identity %s", u.ID)
		}
		return apperr.Wrap(err, apperr.KindDatabase, "create identity")
	}
	return nil
}

func (s *Store) GetIdentity(ctx context.Context, id string) (store.Identity, error) {
	var row identityRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM identities WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return store.Identity{}, apperr.New(apperr.KindNotFound, "identity %s", id)
	}
	if err != nil {
		return store.Identity{}, apperr.Wrap(err, apperr.KindDatabase, "get identity")
	}
	return row.toDomain(), nil
}

func (s *Store) GetIdentityByEmail(ctx context.Context, orgID, email string) (store.Identity, error) {
	var row identityRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM identities WHERE default_org_id = NULLIF($1, '') AND email = $2`, orgID, strings.ToLower(email))
	if err == sql.ErrNoRows {
		return store.Identity{}, apperr.New(apperr.KindUserNotFound, "email %s", email)
	}
	if err != nil {
		return store.Identity{}, apperr.Wrap(err, apperr.KindDatabase, "get identity by email")
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, updater func(store.Identity) (store.Identity, error)) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row identityRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM identities WHERE id = $1 FOR UPDATE`, id); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.KindNotFound, "identity %s", id)
			}
			return apperr.Wrap(err, apperr.KindDatabase, "lock identity")
		}
		updated, err := updater(row.toDomain())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE identities SET default_org_id = NULLIF($2, ''), email = $3, email_verified = $4,
				phone = $5, password_hash = $6, platform_admin = $7, mfa_enabled = $8, mfa_secret = $9,
				active = $10, locked_until = $11, updated_at = $12 WHERE id = $1`,
			id, updated.DefaultOrgID, strings.ToLower(updated.Email), updated.EmailVerified, updated.Phone,
			updated.PasswordHash, updated.PlatformAdmin, updated.MFAEnabled, updated.MFASecret,
			updated.Active, nullTime(updated.LockedUntil), updated.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "update identity")
		}
		return nil
	})
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "delete identity")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "identity %s", id)
	}
	return nil
}

type applicationRow struct {
	ID                string         `db:"id"`
	OrgID             sql.NullString `db:"org_id"`
	ClientID          string         `db:"client_id"`
	ClientSecretHash  string         `db:"client_secret_hash"`
	Type              string         `db:"type"`
	RedirectURIs      pq.StringArray `db:"redirect_uris"`
	PostLogoutURIs    pq.StringArray `db:"post_logout_uris"`
	AllowedWebOrigins pq.StringArray `db:"allowed_web_origins"`
	AllowedGrantTypes pq.StringArray `db:"allowed_grant_types"`
	AllowedScopes     pq.StringArray `db:"allowed_scopes"`
	AccessTokenTTL    int64          `db:"access_token_ttl_seconds"`
	RefreshTokenTTL   int64          `db:"refresh_token_ttl_seconds"`
	IDTokenTTL        int64          `db:"id_token_ttl_seconds"`
	Enabled           bool           `db:"enabled"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r applicationRow) toDomain() store.Application {
	return store.Application{
		ID:                r.ID,
		OrgID:             r.OrgID.String,
		ClientID:          r.ClientID,
		ClientSecretHash:  r.ClientSecretHash,
		Type:              store.ApplicationType(r.Type),
		RedirectURIs:      []string(r.RedirectURIs),
		PostLogoutURIs:    []string(r.PostLogoutURIs),
		AllowedWebOrigins: []string(r.AllowedWebOrigins),
		AllowedGrantTypes: []string(r.AllowedGrantTypes),
		AllowedScopes:     []string(r.AllowedScopes),
		AccessTokenTTL:    time.Duration(r.AccessTokenTTL) * time.Second,
		RefreshTokenTTL:   time.Duration(r.RefreshTokenTTL) * time.Second,
		IDTokenTTL:        time.Duration(r.IDTokenTTL) * time.Second,
		Enabled:           r.Enabled,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (s *Store) CreateApplication(ctx context.Context, a store.Application) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (id, org_id, client_id, client_secret_hash, type, redirect_uris,
			post_logout_uris, allowed_web_origins, allowed_grant_types, allowed_scopes,
			access_token_ttl_seconds, refresh_token_ttl_seconds, id_token_ttl_seconds, enabled, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.OrgID, a.ClientID, a.ClientSecretHash, string(a.Type),
		pq.StringArray(a.RedirectURIs), pq.StringArray(a.PostLogoutURIs), pq.StringArray(a.AllowedWebOrigins),
		pq.StringArray(a.AllowedGrantTypes), pq.StringArray(a.AllowedScopes),
		int64(a.AccessTokenTTL/time.Second), int64(a.RefreshTokenTTL/time.Second), int64(a.IDTokenTTL/time.Second),
		a.Enabled, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindAlreadyExists, "application %s", a.ID)
		}
		return apperr.Wrap(err, apperr.KindDatabase, "create application")
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (store.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM applications WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return store.Application{}, apperr.New(apperr.KindNotFound, "application %s", id)
	}
	if err != nil {
		return store.Application{}, apperr.Wrap(err, apperr.KindDatabase, "get application")
	}
	return row.toDomain(), nil
}

func (s *Store) GetApplicationByClientID(ctx context.Context, clientID string) (store.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM applications WHERE client_id = $1`, clientID)
	if err == sql.ErrNoRows {
		return store.Application{}, apperr.New(apperr.KindNotFound, "client_id %s", clientID)
	}
	if err != nil {
		return store.Application{}, apperr.Wrap(err, apperr.KindDatabase, "get application by client id")
	}
	return row.toDomain(), nil
}

func (s *Store) ListApplications(ctx context.Context, orgID string) ([]store.Application, error) {
	var rows []applicationRow
	var err error
	if orgID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM applications ORDER BY client_id`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM applications WHERE org_id = $1 ORDER BY client_id`, orgID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "list applications")
	}
	out := make([]store.Application, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) UpdateApplication(ctx context.Context, id string, updater func(store.Application) (store.Application, error)) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row applicationRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM applications WHERE id = $1 FOR UPDATE`, id); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.KindNotFound, "application %s", id)
			}
			return apperr.Wrap(err, apperr.KindDatabase, "lock application")
		}
		updated, err := updater(row.toDomain())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE applications SET client_secret_hash = $2, redirect_uris = $3, post_logout_uris = $4,
				allowed_web_origins = $5, allowed_grant_types = $6, allowed_scopes = $7,
				access_token_ttl_seconds = $8, refresh_token_ttl_seconds = $9, id_token_ttl_seconds = $10,
				enabled = $11, updated_at = $12 WHERE id = $1`,
			id, updated.ClientSecretHash, pq.StringArray(updated.RedirectURIs), pq.StringArray(updated.PostLogoutURIs),
			pq.StringArray(updated.AllowedWebOrigins), pq.StringArray(updated.AllowedGrantTypes), pq.StringArray(updated.AllowedScopes),
			int64(updated.AccessTokenTTL/time.Second), int64(updated.RefreshTokenTTL/time.Second), int64(updated.IDTokenTTL/time.Second),
			updated.Enabled, updated.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "update application")
		}
		return nil
	})
}

func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "delete application")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "application %s", id)
	}
	return nil
}

func withTx(ctx context.Context, db *sqlx.DB, f func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "begin transaction")
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "commit transaction")
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
