package sql

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/store"
)

type authRequestRow struct {
	ID                  string         `db:"id"`
	ClientID            string         `db:"client_id"`
	RedirectURI         string         `db:"redirect_uri"`
	Scopes              pq.StringArray `db:"scopes"`
	State               string         `db:"state"`
	Nonce               string         `db:"nonce"`
	ResponseType        string         `db:"response_type"`
	CodeChallenge       string         `db:"code_challenge"`
	CodeChallengeMethod string         `db:"code_challenge_method"`
	ConnectorID         string         `db:"connector_id"`
	LoggedIn            bool           `db:"logged_in"`
	UserID              sql.NullString `db:"user_id"`
	Expiry              time.Time      `db:"expiry"`
	CreatedAt           time.Time      `db:"created_at"`
}

func (r authRequestRow) toDomain() store.AuthRequest {
	return store.AuthRequest{
		ID: r.ID, ClientID: r.ClientID, RedirectURI: r.RedirectURI, Scopes: []string(r.Scopes),
		State: r.State, Nonce: r.Nonce, ResponseType: r.ResponseType,
		PKCE:      store.PKCEChallenge{CodeChallenge: r.CodeChallenge, CodeChallengeMethod: r.CodeChallengeMethod},
		ConnectorID: r.ConnectorID,
		LoggedIn:  r.LoggedIn, UserID: r.UserID.String, Expiry: r.Expiry, CreatedAt: r.CreatedAt,
	}
}

func (s *Store) CreateAuthRequest(ctx context.Context, r store.AuthRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_requests (id, client_id, redirect_uri, scopes, state, nonce, response_type,
			code_challenge, code_challenge_method, connector_id, logged_in, user_id, expiry, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14)`,
		r.ID, r.ClientID, r.RedirectURI, pq.StringArray(r.Scopes), r.State, r.Nonce, r.ResponseType,
		r.PKCE.CodeChallenge, r.PKCE.CodeChallengeMethod, r.ConnectorID, r.LoggedIn, r.UserID, r.Expiry, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindAlreadyExists, "auth request %s", r.ID)
		}
		return apperr.Wrap(err, apperr.KindDatabase, "create auth request")
	}
	return nil
}

func (s *Store) GetAuthRequest(ctx context.Context, id string) (store.AuthRequest, error) {
	var row authRequestRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM auth_requests WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return store.AuthRequest{}, apperr.New(apperr.KindNotFound, "auth request %s", id)
	}
	if err != nil {
		return store.AuthRequest{}, apperr.Wrap(err, apperr.KindDatabase, "get auth request")
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateAuthRequest(ctx context.Context, id string, updater func(store.AuthRequest) (store.AuthRequest, error)) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row authRequestRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM auth_requests WHERE id = $1 FOR UPDATE`, id); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.KindNotFound, "auth request %s", id)
			}
			return apperr.Wrap(err, apperr.KindDatabase, "lock auth request")
		}
		updated, err := updater(row.toDomain())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE auth_requests SET logged_in = $2, user_id = NULLIF($3, '') WHERE id = $1`,
			id, updated.LoggedIn, updated.UserID)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "update auth request")
		}
		return nil
	})
}

func (s *Store) DeleteAuthRequest(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_requests WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "delete auth request")
	}
	return nil
}

type authCodeRow struct {
	Hash                string         `db:"hash"`
	ClientID            string         `db:"client_id"`
	RedirectURI         string         `db:"redirect_uri"`
	UserID              string         `db:"user_id"`
	Scopes              pq.StringArray `db:"scopes"`
	Nonce               string         `db:"nonce"`
	CodeChallenge       string         `db:"code_challenge"`
	CodeChallengeMethod string         `db:"code_challenge_method"`
	Expiry              time.Time      `db:"expiry"`
	UsedAt              sql.NullTime   `db:"used_at"`
	CreatedAt           time.Time      `db:"created_at"`
}

func (r authCodeRow) toDomain() store.AuthCode {
	return store.AuthCode{
		Hash: r.Hash, ClientID: r.ClientID, RedirectURI: r.RedirectURI, UserID: r.UserID,
		Scopes: []string(r.Scopes), Nonce: r.Nonce,
		PKCE:   store.PKCEChallenge{CodeChallenge: r.CodeChallenge, CodeChallengeMethod: r.CodeChallengeMethod},
		Expiry: r.Expiry, UsedAt: r.UsedAt.Time, CreatedAt: r.CreatedAt,
	}
}

func (s *Store) CreateAuthCode(ctx context.Context, c store.AuthCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_codes (hash, client_id, redirect_uri, user_id, scopes, nonce,
			code_challenge, code_challenge_method, expiry, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.Hash, c.ClientID, c.RedirectURI, c.UserID, pq.StringArray(c.Scopes), c.Nonce,
		c.PKCE.CodeChallenge, c.PKCE.CodeChallengeMethod, c.Expiry, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindAlreadyExists, "auth code")
		}
		return apperr.Wrap(err, apperr.KindDatabase, "create auth code")
	}
	return nil
}

func (s *Store) GetAuthCode(ctx context.Context, hash string) (store.AuthCode, error) {
	var row authCodeRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM auth_codes WHERE hash = $1`, hash)
	if err == sql.ErrNoRows {
		return store.AuthCode{}, apperr.New(apperr.KindNotFound, "auth code")
	}
	if err != nil {
		return store.AuthCode{}, apperr.Wrap(err, apperr.KindDatabase, "get auth code")
	}
	return row.toDomain(), nil
}

// RedeemAuthCode relies on Postgres row-level locking and the UPDATE ...
// WHERE used_at IS NULL guard to make the CAS atomic without a client-side
// transaction: the database itself serializes concurrent redemptions of the
// same code.
func (s *Store) RedeemAuthCode(ctx context.Context, hash string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE auth_codes SET used_at = $2 WHERE hash = $1 AND used_at IS NULL`, hash, at)
	if err != nil {
		return false, apperr.Wrap(err, apperr.KindDatabase, "redeem auth code")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(err, apperr.KindDatabase, "redeem auth code rows affected")
	}
	return n == 1, nil
}

func (s *Store) DeleteAuthCode(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_codes WHERE hash = $1`, hash)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "delete auth code")
	}
	return nil
}

type refreshTokenRow struct {
	Hash      string         `db:"hash"`
	FamilyID  string         `db:"family_id"`
	ParentID  string         `db:"parent_id"`
	ClientID  string         `db:"client_id"`
	UserID    string         `db:"user_id"`
	Scopes    pq.StringArray `db:"scopes"`
	ExpiresAt time.Time      `db:"expires_at"`
	UsedAt    sql.NullTime   `db:"used_at"`
	RevokedAt sql.NullTime   `db:"revoked_at"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r refreshTokenRow) toDomain() store.RefreshToken {
	return store.RefreshToken{
		Hash: r.Hash, FamilyID: r.FamilyID, ParentID: r.ParentID, ClientID: r.ClientID, UserID: r.UserID,
		Scopes: []string(r.Scopes), ExpiresAt: r.ExpiresAt, UsedAt: r.UsedAt.Time, RevokedAt: r.RevokedAt.Time,
		CreatedAt: r.CreatedAt,
	}
}

func (s *Store) CreateRefreshToken(ctx context.Context, r store.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (hash, family_id, parent_id, client_id, user_id, scopes, expires_at, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		r.Hash, r.FamilyID, r.ParentID, r.ClientID, r.UserID, pq.StringArray(r.Scopes), r.ExpiresAt, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindAlreadyExists, "refresh token")
		}
		return apperr.Wrap(err, apperr.KindDatabase, "create refresh token")
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, hash string) (store.RefreshToken, error) {
	var row refreshTokenRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM refresh_tokens WHERE hash = $1`, hash)
	if err == sql.ErrNoRows {
		return store.RefreshToken{}, apperr.New(apperr.KindNotFound, "refresh token")
	}
	if err != nil {
		return store.RefreshToken{}, apperr.Wrap(err, apperr.KindDatabase, "get refresh token")
	}
	return row.toDomain(), nil
}

// RotateRefreshToken marks hash used and inserts next in a single
// transaction. The UPDATE ... WHERE used_at IS NULL AND revoked_at IS NULL
// guard is the reuse-detection CAS: a concurrent rotation or a replayed
// already-used token both fail with ok=false, leaving the caller to revoke
// the family.
func (s *Store) RotateRefreshToken(ctx context.Context, hash string, at time.Time, next store.RefreshToken) (bool, error) {
	var ok bool
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE refresh_tokens SET used_at = $2 WHERE hash = $1 AND used_at IS NULL AND revoked_at IS NULL`, hash, at)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "mark refresh token used")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "rotate refresh token rows affected")
		}
		if n == 0 {
			ok = false
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO refresh_tokens (hash, family_id, parent_id, client_id, user_id, scopes, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			next.Hash, next.FamilyID, next.ParentID, next.ClientID, next.UserID, pq.StringArray(next.Scopes), next.ExpiresAt, next.CreatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "insert rotated refresh token")
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Store) RevokeRefreshTokenFamily(ctx context.Context, familyID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked_at = $2 WHERE family_id = $1 AND revoked_at IS NULL`, familyID, at)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "revoke refresh token family")
	}
	return nil
}

type signingKeyRow struct {
	KID           string       `db:"kid"`
	Algorithm     string       `db:"algorithm"`
	PrivateKeyPEM []byte       `db:"private_key_pem"`
	Status        string       `db:"status"`
	CreatedAt     time.Time    `db:"created_at"`
	ActivatedAt   sql.NullTime `db:"activated_at"`
	RetiredAt     sql.NullTime `db:"retired_at"`
}

func (r signingKeyRow) toDomain() store.SigningKey {
	return store.SigningKey{
		KID: r.KID, Algorithm: r.Algorithm, PrivateKeyPEM: r.PrivateKeyPEM,
		Status: store.SigningKeyStatus(r.Status), CreatedAt: r.CreatedAt,
		ActivatedAt: r.ActivatedAt.Time, RetiredAt: r.RetiredAt.Time,
	}
}

func (s *Store) UpsertSigningKey(ctx context.Context, k store.SigningKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_keys (kid, algorithm, private_key_pem, status, created_at, activated_at, retired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kid) DO UPDATE SET status = EXCLUDED.status, activated_at = EXCLUDED.activated_at, retired_at = EXCLUDED.retired_at`,
		k.KID, k.Algorithm, k.PrivateKeyPEM, string(k.Status), k.CreatedAt, nullTime(k.ActivatedAt), nullTime(k.RetiredAt))
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "upsert signing key")
	}
	return nil
}

func (s *Store) GetSigningKey(ctx context.Context, kid string) (store.SigningKey, error) {
	var row signingKeyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM signing_keys WHERE kid = $1`, kid)
	if err == sql.ErrNoRows {
		return store.SigningKey{}, apperr.New(apperr.KindNotFound, "signing key %s", kid)
	}
	if err != nil {
		return store.SigningKey{}, apperr.Wrap(err, apperr.KindDatabase, "get signing key")
	}
	return row.toDomain(), nil
}

func (s *Store) ListSigningKeys(ctx context.Context) ([]store.SigningKey, error) {
	var rows []signingKeyRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM signing_keys ORDER BY created_at`)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDatabase, "list signing keys")
	}
	out := make([]store.SigningKey, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) UpdateSigningKey(ctx context.Context, kid string, updater func(store.SigningKey) (store.SigningKey, error)) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var row signingKeyRow
		if err := tx.GetContext(ctx, &row, `SELECT * FROM signing_keys WHERE kid = $1 FOR UPDATE`, kid); err != nil {
			if err == sql.ErrNoRows {
				return apperr.New(apperr.KindNotFound, "signing key %s", kid)
			}
			return apperr.Wrap(err, apperr.KindDatabase, "lock signing key")
		}
		updated, err := updater(row.toDomain())
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE signing_keys SET status = $2, activated_at = $3, retired_at = $4 WHERE kid = $1`,
			kid, string(updated.Status), nullTime(updated.ActivatedAt), nullTime(updated.RetiredAt))
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "update signing key")
		}
		return nil
	})
}

func (s *Store) GetConsent(ctx context.Context, userID, clientID string) (store.Consent, error) {
	var row struct {
		UserID    string         `db:"user_id"`
		ClientID  string         `db:"client_id"`
		Scopes    pq.StringArray `db:"scopes"`
		GrantedAt time.Time      `db:"granted_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM consents WHERE user_id = $1 AND client_id = $2`, userID, clientID)
	if err == sql.ErrNoRows {
		return store.Consent{}, apperr.New(apperr.KindNotFound, "consent")
	}
	if err != nil {
		return store.Consent{}, apperr.Wrap(err, apperr.KindDatabase, "get consent")
	}
	return store.Consent{UserID: row.UserID, ClientID: row.ClientID, Scopes: []string(row.Scopes), GrantedAt: row.GrantedAt}, nil
}

func (s *Store) PutConsent(ctx context.Context, c store.Consent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consents (user_id, client_id, scopes, granted_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, client_id) DO UPDATE SET scopes = EXCLUDED.scopes, granted_at = EXCLUDED.granted_at`,
		c.UserID, c.ClientID, pq.StringArray(c.Scopes), c.GrantedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "put consent")
	}
	return nil
}

func (s *Store) GarbageCollect(ctx context.Context, now time.Time) (store.GCResult, error) {
	var result store.GCResult
	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM auth_requests WHERE expiry < $1`, now)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "gc auth requests")
		}
		result.AuthRequests, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM auth_codes WHERE expiry < $1`, now)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "gc auth codes")
		}
		result.AuthCodes, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDatabase, "gc refresh tokens")
		}
		result.RefreshTokens, _ = res.RowsAffected()
		return nil
	})
	return result, err
}
