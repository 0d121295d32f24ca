package as

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
)

// IssueRefreshToken mints a new refresh token family (used on the initial
// code exchange; rotation calls RotateRefreshToken instead).
func IssueRefreshToken(ctx context.Context, st store.Store, clientID, userID string, scopes []string, ttl time.Duration, now time.Time) (plaintext string, err error) {
	plaintext = primitives.NewToken(32)
	rt := store.RefreshToken{
		Hash:      primitives.HashToken(plaintext),
		FamilyID:  uuid.NewString(),
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: now.Add(ttl),
	}
	if err := st.CreateRefreshToken(ctx, rt); err != nil {
		return "", err
	}
	return plaintext, nil
}

// RotateRefreshToken exchanges a presented refresh token for a new one in
// the same family, per spec.md's rotate-on-use model. If the presented
// token was already used, every token in its family is revoked: reuse of a
// rotated-out refresh token is the signal a token was stolen and replayed
// (RFC 6749 §10.4), so the whole family — not just the reused token — is
// burned.
func RotateRefreshToken(ctx context.Context, st store.Store, logger *slog.Logger, plaintext string, ttl time.Duration, now time.Time) (newPlaintext string, rt store.RefreshToken, err error) {
	hash := primitives.HashToken(plaintext)
	current, err := st.GetRefreshToken(ctx, hash)
	if err != nil {
		return "", store.RefreshToken{}, apperr.New(apperr.KindInvalidToken, "invalid refresh token")
	}
	if now.After(current.ExpiresAt) {
		return "", store.RefreshToken{}, apperr.New(apperr.KindTokenExpired, "refresh token expired")
	}
	if !current.UsedAt.IsZero() {
		// Already rotated out once before. Presenting it again is reuse.
		if err := st.RevokeRefreshTokenFamily(ctx, current.FamilyID, now); err != nil {
			logger.Error("failed to revoke refresh token family after reuse", "family_id", current.FamilyID, "error", err)
		}
		return "", store.RefreshToken{}, apperr.New(apperr.KindInvalidToken, "refresh token reuse detected, session revoked")
	}

	newPlaintext = primitives.NewToken(32)
	next := store.RefreshToken{
		Hash:      primitives.HashToken(newPlaintext),
		FamilyID:  current.FamilyID,
		ParentID:  current.Hash,
		ClientID:  current.ClientID,
		UserID:    current.UserID,
		Scopes:    current.Scopes,
		ExpiresAt: now.Add(ttl),
	}

	ok, err := st.RotateRefreshToken(ctx, hash, now, next)
	if err != nil {
		return "", store.RefreshToken{}, err
	}
	if !ok {
		// Lost the race against a concurrent rotation of the same token:
		// treat identically to reuse, since from the client's perspective
		// it is indistinguishable from a stolen, already-rotated token.
		if err := st.RevokeRefreshTokenFamily(ctx, current.FamilyID, now); err != nil {
			logger.Error("failed to revoke refresh token family after rotation race", "family_id", current.FamilyID, "error", err)
		}
		return "", store.RefreshToken{}, apperr.New(apperr.KindInvalidToken, "refresh token reuse detected, session revoked")
	}
	return newPlaintext, next, nil
}
