package as

import (
	"context"
	"time"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
)

// IssueAuthCode mints a fresh authorization code and persists it hashed,
// binding the PKCE challenge supplied at /authorize time so the token
// endpoint can later verify the paired code_verifier.
func IssueAuthCode(ctx context.Context, st store.Store, clientID, redirectURI, userID string, scopes []string, nonce string, pkce store.PKCEChallenge, ttl time.Duration, now time.Time) (plaintext string, err error) {
	plaintext = primitives.NewToken(32)
	code := store.AuthCode{
		Hash:        primitives.HashToken(plaintext),
		ClientID:    clientID,
		RedirectURI: redirectURI,
		UserID:      userID,
		Scopes:      scopes,
		Nonce:       nonce,
		PKCE:        pkce,
		Expiry:      now.Add(ttl),
		CreatedAt:   now,
	}
	if err := st.CreateAuthCode(ctx, code); err != nil {
		return "", err
	}
	return plaintext, nil
}

// RedeemAuthCode validates and atomically single-uses an authorization
// code. A code that was already redeemed, has expired, or whose
// redirect_uri/code_verifier don't match what was bound at issuance is
// rejected under RFC 6749 §10.5: code replay is the canonical attack this
// exchange exists to prevent.
func RedeemAuthCode(ctx context.Context, st store.Store, plaintext, redirectURI, codeVerifier string, now time.Time) (store.AuthCode, error) {
	hash := primitives.HashToken(plaintext)
	code, err := st.GetAuthCode(ctx, hash)
	if err != nil {
		return store.AuthCode{}, apperr.New(apperr.KindInvalidToken, "invalid authorization code")
	}
	if !code.UsedAt.IsZero() {
		return store.AuthCode{}, apperr.New(apperr.KindInvalidToken, "authorization code already used")
	}
	if now.After(code.Expiry) {
		return store.AuthCode{}, apperr.New(apperr.KindTokenExpired, "authorization code expired")
	}
	if code.RedirectURI != redirectURI {
		return store.AuthCode{}, apperr.New(apperr.KindInvalidToken, "redirect_uri mismatch")
	}
	if code.PKCE.CodeChallenge != "" && !VerifyPKCE(codeVerifier, code.PKCE.CodeChallenge) {
		return store.AuthCode{}, apperr.New(apperr.KindInvalidToken, "code_verifier mismatch")
	}

	ok, err := st.RedeemAuthCode(ctx, hash, now)
	if err != nil {
		return store.AuthCode{}, err
	}
	if !ok {
		// Lost the race against a concurrent redemption of the same code.
		return store.AuthCode{}, apperr.New(apperr.KindInvalidToken, "authorization code already used")
	}
	return code, nil
}
