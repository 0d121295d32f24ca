package as

import (
	"context"
	"crypto/rsa"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/primitives"
)

// IDTokenClaims is the OIDC Core 1.0 id_token shape this server issues.
// Audience is always the single client_id the token was minted for, per
// spec.md's resolution of Open Question (c): multi-audience id_tokens are
// not supported.
type IDTokenClaims struct {
	jwt.Claims
	Nonce         string `json:"nonce,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	OrgID         string `json:"org_id,omitempty"`
	AuthTime      int64  `json:"auth_time,omitempty"`
	ACR           string `json:"acr,omitempty"`
}

// AccessTokenClaims is the JWT access token shape. Access tokens carry
// scope and org_id so a resource server or the AZ engine can authorize a
// request without a round trip to introspection, but they are opaque to
// the bearer: nothing here is meant to be parsed client-side.
type AccessTokenClaims struct {
	jwt.Claims
	Scope string `json:"scope,omitempty"`
	OrgID string `json:"org_id,omitempty"`
}

// Signer signs and verifies AS-issued JWTs against the KeyRing's rotation
// state, grounded on the teacher's signer.Signer (Sign/GetKeySet) but
// generalized to go-jose/v4's jwt subpackage and to a multi-key JWKS that
// includes rotating (not just active) keys.
type Signer struct {
	keys *KeyRing
}

func NewSigner(keys *KeyRing) *Signer {
	return &Signer{keys: keys}
}

func (s *Signer) signerFor(k signingMaterial) (jose.Signer, error) {
	priv, err := primitives.DecodeRSAPrivateKeyPEM(k.PrivateKeyPEM)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "decode signing key")
	}
	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", k.KID)
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: priv}, opts)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "build jose signer")
	}
	return sig, nil
}

type signingMaterial struct {
	KID           string
	PrivateKeyPEM []byte
}

// SignAccessToken issues a signed access token JWT valid for ttl.
func (s *Signer) SignAccessToken(ctx context.Context, issuer, subject, clientID, scope, orgID string, ttl time.Duration, now time.Time) (string, error) {
	active, err := s.keys.ActiveKey(ctx)
	if err != nil {
		return "", err
	}
	sig, err := s.signerFor(signingMaterial{KID: active.KID, PrivateKeyPEM: active.PrivateKeyPEM})
	if err != nil {
		return "", err
	}
	claims := AccessTokenClaims{
		Claims: jwt.Claims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.Audience{clientID},
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        newJTI(),
		},
		Scope: scope,
		OrgID: orgID,
	}
	tok, err := jwt.Signed(sig).Claims(claims).Serialize()
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindInternal, "sign access token")
	}
	return tok, nil
}

// SignIDToken issues a signed id_token JWT valid for ttl.
func (s *Signer) SignIDToken(ctx context.Context, issuer, subject, clientID, nonce, email, orgID string, emailVerified bool, authTime time.Time, ttl time.Duration, now time.Time) (string, error) {
	active, err := s.keys.ActiveKey(ctx)
	if err != nil {
		return "", err
	}
	sig, err := s.signerFor(signingMaterial{KID: active.KID, PrivateKeyPEM: active.PrivateKeyPEM})
	if err != nil {
		return "", err
	}
	claims := IDTokenClaims{
		Claims: jwt.Claims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.Audience{clientID},
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        newJTI(),
		},
		Nonce:         nonce,
		Email:         email,
		EmailVerified: emailVerified,
		OrgID:         orgID,
		AuthTime:      authTime.Unix(),
		ACR:           "urn:coreauth:acr:password",
	}
	tok, err := jwt.Signed(sig).Claims(claims).Serialize()
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindInternal, "sign id token")
	}
	return tok, nil
}

// JWKS renders every non-retired signing key's public half for the JWKS
// discovery document.
func (s *Signer) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	keys, err := s.keys.JWKS(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	set := jose.JSONWebKeySet{}
	for _, k := range keys {
		priv, err := primitives.DecodeRSAPrivateKeyPEM(k.PrivateKeyPEM)
		if err != nil {
			return jose.JSONWebKeySet{}, apperr.Wrap(err, apperr.KindInternal, "decode signing key %s", k.KID)
		}
		set.Keys = append(set.Keys, publicJWK(k.KID, k.Algorithm, priv))
	}
	return set, nil
}

// VerifyAccessToken parses and verifies a presented access token against
// whichever registered signing key (active or rotating) its kid names,
// then checks expiry against now.
func (s *Signer) VerifyAccessToken(ctx context.Context, raw string, now time.Time) (AccessTokenClaims, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return AccessTokenClaims{}, apperr.New(apperr.KindInvalidToken, "malformed token")
	}
	if len(tok.Headers) == 0 {
		return AccessTokenClaims{}, apperr.New(apperr.KindInvalidToken, "missing jws header")
	}
	kid := tok.Headers[0].KeyID

	keys, err := s.keys.JWKS(ctx)
	if err != nil {
		return AccessTokenClaims{}, err
	}
	var priv *rsa.PrivateKey
	for _, k := range keys {
		if k.KID == kid {
			priv, err = primitives.DecodeRSAPrivateKeyPEM(k.PrivateKeyPEM)
			if err != nil {
				return AccessTokenClaims{}, apperr.Wrap(err, apperr.KindInternal, "decode signing key")
			}
			break
		}
	}
	if priv == nil {
		return AccessTokenClaims{}, apperr.New(apperr.KindInvalidToken, "unknown signing key")
	}

	var claims AccessTokenClaims
	if err := tok.Claims(&priv.PublicKey, &claims); err != nil {
		return AccessTokenClaims{}, apperr.New(apperr.KindInvalidToken, "signature verification failed")
	}
	if err := claims.Claims.ValidateWithLeeway(jwt.Expected{Time: now}, 0); err != nil {
		return AccessTokenClaims{}, apperr.New(apperr.KindTokenExpired, "token expired or not yet valid")
	}
	return claims, nil
}

func publicJWK(kid, algorithm string, priv *rsa.PrivateKey) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       &priv.PublicKey,
		KeyID:     kid,
		Algorithm: algorithm,
		Use:       "sig",
	}
}

func newJTI() string { return uuid.NewString() }
