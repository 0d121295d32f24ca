package as

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/coreauth/coreauth/internal/apperr"
)

// PKCEMethod is a RFC 7636 code_challenge_method. Only S256 is accepted:
// "plain" lets a network observer who captures the authorization request
// replay the code without ever seeing a secret, defeating the point of
// PKCE, so the authorize endpoint rejects it outright.
type PKCEMethod string

const (
	PKCEMethodS256  PKCEMethod = "S256"
	PKCEMethodPlain PKCEMethod = "plain"
)

// ValidatePKCEMethod rejects anything but S256.
func ValidatePKCEMethod(m string) error {
	if PKCEMethod(m) != PKCEMethodS256 {
		return apperr.New(apperr.KindInvalidInput, "code_challenge_method must be S256")
	}
	return nil
}

// VerifyPKCE checks a presented code_verifier against the challenge stored
// at authorization time, per RFC 7636 §4.6: challenge == BASE64URL(SHA256(verifier)).
func VerifyPKCE(codeVerifier, storedChallenge string) bool {
	if codeVerifier == "" || storedChallenge == "" {
		return false
	}
	sum := sha256.Sum256([]byte(codeVerifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) == 1
}
