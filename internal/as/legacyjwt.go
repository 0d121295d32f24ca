package as

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coreauth/coreauth/internal/apperr"
)

// LegacyVerifier verifies HS256 access tokens minted before a deployment
// migrated to the RS256 signing-key rotation scheme. It is gated entirely
// behind Config.LegacyJWTSecret: deployments that never ran the legacy
// issuer simply never construct one, and new tokens are never minted with
// it — RS256 via Signer is the only issuance path.
type LegacyVerifier struct {
	secret []byte
}

func NewLegacyVerifier(secret string) *LegacyVerifier {
	if secret == "" {
		return nil
	}
	return &LegacyVerifier{secret: []byte(secret)}
}

// Verify parses and validates a legacy HS256 token, returning its claims.
func (v *LegacyVerifier) Verify(tokenString string, now time.Time) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return now }))
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInvalidToken, "invalid legacy token")
	}
	return claims, nil
}
