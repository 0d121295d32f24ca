package primitives

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"io"
	"strings"
)

// lowercase base32 alphabet, avoiding the need for padding in generated
// identifiers. Mirrors the alphabet the teacher's storage package uses for
// its entity IDs.
var idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// NewID returns a random, lowercase, URL-safe identifier suitable for
// tenant, user, application, and session IDs. n is the number of random
// bytes consumed, not the length of the returned string.
func NewID(n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return idEncoding.EncodeToString(buf)
}

// NewToken returns n random bytes base64url-no-pad encoded, used for
// authorization codes, refresh tokens, and API keys. The caller chooses n
// to satisfy the entropy floor the data model calls for (>=128 bits for
// codes, 256 bits for API keys).
func NewToken(n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// NewRawBytes returns n cryptographically secure random bytes.
func NewRawBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return buf
}

// NewState returns a random state/nonce value for OAuth2 and OIDC
// parameters where the wire format is an opaque string.
func NewState() string {
	return strings.TrimRight(NewToken(24), "=")
}
