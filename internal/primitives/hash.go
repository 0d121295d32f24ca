package primitives

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// HashToken returns the SHA-256 hex digest of an opaque random token
// (authorization codes, refresh tokens, API keys, verification tokens).
// These are high-entropy values, so a fast hash is appropriate: the spec's
// data model stores them hashed only so a database leak doesn't hand out
// live credentials, not to resist offline brute force of a human-chosen
// secret (that's what argon2id below is for).
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual reports whether a and b are equal using a constant-time
// comparison, so that early-exit timing doesn't leak how many leading bytes
// of a guessed secret were correct.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Argon2id parameters. Chosen to match the OWASP-recommended floor for
// interactive login (roughly 64 MiB memory, single pass) rather than a
// throughput-optimized profile; this is a login path, not a batch job.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// HashPassword derives an argon2id hash of pw, encoding the salt and
// parameters alongside the digest so verification doesn't need external
// configuration. The format is the common PHC-ish argon2id string used by
// most Go argon2id wrappers: $argon2id$v=19$m=...,t=...,p=...$salt$hash.
func HashPassword(pw string) (string, error) {
	salt := NewRawBytes(argon2SaltLen)
	digest := argon2.IDKey([]byte(pw), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		b64.EncodeToString(salt), b64.EncodeToString(digest)), nil
}

// VerifyPassword reports whether pw matches the argon2id hash produced by
// HashPassword. Comparison of the final digest is constant-time.
func VerifyPassword(encodedHash, pw string) (bool, error) {
	var version, memory, time uint32
	var threads uint8
	var saltB64, hashB64 string

	if _, err := fmt.Sscanf(encodedHash, "$argon2id$v=%d$m=%d,t=%d,p=%d$", &version, &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parse argon2id header: %w", err)
	}
	parts, err := splitHashFields(encodedHash)
	if err != nil {
		return false, err
	}
	saltB64, hashB64 = parts[0], parts[1]

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(saltB64)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := b64.DecodeString(hashB64)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(pw), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// VerifyPasswordAny verifies pw against encodedHash regardless of which
// scheme produced it. Accounts created before the argon2id migration carry
// a bcrypt hash ("$2a$", "$2b$", "$2y$" prefixes); new accounts get argon2id.
// This lets the identity store upgrade hashes lazily on next successful
// login rather than forcing a bulk rehash migration.
func VerifyPasswordAny(encodedHash, pw string) (bool, error) {
	if strings.HasPrefix(encodedHash, "$2a$") || strings.HasPrefix(encodedHash, "$2b$") || strings.HasPrefix(encodedHash, "$2y$") {
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(pw))
		if err != nil {
			if err == bcrypt.ErrMismatchedHashAndPassword {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
	return VerifyPassword(encodedHash, pw)
}

// splitHashFields extracts the trailing "$salt$hash" pair from an encoded
// argon2id string, independent of the exact parameter values in the header.
func splitHashFields(encoded string) ([2]string, error) {
	var fields [2]string
	n := 0
	start := len(encoded)
	for i := len(encoded) - 1; i >= 0 && n < 2; i-- {
		if encoded[i] == '$' {
			fields[1-n] = encoded[i+1 : start]
			start = i
			n++
		}
	}
	if n != 2 {
		return fields, fmt.Errorf("malformed argon2id hash")
	}
	return fields, nil
}
