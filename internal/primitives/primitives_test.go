package primitives

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIDAndTokenAreURLSafe(t *testing.T) {
	id := NewID(16)
	require.NotEmpty(t, id)
	for _, r := range id {
		require.True(t, r >= 'a' && r <= 'z' || r >= '2' && r <= '7')
	}

	tok := NewToken(32)
	require.NotContains(t, tok, "+")
	require.NotContains(t, tok, "/")
	require.NotContains(t, tok, "=")
}

func TestHashTokenIsDeterministic(t *testing.T) {
	h1 := HashToken("secret-code")
	h2 := HashToken("secret-code")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, HashToken("other-code"))
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, ConstantTimeEqual("abc", "abc"))
	require.False(t, ConstantTimeEqual("abc", "abd"))
	require.False(t, ConstantTimeEqual("abc", "abcd"))
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$")

	ok, err := VerifyPassword(hash, "correct horse battery staple")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword(hash, "wrong password")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyPasswordAnyFallsBackToBcrypt(t *testing.T) {
	// bcryptHash is a bcrypt hash of "password" at cost 4, used only to
	// exercise the legacy branch cheaply.
	const bcryptHash = "$2a$04$eR37P/3E1WWYw4Fxt13e0Oa1cI8jKDVLzrTT4zknA2eE9UQU/BbtO"
	ok, err := VerifyPasswordAny(bcryptHash, "password")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPasswordAny(bcryptHash, "wrong")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSealBoxOpenBoxRoundTrip(t *testing.T) {
	key := NewRawBytes(32)
	sealed, err := SealBox(key, []byte("session payload"))
	require.NoError(t, err)

	plain, err := OpenBox(key, sealed)
	require.NoError(t, err)
	require.Equal(t, "session payload", string(plain))
}

func TestOpenBoxRejectsTamperedCiphertext(t *testing.T) {
	key := NewRawBytes(32)
	sealed, err := SealBox(key, []byte("session payload"))
	require.NoError(t, err)

	tampered := []byte(sealed)
	tampered[len(tampered)-1] ^= 0x01
	_, err = OpenBox(key, string(tampered))
	require.Error(t, err)
}

func TestOpenBoxRejectsWrongKey(t *testing.T) {
	sealed, err := SealBox(NewRawBytes(32), []byte("session payload"))
	require.NoError(t, err)

	_, err = OpenBox(NewRawBytes(32), sealed)
	require.Error(t, err)
}

func TestRSAKeyRoundTripsThroughPEM(t *testing.T) {
	key, err := NewRSAKey()
	require.NoError(t, err)

	pemBytes, err := EncodeRSAPrivateKeyPEM(key)
	require.NoError(t, err)

	decoded, err := DecodeRSAPrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	require.Equal(t, key.D, decoded.D)
}

func TestOffsetClockAddsDuration(t *testing.T) {
	base := FixedClock{T: time.Unix(1000, 0)}
	off := OffsetClock{Base: base, Offset: 5 * time.Second}
	require.Equal(t, base.Now().Add(5*time.Second), off.Now())
}
