package memory

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedeemAuthCodeSecondAttemptFails(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()

	code := store.AuthCode{Hash: "abc", ClientID: "c1", Expiry: time.Now().Add(time.Minute)}
	require.NoError(t, s.CreateAuthCode(ctx, code))

	ok, err := s.RedeemAuthCode(ctx, "abc", time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.RedeemAuthCode(ctx, "abc", time.Now())
	require.NoError(t, err)
	require.False(t, ok, "second redemption of the same code must fail")
}

func TestRotateRefreshTokenDetectsReuse(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()

	root := store.RefreshToken{Hash: "root", FamilyID: "fam1", ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateRefreshToken(ctx, root))

	child := store.RefreshToken{Hash: "child", FamilyID: "fam1", ParentID: "root", ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour)}
	ok, err := s.RotateRefreshToken(ctx, "root", time.Now(), child)
	require.NoError(t, err)
	require.True(t, ok)

	// presenting "root" again (already used) must fail, signaling reuse.
	grandchild := store.RefreshToken{Hash: "grandchild", FamilyID: "fam1", ParentID: "root", ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour)}
	ok, err = s.RotateRefreshToken(ctx, "root", time.Now(), grandchild)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.RevokeRefreshTokenFamily(ctx, "fam1", time.Now()))
	r, err := s.GetRefreshToken(ctx, "child")
	require.NoError(t, err)
	require.False(t, r.RevokedAt.IsZero(), "every token in the family must be revoked")
}

func TestDeleteTenantCascadesToDescendants(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()

	require.NoError(t, s.CreateTenant(ctx, store.Tenant{ID: "root", Slug: "root"}))
	require.NoError(t, s.CreateTenant(ctx, store.Tenant{ID: "child", Slug: "child", ParentID: "root"}))
	require.NoError(t, s.CreateTenant(ctx, store.Tenant{ID: "grandchild", Slug: "grandchild", ParentID: "child"}))

	require.NoError(t, s.DeleteTenantCascade(ctx, "root"))

	for _, id := range []string{"root", "child", "grandchild"} {
		_, err := s.GetTenant(ctx, id)
		require.Error(t, err)
	}
}

func TestGarbageCollectRemovesExpiredOnly(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateAuthCode(ctx, store.AuthCode{Hash: "expired", Expiry: now.Add(-time.Minute)}))
	require.NoError(t, s.CreateAuthCode(ctx, store.AuthCode{Hash: "live", Expiry: now.Add(time.Minute)}))

	result, err := s.GarbageCollect(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.AuthCodes)

	_, err = s.GetAuthCode(ctx, "live")
	require.NoError(t, err)
	_, err = s.GetAuthCode(ctx, "expired")
	require.Error(t, err)
}
