package az_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/az"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
	"github.com/coreauth/coreauth/internal/store/memory"
)

func newTestEngine(opts ...az.Option) (*az.Engine, *memory.TupleStore) {
	tuples := memory.NewTupleStore()
	cache := memory.NewCache()
	clock := primitives.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return az.New(tuples, cache, clock, logger, opts...), tuples
}

func tuple(tenant, ns, obj, rel string, st store.SubjectType, subj string) store.Tuple {
	return store.Tuple{TenantID: tenant, Namespace: ns, ObjectID: obj, Relation: rel, SubjectType: st, SubjectID: subj}
}

// TestDirectTupleGrantsCheck covers the base case: a direct tuple grants the
// exact relation requested.
func TestDirectTupleGrantsCheck(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()
	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "doc", "d1", "viewer", store.SubjectUser, "alice")))

	res, err := e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"})
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "bob"})
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

// TestGroupIndirectionGrantsCheck exercises spec scenario 4: a user who is a
// member of a group that itself holds the relation is granted access even
// though no tuple names the user directly.
func TestGroupIndirectionGrantsCheck(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()
	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "group", "eng", "member", store.SubjectUser, "alice")))
	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "doc", "d1", "viewer", store.SubjectGroup, "eng")))

	res, err := e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"})
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

// TestUsersetExpansionGrantsCheck covers a tuple granting the relation to a
// userset reference (doc:f1#member as viewer of doc:d1).
func TestUsersetExpansionGrantsCheck(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()
	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "doc", "f1", "member", store.SubjectUser, "alice")))
	grant := tuple("t1", "doc", "d1", "viewer", store.SubjectUserset, "f1")
	grant.SubjectRelation = "member"
	require.NoError(t, e.WriteTuple(ctx, grant))

	res, err := e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"})
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

// TestCheckIsCycleSafe builds a group membership cycle (eng -> mgmt -> eng)
// and a userset reference cycle (doc:d1#viewer <-> doc:d2#viewer, which
// the check of doc:d1#viewer walks) and asserts Check terminates and
// returns false rather than looping forever.
func TestCheckIsCycleSafe(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()
	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "group", "eng", "member", store.SubjectGroup, "mgmt")))
	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "group", "mgmt", "member", store.SubjectGroup, "eng")))
	loopA := tuple("t1", "doc", "d1", "viewer", store.SubjectUserset, "d2")
	loopA.SubjectRelation = "viewer"
	require.NoError(t, e.WriteTuple(ctx, loopA))
	loopB := tuple("t1", "doc", "d2", "viewer", store.SubjectUserset, "d1")
	loopB.SubjectRelation = "viewer"
	require.NoError(t, e.WriteTuple(ctx, loopB))

	done := make(chan struct{})
	var res az.CheckResult
	var err error
	go func() {
		res, err = e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice", BypassCache: true})
		close(done)
	}()
	select {
	case <-done:
		require.NoError(t, err)
		require.False(t, res.Allowed)
	case <-time.After(2 * time.Second):
		t.Fatal("check did not terminate on a membership cycle")
	}
}

// TestCacheServesRepeatedCheck asserts a second identical Check is answered
// from cache: it reports the "from-cache" reason.
func TestCacheServesRepeatedCheck(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()
	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "doc", "d1", "viewer", store.SubjectUser, "alice")))

	res, err := e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"})
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"})
	require.NoError(t, err)
	require.Equal(t, "from-cache", res.Reason)
}

// TestWriteTupleInvalidatesCache asserts writing a new tuple for an
// object/namespace invalidates previously cached denies for that object.
func TestWriteTupleInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()

	res, err := e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"})
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "doc", "d1", "viewer", store.SubjectUser, "alice")))

	res, err = e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.NotEqual(t, "from-cache", res.Reason)
}

// TestCELRewriteGrantsViaRelationHierarchy registers an authorization model
// declaring that "editor" implies "viewer" through a CEL rewrite, and checks
// that a user holding only "editor" is granted "viewer".
func TestCELRewriteGrantsViaRelationHierarchy(t *testing.T) {
	ctx := context.Background()
	model := az.AuthorizationModel{
		StoreID: "store1",
		Namespaces: map[string]az.NamespaceModel{
			"doc": {Relations: map[string]az.RelationModel{
				"viewer": {Rewrite: `has_relation("editor")`},
			}},
		},
	}
	e, _ := newTestEngine(az.WithModel(model))
	ctx = az.WithStoreID(ctx, "store1")

	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "doc", "d1", "editor", store.SubjectUser, "alice")))

	res, err := e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"})
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

// TestCELRewriteViaRecursesIntoAnotherObject exercises the via() builtin,
// which checks a relation against a different object entirely.
func TestCELRewriteViaRecursesIntoAnotherObject(t *testing.T) {
	ctx := context.Background()
	model := az.AuthorizationModel{
		StoreID: "store1",
		Namespaces: map[string]az.NamespaceModel{
			"doc": {Relations: map[string]az.RelationModel{
				"viewer": {Rewrite: `via("folder", "f1", "viewer")`},
			}},
		},
	}
	e, _ := newTestEngine(az.WithModel(model))
	ctx = az.WithStoreID(ctx, "store1")

	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "folder", "f1", "viewer", store.SubjectUser, "alice")))

	res, err := e.Check(ctx, az.CheckRequest{TenantID: "t1", Namespace: "doc", ObjectID: "d1", Relation: "viewer", SubjectType: store.SubjectUser, SubjectID: "alice"})
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

// TestExpandReturnsDirectSubjectsNonRecursively asserts Expand lists direct
// and userset subjects but does not itself flatten userset membership.
func TestExpandReturnsDirectSubjectsNonRecursively(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine()
	require.NoError(t, e.WriteTuple(ctx, tuple("t1", "doc", "d1", "viewer", store.SubjectUser, "alice")))
	grant := tuple("t1", "doc", "d1", "viewer", store.SubjectUserset, "f1")
	grant.SubjectRelation = "member"
	require.NoError(t, e.WriteTuple(ctx, grant))

	subjects, err := e.Expand(ctx, "t1", "doc", "d1", "viewer")
	require.NoError(t, err)
	require.Len(t, subjects, 2)
}

func TestAPIKeyAuthenticateRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := primitives.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	keys := az.NewMemoryAPIKeyStore()
	plaintext, record := az.NewAPIKey("store1", "ci key", clock)
	require.NoError(t, keys.Create(ctx, record))

	k, err := az.Authenticate(ctx, keys, plaintext)
	require.NoError(t, err)
	require.Equal(t, "store1", k.StoreID)

	_, err = az.Authenticate(ctx, keys, "czk_not-a-real-key")
	require.Error(t, err)

	require.NoError(t, keys.Revoke(ctx, record.Hash, clock.Now()))
	_, err = az.Authenticate(ctx, keys, plaintext)
	require.Error(t, err)
}
