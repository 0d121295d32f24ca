package tenant

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
	"github.com/coreauth/coreauth/internal/store/memory"
)

func newTestService() *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(memory.New(logger), primitives.FixedClock{T: time.Unix(0, 0)}, logger)
}

func TestChildTenantInheritsHierarchyPath(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	root, err := svc.CreateRoot(ctx, "acme", "Acme Corp", store.IsolationPool)
	require.NoError(t, err)
	require.Equal(t, 0, root.HierarchyLevel)
	require.Equal(t, "acme", root.HierarchyPath)

	child, err := svc.CreateChild(ctx, root.ID, "widgets", "Widgets Division", store.IsolationPool)
	require.NoError(t, err)
	require.Equal(t, 1, child.HierarchyLevel)
	require.Equal(t, "acme/widgets", child.HierarchyPath)

	require.True(t, IsDescendant(root, child))
	require.True(t, IsDescendant(root, root))
	require.False(t, IsDescendant(child, root))
}

func TestAssertSingleContext(t *testing.T) {
	require.NoError(t, AssertSingleContext(store.Identity{DefaultOrgID: "org1"}))
	require.NoError(t, AssertSingleContext(store.Identity{PlatformAdmin: true}))
	require.Error(t, AssertSingleContext(store.Identity{}))
	require.Error(t, AssertSingleContext(store.Identity{DefaultOrgID: "org1", PlatformAdmin: true}))
}

func TestCreateRootRejectsInvalidSlug(t *testing.T) {
	svc := newTestService()
	_, err := svc.CreateRoot(context.Background(), "has space", "Bad", store.IsolationPool)
	require.Error(t, err)
}
