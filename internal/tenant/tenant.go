// Package tenant implements the Tenant/Organization hierarchy: materialized
// path maintenance, pool/silo isolation mode, and the invariant that every
// authenticating identity belongs to exactly one of {a default org, the
// platform admin flag}.
package tenant

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
)

// Service is the tenant hierarchy manager. It is the only writer of
// HierarchyPath/HierarchyLevel; callers never set those fields directly.
type Service struct {
	store  store.Store
	clock  primitives.Clock
	logger *slog.Logger
}

func New(st store.Store, clock primitives.Clock, logger *slog.Logger) *Service {
	return &Service{store: st, clock: clock, logger: logger}
}

// CreateRoot creates a top-level tenant with hierarchy_level 0 and a path
// equal to its own slug.
func (s *Service) CreateRoot(ctx context.Context, slug, name string, mode store.IsolationMode) (store.Tenant, error) {
	if err := validateSlug(slug); err != nil {
		return store.Tenant{}, err
	}
	now := s.clock.Now()
	t := store.Tenant{
		ID:             primitives.NewID(16),
		Slug:           slug,
		Name:           name,
		HierarchyPath:  slug,
		HierarchyLevel: 0,
		IsolationMode:  mode,
		Settings:       store.TenantSettings{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return store.Tenant{}, err
	}
	return t, nil
}

// CreateChild creates a tenant nested under parentID, computing its
// hierarchy path and level from the parent's.
func (s *Service) CreateChild(ctx context.Context, parentID, slug, name string, mode store.IsolationMode) (store.Tenant, error) {
	if err := validateSlug(slug); err != nil {
		return store.Tenant{}, err
	}
	parent, err := s.store.GetTenant(ctx, parentID)
	if err != nil {
		return store.Tenant{}, err
	}
	now := s.clock.Now()
	t := store.Tenant{
		ID:             primitives.NewID(16),
		Slug:           slug,
		Name:           name,
		ParentID:       parentID,
		HierarchyPath:  parent.HierarchyPath + "/" + slug,
		HierarchyLevel: parent.HierarchyLevel + 1,
		IsolationMode:  mode,
		Settings:       store.TenantSettings{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return store.Tenant{}, err
	}
	return t, nil
}

// IsDescendant reports whether candidate's hierarchy path is at or under
// ancestor's, per the invariant that hierarchy_path is a prefix of every
// descendant's path.
func IsDescendant(ancestor, candidate store.Tenant) bool {
	if candidate.HierarchyPath == ancestor.HierarchyPath {
		return true
	}
	return strings.HasPrefix(candidate.HierarchyPath, ancestor.HierarchyPath+"/")
}

// UpdateSettings merges patch into the tenant's settings bag.
func (s *Service) UpdateSettings(ctx context.Context, id string, patch store.TenantSettings) error {
	return s.store.UpdateTenant(ctx, id, func(t store.Tenant) (store.Tenant, error) {
		if t.Settings == nil {
			t.Settings = store.TenantSettings{}
		}
		for k, v := range patch {
			t.Settings[k] = v
		}
		t.UpdatedAt = s.clock.Now()
		return t, nil
	})
}

// Delete cascades deletion to every descendant tenant and their owned
// identities/applications.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteTenantCascade(ctx, id)
}

func validateSlug(slug string) error {
	if slug == "" || strings.ContainsAny(slug, "/ \t\n") {
		return apperr.New(apperr.KindValidation, "slug must be non-empty and contain no slashes or whitespace")
	}
	return nil
}

// AssertSingleContext enforces the data-model invariant that an identity
// capable of authenticating has exactly one of {DefaultOrgID set,
// PlatformAdmin set}.
func AssertSingleContext(u store.Identity) error {
	hasOrg := u.DefaultOrgID != ""
	if hasOrg == u.PlatformAdmin {
		return apperr.New(apperr.KindValidation, "identity must have exactly one of default organization or platform-admin")
	}
	return nil
}
