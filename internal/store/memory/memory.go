// Package memory provides in-memory implementations of store.Store,
// store.TupleStore, and store.Cache, used by every internal package's tests
// and by single-process deployments that don't need Postgres/Redis.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is a mutex-protected, map-backed store.Store. All methods hold a
// single lock for their duration; this is a reference implementation for
// tests and small deployments, not a target for high write concurrency.
type Store struct {
	mu sync.Mutex

	tenants      map[string]store.Tenant
	identities   map[string]store.Identity
	applications map[string]store.Application
	authRequests map[string]store.AuthRequest
	authCodes    map[string]store.AuthCode
	refreshToks  map[string]store.RefreshToken
	signingKeys  map[string]store.SigningKey
	consents     map[consentKey]store.Consent

	logger *slog.Logger
}

type consentKey struct {
	userID, clientID string
}

// New returns an empty in-memory store.
func New(logger *slog.Logger) *Store {
	return &Store{
		tenants:      make(map[string]store.Tenant),
		identities:   make(map[string]store.Identity),
		applications: make(map[string]store.Application),
		authRequests: make(map[string]store.AuthRequest),
		authCodes:    make(map[string]store.AuthCode),
		refreshToks:  make(map[string]store.RefreshToken),
		signingKeys:  make(map[string]store.SigningKey),
		consents:     make(map[consentKey]store.Consent),
		logger:       logger,
	}
}

func (s *Store) tx(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateTenant(ctx context.Context, t store.Tenant) (err error) {
	s.tx(func() {
		if _, ok := s.tenants[t.ID]; ok {
			err = apperr.New(apperr.KindAlreadyExists, "tenant %s", t.ID)
			return
		}
		s.tenants[t.ID] = t
	})
	return
}

func (s *Store) GetTenant(ctx context.Context, id string) (t store.Tenant, err error) {
	s.tx(func() {
		var ok bool
		t, ok = s.tenants[id]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "tenant %s", id)
		}
	})
	return
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (t store.Tenant, err error) {
	s.tx(func() {
		for _, cand := range s.tenants {
			if cand.Slug == slug {
				t = cand
				return
			}
		}
		err = apperr.New(apperr.KindNotFound, "tenant slug %s", slug)
	})
	return
}

func (s *Store) ListChildTenants(ctx context.Context, parentID string) (out []store.Tenant, err error) {
	s.tx(func() {
		for _, t := range s.tenants {
			if t.ParentID == parentID {
				out = append(out, t)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return
}

func (s *Store) UpdateTenant(ctx context.Context, id string, updater func(store.Tenant) (store.Tenant, error)) (err error) {
	s.tx(func() {
		old, ok := s.tenants[id]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "tenant %s", id)
			return
		}
		updated, uerr := updater(old)
		if uerr != nil {
			err = uerr
			return
		}
		s.tenants[id] = updated
	})
	return
}

func (s *Store) DeleteTenantCascade(ctx context.Context, id string) (err error) {
	s.tx(func() {
		if _, ok := s.tenants[id]; !ok {
			err = apperr.New(apperr.KindNotFound, "tenant %s", id)
			return
		}
		toDelete := map[string]bool{id: true}
		changed := true
		for changed {
			changed = false
			for _, t := range s.tenants {
				if toDelete[t.ParentID] && !toDelete[t.ID] {
					toDelete[t.ID] = true
					changed = true
				}
			}
		}
		for tid := range toDelete {
			delete(s.tenants, tid)
		}
		for uid, u := range s.identities {
			if toDelete[u.DefaultOrgID] {
				delete(s.identities, uid)
			}
		}
		for aid, a := range s.applications {
			if toDelete[a.OrgID] {
				delete(s.applications, aid)
			}
		}
	})
	return
}

func (s *Store) CreateIdentity(ctx context.Context, u store.Identity) (err error) {
	s.tx(func() {
		if _, ok := s.identities[u.ID]; ok {
			err = apperr.New(apperr.KindAlreadyExists, "identity %s", u.ID)
			return
		}
		s.identities[u.ID] = u
	})
	return
}

func (s *Store) GetIdentity(ctx context.Context, id string) (u store.Identity, err error) {
	s.tx(func() {
		var ok bool
		u, ok = s.identities[id]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "identity %s", id)
		}
	})
	return
}

func (s *Store) GetIdentityByEmail(ctx context.Context, orgID, email string) (u store.Identity, err error) {
	email = strings.ToLower(email)
	s.tx(func() {
		for _, cand := range s.identities {
			if cand.DefaultOrgID == orgID && strings.ToLower(cand.Email) == email {
				u = cand
				return
			}
		}
		err = apperr.New(apperr.KindUserNotFound, "email %s", email)
	})
	return
}

func (s *Store) UpdateIdentity(ctx context.Context, id string, updater func(store.Identity) (store.Identity, error)) (err error) {
	s.tx(func() {
		old, ok := s.identities[id]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "identity %s", id)
			return
		}
		updated, uerr := updater(old)
		if uerr != nil {
			err = uerr
			return
		}
		s.identities[id] = updated
	})
	return
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) (err error) {
	s.tx(func() {
		if _, ok := s.identities[id]; !ok {
			err = apperr.New(apperr.KindNotFound, "identity %s", id)
			return
		}
		delete(s.identities, id)
	})
	return
}

func (s *Store) CreateApplication(ctx context.Context, a store.Application) (err error) {
	s.tx(func() {
		if _, ok := s.applications[a.ID]; ok {
			err = apperr.New(apperr.KindAlreadyExists, "application %s", a.ID)
			return
		}
		s.applications[a.ID] = a
	})
	return
}

func (s *Store) GetApplication(ctx context.Context, id string) (a store.Application, err error) {
	s.tx(func() {
		var ok bool
		a, ok = s.applications[id]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "application %s", id)
		}
	})
	return
}

func (s *Store) GetApplicationByClientID(ctx context.Context, clientID string) (a store.Application, err error) {
	s.tx(func() {
		for _, cand := range s.applications {
			if cand.ClientID == clientID {
				a = cand
				return
			}
		}
		err = apperr.New(apperr.KindNotFound, "client_id %s", clientID)
	})
	return
}

func (s *Store) ListApplications(ctx context.Context, orgID string) (out []store.Application, err error) {
	s.tx(func() {
		for _, a := range s.applications {
			if orgID == "" || a.OrgID == orgID {
				out = append(out, a)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return
}

func (s *Store) UpdateApplication(ctx context.Context, id string, updater func(store.Application) (store.Application, error)) (err error) {
	s.tx(func() {
		old, ok := s.applications[id]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "application %s", id)
			return
		}
		updated, uerr := updater(old)
		if uerr != nil {
			err = uerr
			return
		}
		s.applications[id] = updated
	})
	return
}

func (s *Store) DeleteApplication(ctx context.Context, id string) (err error) {
	s.tx(func() {
		if _, ok := s.applications[id]; !ok {
			err = apperr.New(apperr.KindNotFound, "application %s", id)
			return
		}
		delete(s.applications, id)
	})
	return
}

func (s *Store) CreateAuthRequest(ctx context.Context, r store.AuthRequest) (err error) {
	s.tx(func() {
		if _, ok := s.authRequests[r.ID]; ok {
			err = apperr.New(apperr.KindAlreadyExists, "auth request %s", r.ID)
			return
		}
		s.authRequests[r.ID] = r
	})
	return
}

func (s *Store) GetAuthRequest(ctx context.Context, id string) (r store.AuthRequest, err error) {
	s.tx(func() {
		var ok bool
		r, ok = s.authRequests[id]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "auth request %s", id)
		}
	})
	return
}

func (s *Store) UpdateAuthRequest(ctx context.Context, id string, updater func(store.AuthRequest) (store.AuthRequest, error)) (err error) {
	s.tx(func() {
		old, ok := s.authRequests[id]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "auth request %s", id)
			return
		}
		updated, uerr := updater(old)
		if uerr != nil {
			err = uerr
			return
		}
		s.authRequests[id] = updated
	})
	return
}

func (s *Store) DeleteAuthRequest(ctx context.Context, id string) (err error) {
	s.tx(func() {
		delete(s.authRequests, id)
	})
	return
}

func (s *Store) CreateAuthCode(ctx context.Context, c store.AuthCode) (err error) {
	s.tx(func() {
		if _, ok := s.authCodes[c.Hash]; ok {
			err = apperr.New(apperr.KindAlreadyExists, "auth code")
			return
		}
		s.authCodes[c.Hash] = c
	})
	return
}

func (s *Store) GetAuthCode(ctx context.Context, hash string) (c store.AuthCode, err error) {
	s.tx(func() {
		var ok bool
		c, ok = s.authCodes[hash]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "auth code")
		}
	})
	return
}

func (s *Store) RedeemAuthCode(ctx context.Context, hash string, at time.Time) (ok bool, err error) {
	s.tx(func() {
		c, found := s.authCodes[hash]
		if !found {
			err = apperr.New(apperr.KindNotFound, "auth code")
			return
		}
		if !c.UsedAt.IsZero() {
			ok = false
			return
		}
		c.UsedAt = at
		s.authCodes[hash] = c
		ok = true
	})
	return
}

func (s *Store) DeleteAuthCode(ctx context.Context, hash string) (err error) {
	s.tx(func() {
		delete(s.authCodes, hash)
	})
	return
}

func (s *Store) CreateRefreshToken(ctx context.Context, r store.RefreshToken) (err error) {
	s.tx(func() {
		if _, ok := s.refreshToks[r.Hash]; ok {
			err = apperr.New(apperr.KindAlreadyExists, "refresh token")
			return
		}
		s.refreshToks[r.Hash] = r
	})
	return
}

func (s *Store) GetRefreshToken(ctx context.Context, hash string) (r store.RefreshToken, err error) {
	s.tx(func() {
		var ok bool
		r, ok = s.refreshToks[hash]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "refresh token")
		}
	})
	return
}

func (s *Store) RotateRefreshToken(ctx context.Context, hash string, at time.Time, next store.RefreshToken) (ok bool, err error) {
	s.tx(func() {
		cur, found := s.refreshToks[hash]
		if !found {
			err = apperr.New(apperr.KindNotFound, "refresh token")
			return
		}
		if !cur.UsedAt.IsZero() || !cur.RevokedAt.IsZero() {
			ok = false
			return
		}
		cur.UsedAt = at
		s.refreshToks[hash] = cur
		s.refreshToks[next.Hash] = next
		ok = true
	})
	return
}

func (s *Store) RevokeRefreshTokenFamily(ctx context.Context, familyID string, at time.Time) (err error) {
	s.tx(func() {
		for hash, r := range s.refreshToks {
			if r.FamilyID == familyID && r.RevokedAt.IsZero() {
				r.RevokedAt = at
				s.refreshToks[hash] = r
			}
		}
	})
	return
}

func (s *Store) UpsertSigningKey(ctx context.Context, k store.SigningKey) (err error) {
	s.tx(func() {
		s.signingKeys[k.KID] = k
	})
	return
}

func (s *Store) GetSigningKey(ctx context.Context, kid string) (k store.SigningKey, err error) {
	s.tx(func() {
		var ok bool
		k, ok = s.signingKeys[kid]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "signing key %s", kid)
		}
	})
	return
}

func (s *Store) ListSigningKeys(ctx context.Context) (out []store.SigningKey, err error) {
	s.tx(func() {
		for _, k := range s.signingKeys {
			out = append(out, k)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return
}

func (s *Store) UpdateSigningKey(ctx context.Context, kid string, updater func(store.SigningKey) (store.SigningKey, error)) (err error) {
	s.tx(func() {
		old, ok := s.signingKeys[kid]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "signing key %s", kid)
			return
		}
		updated, uerr := updater(old)
		if uerr != nil {
			err = uerr
			return
		}
		s.signingKeys[kid] = updated
	})
	return
}

func (s *Store) GetConsent(ctx context.Context, userID, clientID string) (c store.Consent, err error) {
	s.tx(func() {
		var ok bool
		c, ok = s.consents[consentKey{userID, clientID}]
		if !ok {
			err = apperr.New(apperr.KindNotFound, "consent")
		}
	})
	return
}

func (s *Store) PutConsent(ctx context.Context, c store.Consent) (err error) {
	s.tx(func() {
		s.consents[consentKey{c.UserID, c.ClientID}] = c
	})
	return
}

func (s *Store) GarbageCollect(ctx context.Context, now time.Time) (result store.GCResult, err error) {
	s.tx(func() {
		for id, r := range s.authRequests {
			if now.After(r.Expiry) {
				delete(s.authRequests, id)
				result.AuthRequests++
			}
		}
		for hash, c := range s.authCodes {
			if now.After(c.Expiry) {
				delete(s.authCodes, hash)
				result.AuthCodes++
			}
		}
		for hash, r := range s.refreshToks {
			if now.After(r.ExpiresAt) {
				delete(s.refreshToks, hash)
				result.RefreshTokens++
			}
		}
	})
	return
}
