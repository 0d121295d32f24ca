package as

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
)

// KeyRing manages the signing-key rotation state machine: a freshly
// generated key is created, promoted to active (the key new tokens are
// signed with), demoted to rotating when a newer key becomes active (kept
// in the JWKS response so tokens already issued keep verifying), and
// finally retired once every token it could have signed has expired.
// Grounded on the teacher's signer.Signer/RotateKey design, generalized
// from "exactly one active key" to the full four-state machine spec.md
// requires.
type KeyRing struct {
	store  store.Store
	clock  primitives.Clock
	logger *slog.Logger

	// retirementGrace bounds how long a rotating key is kept before it is
	// retired: it must exceed the longest-lived token that key could have
	// signed (the refresh token lifetime, not the shorter access token
	// lifetime).
	retirementGrace time.Duration
}

func NewKeyRing(st store.Store, clock primitives.Clock, logger *slog.Logger, retirementGrace time.Duration) *KeyRing {
	return &KeyRing{store: st, clock: clock, logger: logger, retirementGrace: retirementGrace}
}

// ActiveKey returns the current signing key, generating and activating one
// if none exists yet (first-boot bootstrap).
func (r *KeyRing) ActiveKey(ctx context.Context) (store.SigningKey, error) {
	keys, err := r.store.ListSigningKeys(ctx)
	if err != nil {
		return store.SigningKey{}, err
	}
	for _, k := range keys {
		if k.Status == store.SigningKeyActive {
			return k, nil
		}
	}
	return r.bootstrap(ctx)
}

func (r *KeyRing) bootstrap(ctx context.Context) (store.SigningKey, error) {
	k, err := r.newKey(store.SigningKeyActive)
	if err != nil {
		return store.SigningKey{}, err
	}
	if err := r.store.UpsertSigningKey(ctx, k); err != nil {
		return store.SigningKey{}, err
	}
	r.logger.Info("signing key bootstrapped", "kid", k.KID)
	return k, nil
}

func (r *KeyRing) newKey(status store.SigningKeyStatus) (store.SigningKey, error) {
	priv, err := primitives.NewRSAKey()
	if err != nil {
		return store.SigningKey{}, apperr.Wrap(err, apperr.KindInternal, "generate signing key")
	}
	pem, err := primitives.EncodeRSAPrivateKeyPEM(priv)
	if err != nil {
		return store.SigningKey{}, apperr.Wrap(err, apperr.KindInternal, "encode signing key")
	}
	now := r.clock.Now()
	k := store.SigningKey{
		KID:           uuid.NewString(),
		Algorithm:     "RS256",
		PrivateKeyPEM: pem,
		Status:        status,
		CreatedAt:     now,
	}
	if status == store.SigningKeyActive {
		k.ActivatedAt = now
	}
	return k, nil
}

// Rotate generates a new key, promotes it to active, and demotes the
// previously active key to rotating. The previously active key stays in
// the JWKS response (still verifiable) until RetireExpired sweeps it.
func (r *KeyRing) Rotate(ctx context.Context) (store.SigningKey, error) {
	keys, err := r.store.ListSigningKeys(ctx)
	if err != nil {
		return store.SigningKey{}, err
	}
	now := r.clock.Now()
	for _, old := range keys {
		if old.Status != store.SigningKeyActive {
			continue
		}
		if err := r.store.UpdateSigningKey(ctx, old.KID, func(k store.SigningKey) (store.SigningKey, error) {
			k.Status = store.SigningKeyRotating
			return k, nil
		}); err != nil {
			return store.SigningKey{}, err
		}
	}

	next, err := r.newKey(store.SigningKeyActive)
	if err != nil {
		return store.SigningKey{}, err
	}
	next.ActivatedAt = now
	if err := r.store.UpsertSigningKey(ctx, next); err != nil {
		return store.SigningKey{}, err
	}
	r.logger.Info("signing key rotated", "kid", next.KID)
	return next, nil
}

// RetireExpired demotes any rotating key older than retirementGrace to
// retired. Retired keys are dropped from JWKS entirely: by the time a key
// reaches this state every token it could have signed has expired.
func (r *KeyRing) RetireExpired(ctx context.Context) (int, error) {
	keys, err := r.store.ListSigningKeys(ctx)
	if err != nil {
		return 0, err
	}
	now := r.clock.Now()
	retired := 0
	for _, k := range keys {
		if k.Status != store.SigningKeyRotating {
			continue
		}
		cutoff := k.ActivatedAt
		if cutoff.IsZero() {
			cutoff = k.CreatedAt
		}
		if now.Sub(cutoff) < r.retirementGrace {
			continue
		}
		if err := r.store.UpdateSigningKey(ctx, k.KID, func(kk store.SigningKey) (store.SigningKey, error) {
			kk.Status = store.SigningKeyRetired
			kk.RetiredAt = now
			return kk, nil
		}); err != nil {
			return retired, err
		}
		retired++
	}
	return retired, nil
}

// JWKS returns the public half of every non-retired key, in the store's
// ListSigningKeys order (oldest first).
func (r *KeyRing) JWKS(ctx context.Context) ([]store.SigningKey, error) {
	keys, err := r.store.ListSigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.SigningKey, 0, len(keys))
	for _, k := range keys {
		if k.Status == store.SigningKeyRetired {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}
