package as

import (
	"net/http"

	"github.com/coreauth/coreauth/internal/primitives"
)

// handleRevoke implements POST /oauth/revoke (RFC 7009). Per RFC 7009 §2.2,
// revoking an unknown or already-invalid token is not an error — the
// endpoint always reports success once client authentication passes, so a
// caller can't use the response to probe which tokens exist.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "malformed form body", http.StatusBadRequest)
		return
	}
	app, err := AuthenticateClient(r.Context(), s.store, r)
	if err != nil {
		code, status := ClassifyError(err)
		WriteTokenError(w, s.logger, code, err.Error(), status)
		return
	}

	token := r.PostFormValue("token")
	now := s.clock.Now()
	hash := primitives.HashToken(token)

	if rt, err := s.store.GetRefreshToken(r.Context(), hash); err == nil && rt.ClientID == app.ClientID {
		if err := s.store.RevokeRefreshTokenFamily(r.Context(), rt.FamilyID, now); err != nil {
			s.logger.Error("failed to revoke refresh token family on explicit revoke", "error", err)
		}
	}
	// Access tokens are not separately revocable per spec.md's resolution
	// of Open Question (b): they are only ever rejected after natural
	// expiry, since this server issues them as self-contained JWTs with no
	// server-side revocation list.

	w.WriteHeader(http.StatusOK)
}
