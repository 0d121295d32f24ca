package as

import (
	"encoding/json"
	"net/http"
	"strings"
)

type userInfoResponse struct {
	Sub           string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	OrgID         string `json:"org_id,omitempty"`
}

// handleUserInfo implements the OIDC Core 1.0 UserInfo endpoint: a bearer
// access token in, the claims of the subject it was issued for out.
func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "missing bearer token", http.StatusUnauthorized)
		return
	}

	claims, err := s.signer.VerifyAccessToken(r.Context(), raw, s.clock.Now())
	if err != nil {
		code, status := ClassifyError(err)
		WriteTokenError(w, s.logger, code, err.Error(), status)
		return
	}

	identity, err := s.store.GetIdentity(r.Context(), claims.Subject)
	if err != nil {
		WriteTokenError(w, s.logger, ErrInvalidGrant, "unknown subject", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(userInfoResponse{
		Sub:           identity.ID,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		OrgID:         identity.DefaultOrgID,
	}); err != nil {
		s.logger.Error("failed to encode userinfo response", "error", err)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return h[len(prefix):]
}
