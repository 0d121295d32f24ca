package as

import (
	"net/http"

	"github.com/coreauth/coreauth/internal/primitives"
)

// introspectionResponse is the RFC 7662 token introspection shape. Per
// RFC 7662 §2.2, an invalid/expired/unknown token still returns 200 with
// active:false rather than an error, so callers can't distinguish "token
// never existed" from "token expired" by status code.
type introspectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// handleIntrospect implements POST /oauth/introspect (RFC 7662). It accepts
// both JWT access tokens and opaque refresh tokens, distinguishing them by
// trying a JWT parse first and falling back to a refresh-token hash lookup.
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "malformed form body", http.StatusBadRequest)
		return
	}
	if _, err := AuthenticateClient(r.Context(), s.store, r); err != nil {
		code, status := ClassifyError(err)
		WriteTokenError(w, s.logger, code, err.Error(), status)
		return
	}

	token := r.PostFormValue("token")
	now := s.clock.Now()

	if claims, err := s.signer.VerifyAccessToken(r.Context(), token, now); err == nil {
		writeJSON(w, s.logger, introspectionResponse{
			Active:    true,
			Scope:     claims.Scope,
			ClientID:  firstAudience(claims),
			Sub:       claims.Subject,
			Exp:       claims.Expiry.Time().Unix(),
			Iat:       claims.IssuedAt.Time().Unix(),
			TokenType: "access_token",
		})
		return
	}

	rt, err := s.store.GetRefreshToken(r.Context(), primitives.HashToken(token))
	if err != nil || !rt.UsedAt.IsZero() || !rt.RevokedAt.IsZero() || now.After(rt.ExpiresAt) {
		writeJSON(w, s.logger, introspectionResponse{Active: false})
		return
	}
	writeJSON(w, s.logger, introspectionResponse{
		Active:    true,
		ClientID:  rt.ClientID,
		Sub:       rt.UserID,
		Exp:       rt.ExpiresAt.Unix(),
		TokenType: "refresh_token",
	})
}

func firstAudience(c AccessTokenClaims) string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}
