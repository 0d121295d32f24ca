package as

import (
	"net/http"
	"net/url"

	"github.com/coreauth/coreauth/internal/primitives"
)

// handleLogout implements RP-initiated logout (OIDC Session Management):
// it revokes every refresh token the session might still hold and, if
// post_logout_redirect_uri is both present and registered for the client,
// redirects back to it.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirect := q.Get("post_logout_redirect_uri")

	if token := q.Get("refresh_token"); token != "" {
		now := s.clock.Now()
		if rt, err := s.store.GetRefreshToken(r.Context(), primitives.HashToken(token)); err == nil {
			if err := s.store.RevokeRefreshTokenFamily(r.Context(), rt.FamilyID, now); err != nil {
				s.logger.Error("failed to revoke refresh token family on logout", "error", err)
			}
		}
	}

	if clientID == "" || redirect == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	app, err := s.store.GetApplicationByClientID(r.Context(), clientID)
	if err != nil || !containsString(app.PostLogoutURIs, redirect) {
		w.WriteHeader(http.StatusOK)
		return
	}
	u, err := url.Parse(redirect)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if state := q.Get("state"); state != "" {
		qv := u.Query()
		qv.Set("state", state)
		u.RawQuery = qv.Encode()
	}
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
