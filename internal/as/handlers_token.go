package as

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreauth/coreauth/internal/store"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// handleToken implements POST /oauth/token (RFC 6749 §3.2), dispatching on
// grant_type to the authorization_code, refresh_token, and
// client_credentials grants.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
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

	grantType := r.PostFormValue("grant_type")
	if !AllowsGrantType(app, grantType) {
		WriteTokenError(w, s.logger, ErrUnauthorizedClient, "grant type not allowed for this client", http.StatusBadRequest)
		return
	}

	switch grantType {
	case "authorization_code":
		s.handleAuthorizationCodeGrant(w, r, app)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r, app)
	case "client_credentials":
		s.handleClientCredentialsGrant(w, r, app)
	default:
		WriteTokenError(w, s.logger, ErrUnsupportedGrantType, grantType, http.StatusBadRequest)
	}
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, app store.Application) {
	code := r.PostFormValue("code")
	redirectURI := r.PostFormValue("redirect_uri")
	verifier := r.PostFormValue("code_verifier")
	if code == "" {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "code is required", http.StatusBadRequest)
		return
	}

	now := s.clock.Now()
	authCode, err := RedeemAuthCode(r.Context(), s.store, code, redirectURI, verifier, now)
	if err != nil {
		code, status := ClassifyError(err)
		WriteTokenError(w, s.logger, code, err.Error(), status)
		return
	}
	if authCode.ClientID != app.ClientID {
		WriteTokenError(w, s.logger, ErrInvalidGrant, "code was not issued to this client", http.StatusBadRequest)
		return
	}

	identity, err := s.store.GetIdentity(r.Context(), authCode.UserID)
	if err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}

	scope := strings.Join(authCode.Scopes, " ")
	s.issueTokenSet(w, r, app, identity, authCode.Scopes, scope, authCode.Nonce, now, true)
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, app store.Application) {
	presented := r.PostFormValue("refresh_token")
	if presented == "" {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	ttl := app.RefreshTokenTTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultRefreshTokenTTL
	}
	now := s.clock.Now()
	nextPlaintext, rt, err := RotateRefreshToken(r.Context(), s.store, s.logger, presented, ttl, now)
	if err != nil {
		code, status := ClassifyError(err)
		WriteTokenError(w, s.logger, code, err.Error(), status)
		return
	}
	if rt.ClientID != app.ClientID {
		WriteTokenError(w, s.logger, ErrInvalidGrant, "refresh token was not issued to this client", http.StatusBadRequest)
		return
	}

	identity, err := s.store.GetIdentity(r.Context(), rt.UserID)
	if err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}

	accessTTL := app.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = s.cfg.DefaultAccessTokenTTL
	}
	access, err := s.signer.SignAccessToken(r.Context(), s.cfg.Issuer, identity.ID, app.ClientID, strings.Join(rt.Scopes, " "), identity.DefaultOrgID, accessTTL, now)
	if err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}

	writeJSON(w, s.logger, tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTTL.Seconds()),
		RefreshToken: nextPlaintext,
		Scope:        strings.Join(rt.Scopes, " "),
	})
}

func (s *Server) handleClientCredentialsGrant(w http.ResponseWriter, r *http.Request, app store.Application) {
	if app.Type != store.AppM2M {
		WriteTokenError(w, s.logger, ErrUnauthorizedClient, "client_credentials is only available to machine-to-machine clients", http.StatusBadRequest)
		return
	}
	requested := splitScope(r.PostFormValue("scope"))
	scopes := intersectScopes(requested, app.AllowedScopes)

	now := s.clock.Now()
	accessTTL := app.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = s.cfg.DefaultAccessTokenTTL
	}
	access, err := s.signer.SignAccessToken(r.Context(), s.cfg.Issuer, app.ClientID, app.ClientID, strings.Join(scopes, " "), app.OrgID, accessTTL, now)
	if err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.logger, tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(accessTTL.Seconds()),
		Scope:       strings.Join(scopes, " "),
	})
}

// issueTokenSet mints the access/refresh/id token triple following a
// successful authorization_code exchange. includeRefresh controls whether a
// refresh token is minted, gated on the offline_access scope.
func (s *Server) issueTokenSet(w http.ResponseWriter, r *http.Request, app store.Application, identity store.Identity, scopes []string, scopeStr, nonce string, now time.Time, includeRefresh bool) {
	accessTTL := app.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = s.cfg.DefaultAccessTokenTTL
	}
	access, err := s.signer.SignAccessToken(r.Context(), s.cfg.Issuer, identity.ID, app.ClientID, scopeStr, identity.DefaultOrgID, accessTTL, now)
	if err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}

	resp := tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(accessTTL.Seconds()),
		Scope:       scopeStr,
	}

	if hasScope(scopes, "openid") {
		idTTL := app.IDTokenTTL
		if idTTL <= 0 {
			idTTL = s.cfg.DefaultIDTokenTTL
		}
		idToken, err := s.signer.SignIDToken(r.Context(), s.cfg.Issuer, identity.ID, app.ClientID, nonce, identity.Email, identity.DefaultOrgID, identity.EmailVerified, now, idTTL, now)
		if err != nil {
			WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
			return
		}
		resp.IDToken = idToken
	}

	if includeRefresh && hasScope(scopes, "offline_access") {
		refreshTTL := app.RefreshTokenTTL
		if refreshTTL <= 0 {
			refreshTTL = s.cfg.DefaultRefreshTokenTTL
		}
		refresh, err := IssueRefreshToken(r.Context(), s.store, app.ClientID, identity.ID, scopes, refreshTTL, now)
		if err != nil {
			WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
			return
		}
		resp.RefreshToken = refresh
	}

	writeJSON(w, s.logger, resp)
}

func hasScope(scopes []string, want string) bool {
	for _, sc := range scopes {
		if sc == want {
			return true
		}
	}
	return false
}

func intersectScopes(requested, allowed []string) []string {
	if len(requested) == 0 {
		return allowed
	}
	allow := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allow[a] = true
	}
	var out []string
	for _, r := range requested {
		if allow[r] {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
