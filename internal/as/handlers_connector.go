package as

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/connector"
	"github.com/coreauth/coreauth/internal/store"
)

// handleConnectorLogin starts a brokered login: GET
// /oauth/connector/{id}/login carries the same authorize-request
// parameters as /authorize, but instead of falling through to
// first-party /oauth/login it redirects the browser to the named
// upstream connector. This is additive to spec.md's first-party login
// (see SPEC_FULL.md §4's brokered social login supplement) and produces
// the identical AuthRequest/AuthCode artifacts either way.
func (s *Server) handleConnectorLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowLogin(w, r) {
		return
	}
	id := mux.Vars(r)["id"]
	conn, ok := s.connectors[id]
	if !ok {
		http.Error(w, "unknown connector", http.StatusNotFound)
		return
	}
	cb, ok := conn.(connector.CallbackConnector)
	if !ok {
		http.Error(w, "connector does not support browser login", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		s.redirectAuthorizeError(w, r, q.Get("redirect_uri"), q.Get("state"), ErrInvalidRequest, "response_type must be code")
		return
	}
	app, err := s.store.GetApplicationByClientID(r.Context(), q.Get("client_id"))
	if err != nil || !app.Enabled {
		WriteTokenError(w, s.logger, ErrInvalidClient, "unknown client", http.StatusBadRequest)
		return
	}
	redirectURI := q.Get("redirect_uri")
	if !AllowsRedirectURI(app, redirectURI) {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "redirect_uri not registered for client", http.StatusBadRequest)
		return
	}
	state := q.Get("state")
	if state == "" {
		s.redirectAuthorizeError(w, r, redirectURI, state, ErrInvalidRequest, "state is required")
		return
	}
	scopes := splitScope(q.Get("scope"))

	challenge := q.Get("code_challenge")
	method := q.Get("code_challenge_method")
	if RequiresPKCE(app) && challenge == "" {
		s.redirectAuthorizeError(w, r, redirectURI, state, ErrInvalidRequest, "code_challenge is required for public clients")
		return
	}
	if challenge != "" {
		if err := ValidatePKCEMethod(method); err != nil {
			s.redirectAuthorizeError(w, r, redirectURI, state, ErrInvalidRequest, err.Error())
			return
		}
	}

	now := s.clock.Now()
	req := store.AuthRequest{
		ID:           uuid.NewString(),
		ClientID:     app.ClientID,
		RedirectURI:  redirectURI,
		Scopes:       scopes,
		State:        state,
		Nonce:        q.Get("nonce"),
		ResponseType: q.Get("response_type"),
		PKCE:         store.PKCEChallenge{CodeChallenge: challenge, CodeChallengeMethod: method},
		ConnectorID:  id,
		Expiry:       now.Add(s.cfg.AuthRequestTTL),
		CreatedAt:    now,
	}
	if err := s.store.CreateAuthRequest(r.Context(), req); err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}

	callbackURL := s.cfg.Issuer + "/oauth/connector/" + id + "/callback"
	loginURL, err := cb.LoginURL(connector.Scopes{OfflineAccess: hasScope(scopes, "offline_access")}, callbackURL, req.ID)
	if err != nil {
		s.logger.Error("connector login URL failed", "connector", id, "error", err)
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// handleConnectorCallback completes a brokered login: it resolves the
// pending AuthRequest by the upstream "state" (the AuthRequest ID itself,
// unguessable and single-use), finds or provisions a first-party Identity
// matching the upstream email, and issues an authorization code exactly
// like first-party /oauth/login does.
func (s *Server) handleConnectorCallback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conn, ok := s.connectors[id]
	if !ok {
		http.Error(w, "unknown connector", http.StatusNotFound)
		return
	}
	cb, ok := conn.(connector.CallbackConnector)
	if !ok {
		http.Error(w, "connector does not support browser login", http.StatusInternalServerError)
		return
	}

	requestID := r.URL.Query().Get("state")
	req, err := s.store.GetAuthRequest(r.Context(), requestID)
	if err != nil || req.ConnectorID != id {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "unknown or expired authorization request", http.StatusBadRequest)
		return
	}
	now := s.clock.Now()
	if now.After(req.Expiry) {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "authorization request expired", http.StatusBadRequest)
		return
	}

	app, err := s.store.GetApplicationByClientID(r.Context(), req.ClientID)
	if err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}

	identity, err := cb.HandleCallback(r.Context(), connector.Scopes{OfflineAccess: hasScope(req.Scopes, "offline_access")}, r)
	if err != nil {
		s.logger.Warn("connector callback failed", "connector", id, "error", err)
		WriteTokenError(w, s.logger, ErrInvalidRequest, "upstream login failed", http.StatusBadRequest)
		return
	}
	if identity.Email == "" {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "upstream identity has no email", http.StatusBadRequest)
		return
	}

	user, err := s.findOrProvisionBrokeredIdentity(r.Context(), app.OrgID, identity)
	if err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}
	if !user.Active {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "account disabled", http.StatusForbidden)
		return
	}

	if err := s.store.UpdateAuthRequest(r.Context(), req.ID, func(ar store.AuthRequest) (store.AuthRequest, error) {
		ar.LoggedIn = true
		ar.UserID = user.ID
		return ar, nil
	}); err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}

	code, err := IssueAuthCode(r.Context(), s.store, req.ClientID, req.RedirectURI, user.ID, req.Scopes, req.Nonce, req.PKCE, s.cfg.AuthCodeTTL, now)
	if err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}
	if err := s.store.DeleteAuthRequest(r.Context(), req.ID); err != nil {
		s.logger.Warn("failed to delete consumed auth request", "error", err)
	}

	u, err := url.Parse(req.RedirectURI)
	if err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}
	qv := u.Query()
	qv.Set("code", code)
	qv.Set("state", req.State)
	u.RawQuery = qv.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

// findOrProvisionBrokeredIdentity looks up an Identity by the upstream
// email within the client's org, provisioning one with no password (login
// remains connector-only) the first time a given upstream user signs in.
func (s *Server) findOrProvisionBrokeredIdentity(ctx context.Context, orgID string, id connector.Identity) (store.Identity, error) {
	existing, err := s.store.GetIdentityByEmail(ctx, orgID, id.Email)
	if err == nil {
		return existing, nil
	}
	if !apperr.Is(err, apperr.KindUserNotFound) {
		return store.Identity{}, err
	}

	now := s.clock.Now()
	u := store.Identity{
		ID:            uuid.NewString(),
		DefaultOrgID:  orgID,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateIdentity(ctx, u); err != nil {
		return store.Identity{}, err
	}
	return u, nil
}
