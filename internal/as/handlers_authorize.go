package as

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
)

// handleAuthorize implements GET /authorize (RFC 6749 §4.1.1). Since
// login-page rendering is explicitly out of scope, an unauthenticated
// request is persisted as an AuthRequest and the caller is redirected to
// /oauth/login?request_id=... to complete authentication out of band
// (credentials posted there, not here) instead of this endpoint rendering
// a form itself.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("response_type") != "code" {
		s.redirectAuthorizeError(w, r, q.Get("redirect_uri"), q.Get("state"), ErrInvalidRequest, "response_type must be code")
		return
	}

	clientID := q.Get("client_id")
	app, err := s.store.GetApplicationByClientID(r.Context(), clientID)
	if err != nil || !app.Enabled {
		WriteTokenError(w, s.logger, ErrInvalidClient, "unknown client", http.StatusBadRequest)
		return
	}

	redirectURI := q.Get("redirect_uri")
	if !AllowsRedirectURI(app, redirectURI) {
		// Never redirect to an unregistered URI: the whole point of the
		// allow-list is that an attacker-controlled redirect_uri must not
		// receive the code.
		WriteTokenError(w, s.logger, ErrInvalidRequest, "redirect_uri not registered for client", http.StatusBadRequest)
		return
	}

	state := q.Get("state")
	if state == "" {
		s.redirectAuthorizeError(w, r, redirectURI, state, ErrInvalidRequest, "state is required")
		return
	}

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
		Scopes:       splitScope(q.Get("scope")),
		State:        state,
		Nonce:        q.Get("nonce"),
		ResponseType: q.Get("response_type"),
		PKCE:         store.PKCEChallenge{CodeChallenge: challenge, CodeChallengeMethod: method},
		Expiry:       now.Add(s.cfg.AuthRequestTTL),
		CreatedAt:    now,
	}
	if err := s.store.CreateAuthRequest(r.Context(), req); err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}

	loginURL := s.cfg.Issuer + "/oauth/login?request_id=" + url.QueryEscape(req.ID)
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// handleLogin implements POST /oauth/login: headless credential submission
// against the pending AuthRequest. On success, the authorization code is
// issued and the browser is redirected back to the client's redirect_uri.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowLogin(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "malformed form body", http.StatusBadRequest)
		return
	}
	requestID := r.FormValue("request_id")
	email := r.FormValue("email")
	password := r.FormValue("password")

	req, err := s.store.GetAuthRequest(r.Context(), requestID)
	if err != nil {
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

	identity, err := s.store.GetIdentityByEmail(r.Context(), app.OrgID, email)
	if err != nil || !verifyLogin(identity, password) {
		// Constant-shape response regardless of which factor failed, per
		// spec.md §4.1: "invalid clients or credentials respond in
		// constant time regardless of which factor failed."
		WriteTokenError(w, s.logger, ErrInvalidRequest, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if !identity.Active {
		WriteTokenError(w, s.logger, ErrInvalidRequest, "invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := s.store.UpdateAuthRequest(r.Context(), req.ID, func(ar store.AuthRequest) (store.AuthRequest, error) {
		ar.LoggedIn = true
		ar.UserID = identity.ID
		return ar, nil
	}); err != nil {
		WriteTokenError(w, s.logger, ErrServerError, "", http.StatusInternalServerError)
		return
	}

	code, err := IssueAuthCode(r.Context(), s.store, req.ClientID, req.RedirectURI, identity.ID, req.Scopes, req.Nonce, req.PKCE, s.cfg.AuthCodeTTL, now)
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

func verifyLogin(identity store.Identity, password string) bool {
	if identity.PasswordHash == "" {
		return false
	}
	ok, err := primitives.VerifyPasswordAny(identity.PasswordHash, password)
	return err == nil && ok
}

func (s *Server) redirectAuthorizeError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, description string) {
	u, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		WriteTokenError(w, s.logger, code, description, http.StatusBadRequest)
		return
	}
	qv := u.Query()
	qv.Set("error", code)
	qv.Set("error_description", description)
	if state != "" {
		qv.Set("state", state)
	}
	u.RawQuery = qv.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

func splitScope(scope string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}
