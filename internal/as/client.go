package as

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/coreauth/coreauth/internal/apperr"
	"github.com/coreauth/coreauth/internal/primitives"
	"github.com/coreauth/coreauth/internal/store"
)

// AuthenticateClient resolves and authenticates the client making a token
// request, grounded on the teacher's withClientFromStorage (HTTP Basic,
// falling back to POST body credentials) but generalized with a third
// method: public clients (ApplicationType webapp/spa/native with no
// ClientSecretHash) authenticate with "none" and rely on the PKCE
// requirement instead of a shared secret, per RFC 6749 §2.3 / RFC 7636.
func AuthenticateClient(ctx context.Context, st store.Store, r *http.Request) (store.Application, error) {
	clientID, clientSecret, ok := r.BasicAuth()
	if ok {
		var err error
		if clientID, err = url.QueryUnescape(clientID); err != nil {
			return store.Application{}, apperr.New(apperr.KindBadRequest, "client_id improperly encoded")
		}
		if clientSecret, err = url.QueryUnescape(clientSecret); err != nil {
			return store.Application{}, apperr.New(apperr.KindBadRequest, "client_secret improperly encoded")
		}
	} else {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}

	if clientID == "" {
		return store.Application{}, apperr.New(apperr.KindInvalidInput, "client_id is required")
	}

	app, err := st.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		return store.Application{}, apperr.New(apperr.KindForbidden, "invalid client credentials")
	}
	if !app.Enabled {
		return store.Application{}, apperr.New(apperr.KindForbidden, "client disabled")
	}

	if app.ClientSecretHash == "" {
		// Public client: "none" auth method is only valid alongside PKCE.
		// The authorize and connector-login handlers refuse a public client
		// without a code_challenge (RequiresPKCE), and RedeemAuthCode then
		// checks the verifier against it.
		if clientSecret != "" {
			return store.Application{}, apperr.New(apperr.KindForbidden, "public client must not present a client_secret")
		}
		return app, nil
	}

	if subtle.ConstantTimeCompare([]byte(primitives.HashToken(clientSecret)), []byte(app.ClientSecretHash)) != 1 {
		return store.Application{}, apperr.New(apperr.KindForbidden, "invalid client credentials")
	}
	return app, nil
}

// RequiresPKCE reports whether app must present a PKCE challenge: every
// public client must, per spec.md; confidential clients may opt in but are
// not required to.
func RequiresPKCE(app store.Application) bool {
	return app.ClientSecretHash == ""
}

func AllowsGrantType(app store.Application, grantType string) bool {
	for _, g := range app.AllowedGrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

func AllowsRedirectURI(app store.Application, uri string) bool {
	for _, u := range app.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}
