package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// TokenResponse is the /oauth/token response shape AS returns, grounded on
// the original prototype's session.rs TokenResponse and internal/as's own
// token handler output.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenRefresher performs the refresh_token grant against AS's
// /oauth/token endpoint server-to-server, per spec.md §4.3.3.
type TokenRefresher struct {
	httpClient   *http.Client
	coreauthURL  string
	clientID     string
	clientSecret string
}

func NewTokenRefresher(httpClient *http.Client, coreauthURL, clientID, clientSecret string) *TokenRefresher {
	return &TokenRefresher{
		httpClient:   httpClient,
		coreauthURL:  strings.TrimRight(coreauthURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// Refresh exchanges refreshToken for a new token set. A request that
// reaches AS and gets an OAuth-error body (e.g. an already-rotated token)
// is NOT retried — only a transport-level failure is, once, per the
// concurrency model's "retried once on transport error".
func (t *TokenRefresher) Refresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	op := func() (TokenResponse, error) {
		resp, err := t.doRefresh(ctx, refreshToken)
		if err != nil {
			return TokenResponse{}, err
		}
		return resp, nil
	}

	return backoff.Retry(ctx, op, backoff.WithMaxTries(2), backoff.WithBackOff(backoff.NewConstantBackOff(200*time.Millisecond)))
}

func (t *TokenRefresher) doRefresh(ctx context.Context, refreshToken string) (TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {t.clientID},
		"client_secret": {t.clientSecret},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.coreauthURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		// Transport-level failure: eligible for the single retry.
		return TokenResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var oauthErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&oauthErr)
		// An OAuth-error response reached us fine; don't retry it.
		return TokenResponse{}, backoff.Permanent(fmt.Errorf("token refresh rejected: %s", oauthErr.Error))
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return TokenResponse{}, backoff.Permanent(fmt.Errorf("decode token response: %w", err))
	}
	return tok, nil
}

var errNoRefreshToken = errors.New("session has no refresh token")
