// Package mock implements a Connector that requires no network calls,
// for exercising the brokered-login path in tests.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreauth/coreauth/internal/connector"
)

// Identity is the fixed identity HandleCallback returns.
var Identity = connector.Identity{
	ConnectorUserID: "mock-user-1",
	Username:        "Kilgore Trout",
	Email:           "kilgore@example.com",
	EmailVerified:   true,
	ConnectorData:   []byte("mock-connector-data"),
}

var (
	_ connector.CallbackConnector = Connector{}
	_ connector.GroupsConnector   = Connector{}
)

// Connector is a zero-value-usable CallbackConnector stub.
type Connector struct{}

func (Connector) Close() error { return nil }

func (Connector) LoginURL(_ connector.Scopes, callbackURL, state string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", fmt.Errorf("mock: parse callback URL %q: %w", callbackURL, err)
	}
	v := u.Query()
	v.Set("state", state)
	u.RawQuery = v.Encode()
	return u.String(), nil
}

func (Connector) HandleCallback(_ context.Context, _ connector.Scopes, r *http.Request) (connector.Identity, error) {
	return Identity, nil
}

func (Connector) Groups(_ context.Context, _ connector.Identity) ([]string, error) {
	return []string{"testers"}, nil
}
