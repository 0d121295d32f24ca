package as

import (
	"encoding/json"
	"net/http"
)

// discoveryDocument is the OIDC Core 1.0 / RFC 8414 discovery shape.
type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	doc := discoveryDocument{
		Issuer:                 s.cfg.Issuer,
		AuthorizationEndpoint:  s.cfg.Issuer + "/authorize",
		TokenEndpoint:          s.cfg.Issuer + "/oauth/token",
		UserinfoEndpoint:       s.cfg.Issuer + "/userinfo",
		JWKSURI:                s.cfg.Issuer + "/.well-known/jwks.json",
		IntrospectionEndpoint:  s.cfg.Issuer + "/oauth/introspect",
		RevocationEndpoint:     s.cfg.Issuer + "/oauth/revoke",
		EndSessionEndpoint:     s.cfg.Issuer + "/logout",
		ResponseTypesSupported: []string{"code"},
		SubjectTypesSupported:  []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		ScopesSupported:                   []string{"openid", "profile", "email", "offline_access"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token", "client_credentials"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		ClaimsSupported:                   []string{"sub", "email", "email_verified", "org_id", "auth_time", "acr"},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Error("failed to encode discovery document", "error", err)
	}
}
