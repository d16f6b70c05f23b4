package idp

import (
	"context"
	"net/http"
	"strings"
)

// DefaultLocalAuthorizationServerURL is where the local mock is expected when
// no authorizationServerUrl is configured
const DefaultLocalAuthorizationServerURL = "https://authorization-server.local/auth"

// NewLocalProvider builds the variant that talks to the local authorization
// server mock at baseURL
func NewLocalProvider(clientID, clientSecret, baseURL string, httpClient *http.Client, users UserChecker) *Provider {
	if baseURL == "" {
		baseURL = DefaultLocalAuthorizationServerURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	discovery := NewDiscovery(baseURL+wellKnownPath, baseURL+"/token", httpClient)
	gateway := NewOAuthGateway(clientID, clientSecret, discovery, httpClient)
	return &Provider{
		Name:           "local",
		CodeExchanger:  gateway,
		TokenRefresher: gateway,
		TokenRevoker:   NoopRevoker{},
		UserChecker:    users,
	}
}

// NoopRevoker leaves tokens to expire at the authorization server
type NoopRevoker struct{}

func (NoopRevoker) Revoke(context.Context, string) error {
	return nil
}
