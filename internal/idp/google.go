package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/ioutil"
	"github.com/dgellow/auth-relay/internal/log"
)

const (
	GoogleWellKnownURL = "https://accounts.google.com" + wellKnownPath
	GoogleTokenURL     = "https://oauth2.googleapis.com/token"
	GoogleRevokeURL    = "https://oauth2.googleapis.com/revoke"
)

// NewGoogleProvider builds the google variant. Google accounts are created
// on signup, so login never consults the directory.
func NewGoogleProvider(clientID, clientSecret string, httpClient *http.Client) *Provider {
	discovery := NewDiscovery(GoogleWellKnownURL, GoogleTokenURL, httpClient)
	gateway := NewOAuthGateway(clientID, clientSecret, discovery, httpClient)
	return &Provider{
		Name:           "google",
		CodeExchanger:  gateway,
		TokenRefresher: gateway,
		TokenRevoker:   NewGoogleRevoker(GoogleRevokeURL, httpClient).WithDiscovery(discovery),
		UserChecker:    SkipUserCheck{},
	}
}

// GoogleRevoker calls Google's revocation endpoint. Revoking a refresh token
// also revokes the access tokens minted from it.
type GoogleRevoker struct {
	endpoint  string
	discovery *Discovery
	client    *http.Client
}

func NewGoogleRevoker(endpoint string, client *http.Client) *GoogleRevoker {
	return &GoogleRevoker{endpoint: endpoint, client: client}
}

// WithDiscovery prefers the revocation_endpoint advertised by d over the
// static endpoint
func (r *GoogleRevoker) WithDiscovery(d *Discovery) *GoogleRevoker {
	r.discovery = d
	return r
}

func (r *GoogleRevoker) revocationEndpoint(ctx context.Context) string {
	if r.discovery != nil {
		if endpoint := r.discovery.RevocationEndpoint(ctx); endpoint != "" {
			return endpoint
		}
	}
	return r.endpoint
}

type revokeErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Revoke reports InvalidRefreshToken when Google answers invalid_token and a
// Server failure for every other unsuccessful outcome
func (r *GoogleRevoker) Revoke(ctx context.Context, refreshToken string) error {
	u, err := url.Parse(r.revocationEndpoint(ctx))
	if err != nil {
		return apperr.Wrap(apperr.KindServer, "invalid revocation endpoint", err)
	}
	q := u.Query()
	q.Set("token", refreshToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return apperr.Wrap(apperr.KindServer, "failed to build revocation request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return apperr.Wrap(apperr.KindTimeout, "authorization server timeout", err)
		}
		return apperr.Wrap(apperr.KindServer, "token revocation failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body := ioutil.ReadLimited(resp.Body, 4096)
	var revokeErr revokeErrorResponse
	_ = json.Unmarshal([]byte(body), &revokeErr)
	if resp.StatusCode == http.StatusBadRequest && revokeErr.Error == "invalid_token" {
		return apperr.New(apperr.KindInvalidRefreshToken, "refresh token invalid or expired")
	}

	log.LogWarnWithFields("idp", "Token revocation failed", map[string]any{
		"status": resp.StatusCode,
		"error":  revokeErr.Error,
	})
	return apperr.Newf(apperr.KindServer, "token revocation failed: %d", resp.StatusCode)
}
