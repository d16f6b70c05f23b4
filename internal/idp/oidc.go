package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dgellow/auth-relay/internal/ioutil"
	"github.com/dgellow/auth-relay/internal/log"
	"golang.org/x/sync/singleflight"
)

const wellKnownPath = "/.well-known/openid-configuration"

// oidcDiscoveryDocument holds the discovery fields the relay uses
type oidcDiscoveryDocument struct {
	Issuer             string `json:"issuer"`
	TokenEndpoint      string `json:"token_endpoint"`
	RevocationEndpoint string `json:"revocation_endpoint"`
}

// Discovery resolves endpoints from a well-known configuration document.
// Every call fetches the document; concurrent fetches of the same URL share
// one request. Any failure yields the fallback endpoint.
type Discovery struct {
	wellKnownURL     string
	fallbackTokenURL string
	client           *http.Client
	group            singleflight.Group
}

func NewDiscovery(wellKnownURL, fallbackTokenURL string, client *http.Client) *Discovery {
	return &Discovery{
		wellKnownURL:     wellKnownURL,
		fallbackTokenURL: fallbackTokenURL,
		client:           client,
	}
}

// document fetches the discovery document. The shared fetch outlives any
// single caller's cancellation; the client timeout bounds it.
func (d *Discovery) document(ctx context.Context) (*oidcDiscoveryDocument, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := d.group.Do(d.wellKnownURL, func() (any, error) {
		return fetchOIDCDiscovery(shared, d.client, d.wellKnownURL)
	})
	if err != nil {
		log.LogWarnWithFields("idp", "Discovery failed", map[string]any{
			"url":   d.wellKnownURL,
			"error": err.Error(),
		})
		return nil, err
	}
	return v.(*oidcDiscoveryDocument), nil
}

// TokenEndpoint returns the discovered token endpoint or the fallback
func (d *Discovery) TokenEndpoint(ctx context.Context) string {
	doc, err := d.document(ctx)
	if err != nil {
		return d.fallbackTokenURL
	}
	return doc.TokenEndpoint
}

// RevocationEndpoint returns the discovered revocation endpoint, or "" when
// discovery fails or the document does not advertise one
func (d *Discovery) RevocationEndpoint(ctx context.Context) string {
	doc, err := d.document(ctx)
	if err != nil {
		return ""
	}
	return doc.RevocationEndpoint
}

func fetchOIDCDiscovery(ctx context.Context, client *http.Client, discoveryURL string) (*oidcDiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := ioutil.ReadLimited(resp.Body, 1024)
		return nil, fmt.Errorf("discovery endpoint returned status %d: %s", resp.StatusCode, body)
	}

	var discovery oidcDiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if discovery.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing token_endpoint")
	}
	return &discovery, nil
}
