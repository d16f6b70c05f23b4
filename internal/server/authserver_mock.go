package server

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/crypto"
	jsonwriter "github.com/dgellow/auth-relay/internal/json"
	"github.com/dgellow/auth-relay/internal/log"
	"github.com/dgellow/auth-relay/internal/urlutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"
	fositestorage "github.com/ory/fosite/storage"
)

const (
	mockAccessTokenTTL  = time.Hour
	mockRefreshTokenTTL = 30 * 24 * time.Hour
	mockIDTokenTTL      = time.Hour
	mockSigningKeyID    = "local-1"
)

// LocalUser is the identity every login at the mock authorization server
// resolves to
type LocalUser struct {
	Subject string
	Email   string
	Name    string
}

var DefaultLocalUser = LocalUser{
	Subject: "local-user-0001",
	Email:   "local.user@example.com",
	Name:    "Local",
}

// AuthorizationServerMockConfig configures the mock. Issuer is the public
// base URL the mock is mounted at.
type AuthorizationServerMockConfig struct {
	Issuer            string
	ClientID          string
	ClientSecret      string
	RedirectURIPrefix string
	User              LocalUser
}

// AuthorizationServerMock is an auto-approving OAuth2 authorization server
// for the local platform. It issues opaque access and refresh tokens with
// rotation on refresh, and an RS256 ID token on every token response.
type AuthorizationServerMock struct {
	provider     fosite.OAuth2Provider
	issuer       string
	endpoints    mockEndpoints
	redirectURIs []string
	signingKey   *rsa.PrivateKey
	user         LocalUser
}

type mockEndpoints struct {
	authorize string
	token     string
	revoke    string
}

func mockEndpointsFor(issuer string) (mockEndpoints, error) {
	var e mockEndpoints
	for _, ep := range []struct {
		dst  *string
		path string
	}{
		{&e.authorize, "auth"},
		{&e.token, "token"},
		{&e.revoke, "revoke"},
	} {
		u, err := urlutil.JoinPath(issuer, ep.path)
		if err != nil {
			return mockEndpoints{}, err
		}
		*ep.dst = u
	}
	return e, nil
}

func acceptAnyScope(_ []string, _ string) bool {
	return true
}

// NewAuthorizationServerMock registers cfg.ClientID as the only confidential
// client, allowed to redirect to the login and signup endpoints below
// cfg.RedirectURIPrefix
func NewAuthorizationServerMock(cfg AuthorizationServerMockConfig) (*AuthorizationServerMock, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("issuer and client id are required")
	}
	if cfg.User.Subject == "" {
		cfg.User = DefaultLocalUser
	}
	issuer := strings.TrimSuffix(cfg.Issuer, "/")
	endpoints, err := mockEndpointsFor(issuer)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer: %w", err)
	}

	hashedSecret, err := crypto.HashClientSecret(cfg.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash client secret: %w", err)
	}
	hmacSecret, err := crypto.GenerateSecret()
	if err != nil {
		return nil, err
	}
	signingKey, err := crypto.GenerateSigningKey()
	if err != nil {
		return nil, err
	}

	redirectURIs := []string{
		cfg.RedirectURIPrefix + PathLoginRedirect,
		cfg.RedirectURIPrefix + PathSignupRedirect,
	}

	store := fositestorage.NewMemoryStore()
	store.Clients[cfg.ClientID] = &fosite.DefaultClient{
		ID:            cfg.ClientID,
		Secret:        hashedSecret,
		RedirectURIs:  redirectURIs,
		Scopes:        []string{"openid", "email", "profile", "offline"},
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
		Public:        false,
	}

	fositeConfig := &compose.Config{
		AccessTokenLifespan:      mockAccessTokenTTL,
		RefreshTokenLifespan:     mockRefreshTokenTTL,
		AuthorizeCodeLifespan:    10 * time.Minute,
		TokenURL:                 endpoints.token,
		ScopeStrategy:            acceptAnyScope,
		AudienceMatchingStrategy: fosite.DefaultAudienceMatchingStrategy,
		// every grant gets a refresh token, not only offline ones
		RefreshTokenScopes: []string{},
	}

	provider := compose.Compose(
		fositeConfig,
		store,
		&compose.CommonStrategy{
			CoreStrategy: compose.NewOAuth2HMACStrategy(fositeConfig, hmacSecret, nil),
		},
		nil, // hasher
		compose.OAuth2AuthorizeExplicitFactory,
		compose.OAuth2RefreshTokenGrantFactory,
		compose.OAuth2TokenRevocationFactory,
	)

	log.LogInfoWithFields("authserver", "Local authorization server ready", map[string]any{
		"issuer":    issuer,
		"client_id": cfg.ClientID,
	})
	return &AuthorizationServerMock{
		provider:     provider,
		issuer:       issuer,
		endpoints:    endpoints,
		redirectURIs: redirectURIs,
		signingKey:   signingKey,
		user:         cfg.User,
	}, nil
}

// Register mounts the mock endpoints on mux below prefix
func (m *AuthorizationServerMock) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+urlutil.RoutePath(prefix, "/auth"), m.AuthorizeHandler)
	mux.HandleFunc("POST "+urlutil.RoutePath(prefix, "/token"), m.TokenHandler)
	mux.HandleFunc("POST "+urlutil.RoutePath(prefix, "/revoke"), m.RevokeHandler)
	mux.HandleFunc("GET "+urlutil.RoutePath(prefix, "/.well-known/openid-configuration"), m.WellKnownHandler)
}

func (m *AuthorizationServerMock) newSession() *fosite.DefaultSession {
	now := time.Now()
	return &fosite.DefaultSession{
		Subject:  m.user.Subject,
		Username: m.user.Email,
		ExpiresAt: map[fosite.TokenType]time.Time{
			fosite.AccessToken:  now.Add(mockAccessTokenTTL),
			fosite.RefreshToken: now.Add(mockRefreshTokenTTL),
		},
	}
}

// AuthorizeHandler approves every request from the registered client and
// redirects back with state, code and scope
func (m *AuthorizationServerMock) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	redirectURI := r.URL.Query().Get("redirect_uri")
	if !slices.Contains(m.redirectURIs, redirectURI) {
		jsonwriter.WriteKind(w, apperr.Newf(apperr.KindValidation, "invalid redirect uri %s", redirectURI))
		return
	}

	ar, err := m.provider.NewAuthorizeRequest(ctx, r)
	if err != nil {
		log.LogError("Authorize request error: %v", err)
		m.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}
	for _, scope := range ar.GetRequestedScopes() {
		ar.GrantScope(scope)
	}

	response, err := m.provider.NewAuthorizeResponse(ctx, ar, m.newSession())
	if err != nil {
		log.LogError("Authorize response error: %v", err)
		m.provider.WriteAuthorizeError(ctx, w, ar, err)
		return
	}

	http.Redirect(w, r, redirectURI+"?"+response.GetParameters().Encode(), http.StatusFound)
}

// TokenHandler serves the authorization_code and refresh_token grants. A
// refresh grant invalidates the presented refresh token.
func (m *AuthorizationServerMock) TokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accessRequest, err := m.provider.NewAccessRequest(ctx, r, &fosite.DefaultSession{})
	if err != nil {
		log.LogDebug("Access request error: %v", err)
		m.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	response, err := m.provider.NewAccessResponse(ctx, accessRequest)
	if err != nil {
		log.LogError("Access response error: %v", err)
		m.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	idToken, err := m.signIDToken(accessRequest.GetClient().GetID(), time.Now())
	if err != nil {
		log.LogError("Failed to sign id token: %v", err)
		m.provider.WriteAccessError(ctx, w, accessRequest, fosite.ErrServerError.WithHint("Failed to sign id token"))
		return
	}
	response.SetExtra("id_token", idToken)

	m.provider.WriteAccessResponse(ctx, w, accessRequest, response)
}

// RevokeHandler implements RFC 7009 token revocation
func (m *AuthorizationServerMock) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := m.provider.NewRevocationRequest(ctx, r)
	if err != nil {
		log.LogDebug("Revocation request error: %v", err)
	}
	m.provider.WriteRevocationResponse(ctx, w, err)
}

// WellKnownHandler serves the discovery document the relay reads its token
// endpoint from
func (m *AuthorizationServerMock) WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	_ = jsonwriter.Write(w, map[string]any{
		"issuer":                                m.issuer,
		"authorization_endpoint":                m.endpoints.authorize,
		"token_endpoint":                        m.endpoints.token,
		"revocation_endpoint":                   m.endpoints.revoke,
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "client_secret_basic"},
	})
}

type localIDTokenClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

func (m *AuthorizationServerMock) signIDToken(audience string, now time.Time) (string, error) {
	claims := localIDTokenClaims{
		Email: m.user.Email,
		Name:  m.user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   m.user.Subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(mockIDTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = mockSigningKeyID
	return token.SignedString(m.signingKey)
}
