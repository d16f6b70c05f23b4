package idp

import (
	"context"
)

// Tokens is the triple an authorization server issues on a code or
// refresh-token grant
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
}

// CodeExchanger trades an authorization code for tokens. redirectURI must be
// identical to the one sent in the authorization request.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*Tokens, error)
}

// TokenRefresher runs a refresh-token grant. Callers must replace the
// presented refresh token with the returned one.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
}

// TokenRevoker revokes a refresh token at the authorization server
type TokenRevoker interface {
	Revoke(ctx context.Context, refreshToken string) error
}

// UserChecker confirms a local account exists for an external identifier
type UserChecker interface {
	EnsureUserExists(ctx context.Context, externalID string) error
}

// Provider bundles the capabilities of one platform variant
type Provider struct {
	Name string
	CodeExchanger
	TokenRefresher
	TokenRevoker
	UserChecker
}
