// Package idtoken turns an identity token into the user identity the relay
// works with. The google variant verifies signatures against Google's keys;
// the local variant trusts the token as issued by the in-process mock.
package idtoken

import (
	"context"
	"fmt"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/config"
)

// UserInfo is the identity extracted from a validated ID token.
// ExternalIdentifier is the provider's stable subject and the join key to
// the local user record.
type UserInfo struct {
	Email              string `json:"email"`
	FirstName          string `json:"first_name"`
	ExternalIdentifier string `json:"external_identifier"`
}

// Validator verifies an ID token issued for audience and extracts its identity
type Validator interface {
	Validate(ctx context.Context, rawIDToken, audience string) (*UserInfo, error)
}

// identityClaims are the claims both variants require
type identityClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

func (c identityClaims) userInfo() (*UserInfo, error) {
	var missing []string
	if c.Email == "" {
		missing = append(missing, "email")
	}
	if c.Name == "" {
		missing = append(missing, "name")
	}
	if c.Subject == "" {
		missing = append(missing, "sub")
	}
	if len(missing) > 0 {
		return nil, apperr.Newf(apperr.KindInvalidIdToken, "id token without credentials: missing %v", missing)
	}
	return &UserInfo{
		Email:              c.Email,
		FirstName:          c.Name,
		ExternalIdentifier: c.Subject,
	}, nil
}

// NewValidator selects the validator for platform
func NewValidator(ctx context.Context, platform config.Platform) (Validator, error) {
	switch platform {
	case config.PlatformGoogle:
		return NewGoogleValidator(ctx), nil
	case config.PlatformLocal:
		return NewLocalValidator(), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}
}
