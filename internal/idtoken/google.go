package idtoken

import (
	"context"
	"slices"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/log"
)

const (
	GoogleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"
	GoogleIssuer   = "https://accounts.google.com"
)

// Google signs ID tokens with either issuer form
var googleIssuers = []string{GoogleIssuer, "accounts.google.com"}

// GoogleValidator verifies RS256 ID tokens against Google's published keys
type GoogleValidator struct {
	keySet  oidc.KeySet
	issuers []string
	now     func() time.Time
}

// NewGoogleValidator fetches signing keys lazily from Google's JWKS endpoint.
// The remote key set refreshes itself when it sees an unknown key id.
func NewGoogleValidator(ctx context.Context) *GoogleValidator {
	return NewGoogleValidatorWithKeySet(oidc.NewRemoteKeySet(ctx, GoogleCertsURL), googleIssuers...)
}

// NewGoogleValidatorWithKeySet verifies against keySet and accepts tokens from issuers
func NewGoogleValidatorWithKeySet(keySet oidc.KeySet, issuers ...string) *GoogleValidator {
	return &GoogleValidator{keySet: keySet, issuers: issuers, now: time.Now}
}

func (v *GoogleValidator) Validate(ctx context.Context, rawIDToken, audience string) (*UserInfo, error) {
	verifier := oidc.NewVerifier(GoogleIssuer, v.keySet, &oidc.Config{
		ClientID:        audience,
		SkipIssuerCheck: true,
		Now:             v.now,
	})

	token, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		log.LogDebugWithFields("idtoken", "ID token verification failed", map[string]any{
			"error": err.Error(),
		})
		return nil, apperr.Wrap(apperr.KindInvalidIdToken, "invalid id token", err)
	}
	if !slices.Contains(v.issuers, token.Issuer) {
		return nil, apperr.Newf(apperr.KindInvalidIdToken, "unexpected id token issuer %q", token.Issuer)
	}

	var claims identityClaims
	if err := token.Claims(&claims); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidIdToken, "malformed id token claims", err)
	}
	return claims.userInfo()
}
