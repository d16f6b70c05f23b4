package idtoken

import (
	"context"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
)

// LocalValidator reads the claims of tokens minted by the local
// authorization server mock without checking their signature. It must never
// be selected outside the local platform.
type LocalValidator struct {
	parser *jwt.Parser
}

func NewLocalValidator() *LocalValidator {
	return &LocalValidator{parser: jwt.NewParser()}
}

func (v *LocalValidator) Validate(_ context.Context, rawIDToken, _ string) (*UserInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(rawIDToken, claims); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidIdToken, "malformed id token", err)
	}

	str := func(name string) string {
		s, _ := claims[name].(string)
		return s
	}
	return identityClaims{
		Subject: str("sub"),
		Email:   str("email"),
		Name:    str("name"),
	}.userInfo()
}
