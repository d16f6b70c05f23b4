package cookie

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// UserInfo is the display-only identity shown by the frontend
type UserInfo struct {
	Username string `json:"username"`
}

// StateCookie is the payload of the "sd" cookie. Every field is always
// encoded; unset optional fields appear as null.
type StateCookie struct {
	SessionIdentifier   *string   `json:"session_identifier"`
	ErrorCode           *int      `json:"error_code"`
	ErrorDesc           *string   `json:"error_desc"`
	RefreshTokenIsSet   bool      `json:"refresh_token_is_set"`
	UserInfo            *UserInfo `json:"user_info"`
	RedirectedFromPopup bool      `json:"redirected_from_popup"`
	Code                *string   `json:"code"`
	SessionState        *string   `json:"session_state"`
}

// SessionSignup marks a popup redirect that belongs to a signup
const SessionSignup = "signup"

// NewSession carries a freshly minted handshake state
func NewSession(state string, refreshTokenIsSet bool) StateCookie {
	return StateCookie{SessionIdentifier: &state, RefreshTokenIsSet: refreshTokenIsSet}
}

// NewError reports a failure to the frontend
func NewError(code int, desc string) StateCookie {
	return StateCookie{ErrorCode: &code, ErrorDesc: &desc}
}

// NewPopup hands the authorization code back to the window that opened the popup
func NewPopup(code string, signup bool) StateCookie {
	sc := StateCookie{RedirectedFromPopup: true, Code: &code}
	if signup {
		s := SessionSignup
		sc.SessionState = &s
	}
	return sc
}

// NewAuthenticated marks a browser holding a refresh cookie
func NewAuthenticated(username string) StateCookie {
	return StateCookie{RefreshTokenIsSet: true, UserInfo: &UserInfo{Username: username}}
}

type stateClaims struct {
	StateCookie
	jwt.RegisteredClaims
}

// EncodeState signs the whole cookie payload with HS256
func (c *Codec) EncodeState(sc StateCookie) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{StateCookie: sc})
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing state cookie: %w", err)
	}
	return signed, nil
}

// DecodeState verifies and decodes a value produced by EncodeState
func (c *Codec) DecodeState(raw string) (*StateCookie, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.privateKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid state cookie: %w", err)
	}
	return &claims.StateCookie, nil
}
