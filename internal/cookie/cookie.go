// Package cookie encodes the two cookies the relay hands to browsers: the
// signed state cookie "sd" that carries session and error information to the
// frontend, and the refresh-token cookies that are each scoped to one exact
// endpoint path.
package cookie

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgellow/auth-relay/internal/log"
)

const (
	StateCookieName     = "sd"
	refreshCookieFamily = "rt"
)

// PathID names a set of endpoints a refresh cookie may be disclosed to
type PathID string

const (
	PathExchangeRefreshForAccess PathID = "exchange_refresh_for_access_token"
	PathRefreshTokenGrant        PathID = "refresh_token_grant"
)

var allowedPaths = map[PathID][]string{
	PathExchangeRefreshForAccess: {"/exchange_refresh_for_access"},
	PathRefreshTokenGrant:        {"/refresh_token", "/logout"},
}

var ErrUnknownPathID = errors.New("unknown refresh cookie path id")

// AllowedPaths returns the endpoint paths for id
func AllowedPaths(id PathID) ([]string, error) {
	paths, ok := allowedPaths[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPathID, id)
	}
	return paths, nil
}

// RefreshTokenCookie is a raw refresh token bound to an allowed path set.
// Build it with NewRefreshTokenCookie.
type RefreshTokenCookie struct {
	RefreshToken string
	PathID       PathID
}

func NewRefreshTokenCookie(refreshToken string, id PathID) (*RefreshTokenCookie, error) {
	if _, err := AllowedPaths(id); err != nil {
		return nil, err
	}
	return &RefreshTokenCookie{RefreshToken: refreshToken, PathID: id}, nil
}

// Codec writes cookies for one deployment stage and route prefix
type Codec struct {
	privateKey  []byte
	stage       string
	routePrefix string
}

func NewCodec(privateKey, stage, routePrefix string) *Codec {
	return &Codec{
		privateKey:  []byte(privateKey),
		stage:       stage,
		routePrefix: strings.Trim(routePrefix, "/"),
	}
}

// RefreshCookieName is unique per stage, route prefix and endpoint, e.g.
// "rt&path.prod.auth.refresh_token"
func (c *Codec) RefreshCookieName(path string) string {
	return refreshCookieFamily + "&path." + c.stage + "." + c.routePrefix + strings.ReplaceAll(path, "/", ".")
}

// BasePath is the public path the relay endpoints live under,
// "/{stage}/{prefix}". Refresh cookies are scoped below it, so the relay
// must be served at exactly this path.
func (c *Codec) BasePath() string {
	var segments []string
	for _, s := range []string{strings.Trim(c.stage, "/"), c.routePrefix} {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return "/" + strings.Join(segments, "/")
}

// RefreshCookiePath is the exact path the browser will send the cookie to
func (c *Codec) RefreshCookiePath(path string) string {
	return strings.TrimSuffix(c.BasePath(), "/") + path
}

// SetRefresh adds one cookie per allowed path of rc
func (c *Codec) SetRefresh(w http.ResponseWriter, rc *RefreshTokenCookie) error {
	paths, err := AllowedPaths(rc.PathID)
	if err != nil {
		return err
	}
	for _, path := range paths {
		http.SetCookie(w, &http.Cookie{
			Name:     c.RefreshCookieName(path),
			Value:    rc.RefreshToken,
			Path:     c.RefreshCookiePath(path),
			Secure:   true,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}
	log.LogTraceWithFields("cookie", "Refresh cookies set", map[string]any{
		"path_id": string(rc.PathID),
		"paths":   paths,
	})
	return nil
}

// DeleteRefresh expires the cookies SetRefresh wrote for id
func (c *Codec) DeleteRefresh(w http.ResponseWriter, id PathID) error {
	paths, err := AllowedPaths(id)
	if err != nil {
		return err
	}
	for _, path := range paths {
		http.SetCookie(w, &http.Cookie{
			Name:     c.RefreshCookieName(path),
			Value:    "",
			Path:     c.RefreshCookiePath(path),
			MaxAge:   -1,
			Secure:   true,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
	}
	return nil
}

// RefreshTokenFromRequest returns the value of the first refresh cookie on r
func RefreshTokenFromRequest(r *http.Request) (string, bool) {
	fragment := refreshCookieFamily + "&path."
	for _, ck := range r.Cookies() {
		if strings.Contains(ck.Name, fragment) {
			return ck.Value, true
		}
	}
	return "", false
}

// SetState signs sc and stores it under "sd" on path "/"
func (c *Codec) SetState(w http.ResponseWriter, sc StateCookie) error {
	value, err := c.EncodeState(sc)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// DeleteState expires the "sd" cookie
func (c *Codec) DeleteState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
