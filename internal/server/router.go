package server

import (
	"net/http"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/cookie"
	jsonwriter "github.com/dgellow/auth-relay/internal/json"
	"github.com/dgellow/auth-relay/internal/log"
	"github.com/dgellow/auth-relay/internal/urlutil"
)

// Endpoint paths below the authentication route prefix
const (
	PathStateful                 = "/stateful"
	PathLoginRedirect            = "/login_redirect"
	PathSignupRedirect           = "/signup_redirect"
	PathExchangeRefreshForAccess = "/exchange_refresh_for_access"
	PathRefreshToken             = "/refresh_token"
	PathLogout                   = "/logout"
)

const (
	descUnauthorized        = "unauthorized"
	descInvalidRefreshToken = "refresh_token invalid or expired"
	descUserExists          = "user exists, please login"
	descUnexpectedIDToken   = "Failed to create user, unexpected id_token"
)

// Decision says how a failed request is answered. A redirect carries the
// error in the state cookie; otherwise the error is a JSON body.
type Decision struct {
	Redirect  bool
	ErrorCode int
	// ErrorDesc is empty when the error's own public message is used
	ErrorDesc string
	// DeleteRefresh names refresh cookies to expire alongside the redirect
	DeleteRefresh cookie.PathID
	Status        int
}

func redirectTo(code int, desc string, del cookie.PathID) Decision {
	return Decision{Redirect: true, ErrorCode: code, ErrorDesc: desc, DeleteRefresh: del}
}

func jsonFor(kind apperr.Kind) Decision {
	return Decision{Status: kind.Status()}
}

// Route picks the response for an error of kind raised while serving path
func Route(kind apperr.Kind, path string) Decision {
	switch {
	case kind == apperr.KindInvalidRefreshToken:
		switch path {
		case PathRefreshToken, PathLogout:
			return redirectTo(http.StatusUnauthorized, descInvalidRefreshToken, cookie.PathRefreshTokenGrant)
		}

	case kind == apperr.KindInvalidIdToken:
		switch path {
		case PathSignupRedirect:
			return redirectTo(http.StatusForbidden, descUnexpectedIDToken, "")
		case PathExchangeRefreshForAccess:
			return redirectTo(http.StatusForbidden, descUnexpectedIDToken, cookie.PathExchangeRefreshForAccess)
		case PathRefreshToken:
			return redirectTo(http.StatusForbidden, descUnexpectedIDToken, cookie.PathRefreshTokenGrant)
		}

	case kind == apperr.KindUnauthorized, kind == apperr.KindInvalidState:
		switch path {
		case PathLoginRedirect, PathSignupRedirect:
			return redirectTo(http.StatusUnauthorized, descUnauthorized, "")
		case PathExchangeRefreshForAccess:
			return redirectTo(http.StatusUnauthorized, descUnauthorized, cookie.PathExchangeRefreshForAccess)
		}

	case kind == apperr.KindResourceNotFound:
		switch path {
		case PathExchangeRefreshForAccess, PathRefreshToken, PathLogout, PathLoginRedirect:
			return redirectTo(http.StatusUnauthorized, descUnauthorized, "")
		}

	case kind == apperr.KindResourceAlreadyExists:
		if path == PathSignupRedirect {
			return redirectTo(http.StatusPaymentRequired, descUserExists, "")
		}

	case kind.Is(apperr.KindServer):
		switch path {
		case PathStateful, PathLoginRedirect, PathSignupRedirect:
			return redirectTo(http.StatusInternalServerError, "", "")
		case PathExchangeRefreshForAccess:
			return redirectTo(http.StatusInternalServerError, "", cookie.PathExchangeRefreshForAccess)
		case PathRefreshToken, PathLogout:
			return redirectTo(http.StatusInternalServerError, "", cookie.PathRefreshTokenGrant)
		}
	}
	return jsonFor(kind)
}

// ErrorWriter turns errors into the responses Route picks
type ErrorWriter struct {
	codec      *cookie.Codec
	backendURL string
}

func NewErrorWriter(codec *cookie.Codec, backendURL string) *ErrorWriter {
	return &ErrorWriter{codec: codec, backendURL: backendURL}
}

// Write answers r with err
func (e *ErrorWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	path := urlutil.StripRoutePrefix(r.URL.Path, e.codec.BasePath())
	decision := Route(kind, path)

	fields := map[string]any{
		"path":     r.URL.Path,
		"kind":     kind.String(),
		"redirect": decision.Redirect,
		"error":    err.Error(),
	}
	if kind.Is(apperr.KindServer) || kind == apperr.KindGeneric {
		log.LogErrorWithFields("relay", "Request failed", fields)
	} else {
		log.LogInfoWithFields("relay", "Request rejected", fields)
	}

	if !decision.Redirect {
		jsonwriter.WriteError(w, decision.Status, apperr.PublicMessage(err), kind.Code())
		return
	}

	desc := decision.ErrorDesc
	if desc == "" {
		desc = apperr.PublicMessage(err)
	}
	if cerr := e.codec.SetState(w, cookie.NewError(decision.ErrorCode, desc)); cerr != nil {
		log.LogError("Failed to write error state cookie: %v", cerr)
		jsonwriter.WriteError(w, http.StatusInternalServerError, apperr.PublicMessage(err), kind.Code())
		return
	}
	if decision.DeleteRefresh != "" {
		_ = e.codec.DeleteRefresh(w, decision.DeleteRefresh)
	}
	http.Redirect(w, r, e.backendURL, http.StatusFound)
}
