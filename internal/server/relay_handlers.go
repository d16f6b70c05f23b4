package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/auth"
	"github.com/dgellow/auth-relay/internal/cookie"
	jsonwriter "github.com/dgellow/auth-relay/internal/json"
	"github.com/dgellow/auth-relay/internal/log"
	"github.com/dgellow/auth-relay/internal/storage"
	"github.com/dgellow/auth-relay/internal/urlutil"
	"github.com/go-playground/validator/v10"
)

// AccessTokenResponse is the body of a successful exchange or refresh
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type exchangeRequest struct {
	State string `json:"state" validate:"required,uuid"`
}

// RelayHandlers serves the browser-facing authentication endpoints
type RelayHandlers struct {
	service    *auth.Service
	codec      *cookie.Codec
	errors     *ErrorWriter
	backendURL string
	validate   *validator.Validate
}

// NewRelayHandlers creates the handlers. Responses that finish a browser
// round trip redirect to backendURL.
func NewRelayHandlers(service *auth.Service, codec *cookie.Codec, backendURL string) *RelayHandlers {
	return &RelayHandlers{
		service:    service,
		codec:      codec,
		errors:     NewErrorWriter(codec, backendURL),
		backendURL: backendURL,
		validate:   validator.New(),
	}
}

// Register mounts every endpoint on mux below the codec's base path, the
// same path the refresh cookies are scoped to
func (h *RelayHandlers) Register(mux *http.ServeMux) {
	prefix := h.codec.BasePath()
	mount := func(endpoint string) string { return urlutil.RoutePath(prefix, endpoint) }
	mux.HandleFunc("GET "+mount(PathStateful), h.StatefulHandler)
	mux.HandleFunc("GET "+mount(PathLoginRedirect), h.LoginRedirectHandler)
	mux.HandleFunc("GET "+mount(PathSignupRedirect), h.SignupRedirectHandler)
	mux.HandleFunc("PUT "+mount(PathExchangeRefreshForAccess), h.ExchangeRefreshForAccessHandler)
	mux.HandleFunc("PUT "+mount(PathRefreshToken), h.RefreshTokenHandler)
	mux.HandleFunc("PUT "+mount(PathLogout), h.LogoutHandler)
}

// StatefulHandler starts a handshake and hands its state to the frontend
func (h *RelayHandlers) StatefulHandler(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.CreateState(r.Context())
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if err := h.codec.SetState(w, cookie.NewSession(state, false)); err != nil {
		h.errors.Write(w, r, apperr.Wrap(apperr.KindServer, "cannot write state cookie", err))
		return
	}
	http.Redirect(w, r, h.backendURL, http.StatusFound)
}

type codeRedirect struct {
	state     string
	code      string
	fromPopup bool
}

func parseCodeRedirect(r *http.Request) (*codeRedirect, error) {
	q := r.URL.Query()
	cr := &codeRedirect{state: q.Get("state"), code: q.Get("code"), fromPopup: true}
	if cr.state == "" || cr.code == "" {
		return nil, apperr.New(apperr.KindValidation, "state and code are required")
	}
	if raw := q.Get("redirected_from_popup"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, apperr.Newf(apperr.KindValidation, "invalid redirected_from_popup %q", raw)
		}
		cr.fromPopup = v
	}
	return cr, nil
}

// LoginRedirectHandler receives the authorization server redirect after login
func (h *RelayHandlers) LoginRedirectHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cr, err := parseCodeRedirect(r)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	if cr.fromPopup {
		h.popupRedirect(w, r, cr, false)
		return
	}

	authState, err := h.service.ExchangeCodeForToken(ctx, cr.state, cr.code, PathLoginRedirect)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	info, err := h.service.GetUserInfo(ctx, authState.IDToken)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if err := h.service.EnsureUserExists(ctx, info.ExternalIdentifier); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if err := h.service.TemporarilyStore(ctx, authState); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	h.redirectWithRefreshToken(w, r, authState)
}

// SignupRedirectHandler receives the authorization server redirect after
// signup and registers the user
func (h *RelayHandlers) SignupRedirectHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cr, err := parseCodeRedirect(r)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	if cr.fromPopup {
		h.popupRedirect(w, r, cr, true)
		return
	}

	authState, err := h.service.ExchangeCodeForToken(ctx, cr.state, cr.code, PathSignupRedirect)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if _, err := h.service.CreateUser(ctx, authState.IDToken); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if err := h.service.TemporarilyStore(ctx, authState); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	h.redirectWithRefreshToken(w, r, authState)
}

// popupRedirect passes the code back to the page that opened the popup; the
// exchange happens on a later non-popup request
func (h *RelayHandlers) popupRedirect(w http.ResponseWriter, r *http.Request, cr *codeRedirect, signup bool) {
	if err := h.service.ValidateState(r.Context(), cr.state); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if err := h.codec.SetState(w, cookie.NewPopup(cr.code, signup)); err != nil {
		h.errors.Write(w, r, apperr.Wrap(apperr.KindServer, "cannot write state cookie", err))
		return
	}
	http.Redirect(w, r, h.backendURL, http.StatusFound)
}

func (h *RelayHandlers) redirectWithRefreshToken(w http.ResponseWriter, r *http.Request, authState *storage.AuthenticationState) {
	rc, err := cookie.NewRefreshTokenCookie(authState.RefreshToken, cookie.PathExchangeRefreshForAccess)
	if err == nil {
		err = h.codec.SetState(w, cookie.NewSession(authState.State, true))
	}
	if err == nil {
		err = h.codec.SetRefresh(w, rc)
	}
	if err != nil {
		h.errors.Write(w, r, apperr.Wrap(apperr.KindServer, "cannot write cookies", err))
		return
	}
	http.Redirect(w, r, h.backendURL, http.StatusFound)
}

// refreshTokenFromRequest fails with ResourceNotFound when no refresh cookie
// was sent
func refreshTokenFromRequest(r *http.Request) (string, error) {
	token, ok := cookie.RefreshTokenFromRequest(r)
	if !ok {
		return "", apperr.New(apperr.KindResourceNotFound, "invalid refresh token")
	}
	return token, nil
}

// exchange bodies carry a single uuid
const maxExchangeBodyBytes = 4 << 10

// ExchangeRefreshForAccessHandler consumes the handshake record and issues
// the first access token of the session
func (h *RelayHandlers) ExchangeRefreshForAccessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req exchangeRequest
	body := http.MaxBytesReader(w, r.Body, maxExchangeBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.errors.Write(w, r, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.errors.Write(w, r, apperr.Wrap(apperr.KindInvalidState, "invalid state", err))
		return
	}

	refreshToken, err := refreshTokenFromRequest(r)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	authState, err := h.service.GetTemporarilyStoredAccessToken(ctx, req.State, refreshToken)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	info, err := h.service.GetUserInfo(ctx, authState.IDToken)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	rc, err := cookie.NewRefreshTokenCookie(authState.RefreshToken, cookie.PathRefreshTokenGrant)
	if err == nil {
		err = h.codec.DeleteRefresh(w, cookie.PathRefreshTokenGrant)
	}
	if err == nil {
		err = h.codec.SetRefresh(w, rc)
	}
	if err == nil {
		err = h.codec.SetState(w, cookie.NewAuthenticated(info.FirstName))
	}
	if err != nil {
		h.errors.Write(w, r, apperr.Wrap(apperr.KindServer, "cannot write cookies", err))
		return
	}

	log.LogInfoWithFields("relay", "Access token issued", map[string]any{
		"external_identifier": info.ExternalIdentifier,
	})
	_ = jsonwriter.Write(w, AccessTokenResponse{AccessToken: authState.AccessToken})
}

// RefreshTokenHandler rotates the refresh token and issues a new access token
func (h *RelayHandlers) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	refreshToken, err := refreshTokenFromRequest(r)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	authState, err := h.service.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	info, err := h.service.GetUserInfo(ctx, authState.IDToken)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	rc, err := cookie.NewRefreshTokenCookie(authState.RefreshToken, cookie.PathRefreshTokenGrant)
	if err == nil {
		err = h.codec.SetState(w, cookie.NewAuthenticated(info.FirstName))
	}
	if err == nil {
		err = h.codec.SetRefresh(w, rc)
	}
	if err != nil {
		h.errors.Write(w, r, apperr.Wrap(apperr.KindServer, "cannot write cookies", err))
		return
	}
	_ = jsonwriter.Write(w, AccessTokenResponse{AccessToken: authState.AccessToken})
}

// LogoutHandler revokes the refresh token and clears every relay cookie
func (h *RelayHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	refreshToken, err := refreshTokenFromRequest(r)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if err := h.service.RevokeRefreshToken(r.Context(), refreshToken); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	if err := h.codec.DeleteRefresh(w, cookie.PathRefreshTokenGrant); err != nil {
		h.errors.Write(w, r, apperr.Wrap(apperr.KindServer, "cannot write cookies", err))
		return
	}
	h.codec.DeleteState(w)
	http.Redirect(w, r, h.backendURL, http.StatusSeeOther)
}
