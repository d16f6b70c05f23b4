package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/dgellow/auth-relay/internal/cookie"
	jsonwriter "github.com/dgellow/auth-relay/internal/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	unauthorized := func(del cookie.PathID) Decision {
		return Decision{Redirect: true, ErrorCode: 401, ErrorDesc: "unauthorized", DeleteRefresh: del}
	}
	badIDToken := func(del cookie.PathID) Decision {
		return Decision{Redirect: true, ErrorCode: 403, ErrorDesc: "Failed to create user, unexpected id_token", DeleteRefresh: del}
	}
	serverError := func(del cookie.PathID) Decision {
		return Decision{Redirect: true, ErrorCode: 500, DeleteRefresh: del}
	}
	expiredRefresh := Decision{Redirect: true, ErrorCode: 401, ErrorDesc: "refresh_token invalid or expired", DeleteRefresh: cookie.PathRefreshTokenGrant}

	tests := []struct {
		kind apperr.Kind
		path string
		want Decision
	}{
		{apperr.KindServer, PathStateful, serverError("")},
		{apperr.KindBackendStore, PathLoginRedirect, serverError("")},
		{apperr.KindTimeout, PathSignupRedirect, serverError("")},
		{apperr.KindDirectoryProvider, PathExchangeRefreshForAccess, serverError(cookie.PathExchangeRefreshForAccess)},
		{apperr.KindServer, PathRefreshToken, serverError(cookie.PathRefreshTokenGrant)},
		{apperr.KindServer, PathLogout, serverError(cookie.PathRefreshTokenGrant)},
		{apperr.KindServer, "/other", Decision{Status: 500}},

		{apperr.KindResourceNotFound, PathExchangeRefreshForAccess, unauthorized("")},
		{apperr.KindResourceNotFound, PathRefreshToken, unauthorized("")},
		{apperr.KindResourceNotFound, PathLogout, unauthorized("")},
		{apperr.KindResourceNotFound, PathLoginRedirect, unauthorized("")},
		{apperr.KindResourceNotFound, PathSignupRedirect, Decision{Status: 404}},

		{apperr.KindUnauthorized, PathLoginRedirect, unauthorized("")},
		{apperr.KindInvalidState, PathSignupRedirect, unauthorized("")},
		{apperr.KindInvalidState, PathExchangeRefreshForAccess, unauthorized(cookie.PathExchangeRefreshForAccess)},
		{apperr.KindUnauthorized, PathRefreshToken, Decision{Status: 401}},
		{apperr.KindInvalidState, PathStateful, Decision{Status: 401}},

		{apperr.KindInvalidRefreshToken, PathRefreshToken, expiredRefresh},
		{apperr.KindInvalidRefreshToken, PathLogout, expiredRefresh},
		{apperr.KindInvalidRefreshToken, PathExchangeRefreshForAccess, Decision{Status: 401}},

		{apperr.KindResourceAlreadyExists, PathSignupRedirect, Decision{Redirect: true, ErrorCode: 402, ErrorDesc: "user exists, please login"}},
		{apperr.KindResourceAlreadyExists, PathLoginRedirect, Decision{Status: 422}},

		{apperr.KindInvalidIdToken, PathSignupRedirect, badIDToken("")},
		{apperr.KindInvalidIdToken, PathExchangeRefreshForAccess, badIDToken(cookie.PathExchangeRefreshForAccess)},
		{apperr.KindInvalidIdToken, PathRefreshToken, badIDToken(cookie.PathRefreshTokenGrant)},
		{apperr.KindInvalidIdToken, PathLoginRedirect, Decision{Status: 401}},

		{apperr.KindBusinessLogic, PathSignupRedirect, Decision{Status: 409}},
		{apperr.KindValidation, PathLoginRedirect, Decision{Status: 400}},
		{apperr.KindValue, PathRefreshToken, Decision{Status: 400}},
		{apperr.KindGeneric, PathLoginRedirect, Decision{Status: 500}},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String()+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Route(tt.kind, tt.path))
		})
	}
}

func TestErrorWriter(t *testing.T) {
	codec := cookie.NewCodec("test-private-key", "prod", "auth")
	ew := NewErrorWriter(codec, "https://app.example.com")

	t.Run("redirect carries the error in the state cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/prod/auth/refresh_token", nil)
		ew.Write(rr, req, apperr.New(apperr.KindInvalidRefreshToken, "invalid refresh token"))

		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "https://app.example.com", rr.Header().Get("Location"))

		state := stateCookieFrom(t, codec, rr)
		require.NotNil(t, state.ErrorCode)
		assert.Equal(t, 401, *state.ErrorCode)
		assert.Equal(t, "refresh_token invalid or expired", *state.ErrorDesc)

		deleted := cookiesByName(rr)
		for _, path := range []string{"/refresh_token", "/logout"} {
			ck := deleted[codec.RefreshCookieName(path)]
			require.NotNil(t, ck, path)
			assert.Less(t, ck.MaxAge, 0)
			assert.Equal(t, codec.RefreshCookiePath(path), ck.Path)
		}
	})

	t.Run("server errors use their own message", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/prod/auth/stateful", nil)
		ew.Write(rr, req, apperr.New(apperr.KindBackendStore, "cannot create state"))

		assert.Equal(t, http.StatusFound, rr.Code)
		state := stateCookieFrom(t, codec, rr)
		assert.Equal(t, 500, *state.ErrorCode)
		assert.Equal(t, "cannot create state", *state.ErrorDesc)
	})

	t.Run("json body for unrouted errors", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/prod/auth/login_redirect", nil)
		ew.Write(rr, req, apperr.New(apperr.KindValidation, "state and code are required"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var body jsonwriter.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, jsonwriter.ErrorResponse{Message: "state and code are required", ErrorCode: 3002}, body)
		assert.Empty(t, rr.Result().Cookies())
	})

	t.Run("unclassified errors hide their message", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/prod/auth/login_redirect", nil)
		ew.Write(rr, req, errors.New("dial tcp: secret detail"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		var body jsonwriter.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "internal server error", body.Message)
		assert.Equal(t, 3000, body.ErrorCode)
	})
}

// cookiesByName keeps the last cookie written under each name
func cookiesByName(rr *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, ck := range rr.Result().Cookies() {
		out[ck.Name] = ck
	}
	return out
}

func stateCookieFrom(t *testing.T, codec *cookie.Codec, rr *httptest.ResponseRecorder) *cookie.StateCookie {
	t.Helper()
	ck := cookiesByName(rr)[cookie.StateCookieName]
	require.NotNil(t, ck, "state cookie not set")
	state, err := codec.DecodeState(ck.Value)
	require.NoError(t, err)
	return state
}
