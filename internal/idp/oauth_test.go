package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dgellow/auth-relay/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "relay-client"
	testClientSecret = "relay-secret"
	testRedirectURI  = "https://app.example.com/auth/login_redirect"
)

// fakeAuthorizationServer is a minimal token endpoint that rotates refresh
// tokens and insists on the redirect URI it issued the code for
type fakeAuthorizationServer struct {
	*httptest.Server
	discoveryHits atomic.Int32
	discoveryDown atomic.Bool
	rotation      atomic.Int32
}

func newFakeAuthorizationServer(t *testing.T) *fakeAuthorizationServer {
	t.Helper()
	f := &fakeAuthorizationServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+wellKnownPath, func(w http.ResponseWriter, r *http.Request) {
		f.discoveryHits.Add(1)
		if f.discoveryDown.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"issuer":         f.URL,
			"token_endpoint": f.URL + "/discovered/token",
		})
	})
	token := func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		if r.PostForm.Get("client_id") != testClientID || r.PostForm.Get("client_secret") != testClientSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "code123" || r.PostForm.Get("redirect_uri") != testRedirectURI {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "A",
				"refresh_token": "B",
				"id_token":      "I",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "refresh_token":
			if r.PostForm.Get("refresh_token") == "revoked" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
			n := f.rotation.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "A" + string(rune('0'+n)),
				"refresh_token": "R" + string(rune('0'+n)),
				"id_token":      "I" + string(rune('0'+n)),
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		}
	}
	mux.HandleFunc("POST /discovered/token", token)
	mux.HandleFunc("POST /token", token)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newTestGateway(f *fakeAuthorizationServer) *OAuthGateway {
	discovery := NewDiscovery(f.URL+wellKnownPath, f.URL+"/token", f.Client())
	return NewOAuthGateway(testClientID, testClientSecret, discovery, f.Client())
}

func TestOAuthGateway_ExchangeCode(t *testing.T) {
	f := newFakeAuthorizationServer(t)
	g := newTestGateway(f)

	tokens, err := g.ExchangeCode(context.Background(), "code123", testRedirectURI)
	require.NoError(t, err)
	assert.Equal(t, &Tokens{AccessToken: "A", RefreshToken: "B", IDToken: "I"}, tokens)
	assert.Equal(t, int32(1), f.discoveryHits.Load())
}

func TestOAuthGateway_ExchangeCodeRedirectMismatch(t *testing.T) {
	f := newFakeAuthorizationServer(t)
	g := newTestGateway(f)

	_, err := g.ExchangeCode(context.Background(), "code123", "https://app.example.com/auth/signup_redirect")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestOAuthGateway_ExchangeCodeBadClient(t *testing.T) {
	f := newFakeAuthorizationServer(t)
	discovery := NewDiscovery(f.URL+wellKnownPath, f.URL+"/token", f.Client())
	g := NewOAuthGateway(testClientID, "wrong", discovery, f.Client())

	_, err := g.ExchangeCode(context.Background(), "code123", testRedirectURI)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestOAuthGateway_RefreshRotates(t *testing.T) {
	f := newFakeAuthorizationServer(t)
	g := newTestGateway(f)
	ctx := context.Background()

	first, err := g.Refresh(ctx, "B")
	require.NoError(t, err)
	second, err := g.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, "R1", first.RefreshToken)
	assert.Equal(t, "I1", first.IDToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
}

func TestOAuthGateway_RefreshRejected(t *testing.T) {
	f := newFakeAuthorizationServer(t)
	g := newTestGateway(f)

	_, err := g.Refresh(context.Background(), "revoked")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidRefreshToken, apperr.KindOf(err))
}

func TestOAuthGateway_ServerUnreachable(t *testing.T) {
	f := newFakeAuthorizationServer(t)
	g := newTestGateway(f)
	f.Close()

	_, err := g.Refresh(context.Background(), "B")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindServer))
}

func TestDiscovery_FallsBackOnFailure(t *testing.T) {
	f := newFakeAuthorizationServer(t)
	f.discoveryDown.Store(true)
	d := NewDiscovery(f.URL+wellKnownPath, f.URL+"/token", f.Client())

	assert.Equal(t, f.URL+"/token", d.TokenEndpoint(context.Background()))

	// the grant still goes through on the fallback endpoint
	g := NewOAuthGateway(testClientID, testClientSecret, d, f.Client())
	tokens, err := g.ExchangeCode(context.Background(), "code123", testRedirectURI)
	require.NoError(t, err)
	assert.Equal(t, "B", tokens.RefreshToken)
}

func TestDiscovery_NotCached(t *testing.T) {
	f := newFakeAuthorizationServer(t)
	d := NewDiscovery(f.URL+wellKnownPath, f.URL+"/token", f.Client())
	ctx := context.Background()

	assert.Equal(t, f.URL+"/discovered/token", d.TokenEndpoint(ctx))
	assert.Equal(t, f.URL+"/discovered/token", d.TokenEndpoint(ctx))
	assert.Equal(t, int32(2), f.discoveryHits.Load())

	f.discoveryDown.Store(true)
	assert.Equal(t, f.URL+"/token", d.TokenEndpoint(ctx))
}

func TestDiscovery_MissingTokenEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"issuer": "x"})
	}))
	defer srv.Close()

	d := NewDiscovery(srv.URL, "https://fallback.example.com/token", srv.Client())
	assert.Equal(t, "https://fallback.example.com/token", d.TokenEndpoint(context.Background()))
}

func TestDiscovery_CallerCancellationDoesNotAbortFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		writeJSON(w, http.StatusOK, map[string]string{"token_endpoint": "https://idp.example.com/discovered/token"})
	}))
	defer srv.Close()

	d := NewDiscovery(srv.URL, "https://fallback.example.com/token", srv.Client())
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	go func() { got <- d.TokenEndpoint(ctx) }()

	<-started
	cancel()
	close(release)

	assert.Equal(t, "https://idp.example.com/discovered/token", <-got)
}

func TestDiscovery_RevocationEndpoint(t *testing.T) {
	t.Run("advertised", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"token_endpoint":      "https://idp.example.com/token",
				"revocation_endpoint": "https://idp.example.com/revoke",
			})
		}))
		defer srv.Close()

		d := NewDiscovery(srv.URL, "https://fallback.example.com/token", srv.Client())
		assert.Equal(t, "https://idp.example.com/revoke", d.RevocationEndpoint(context.Background()))
	})

	t.Run("not advertised", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"token_endpoint": "https://idp.example.com/token"})
		}))
		defer srv.Close()

		d := NewDiscovery(srv.URL, "https://fallback.example.com/token", srv.Client())
		assert.Empty(t, d.RevocationEndpoint(context.Background()))
	})
}
