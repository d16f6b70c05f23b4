package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dgellow/auth-relay/internal/log"
)

// HTTPServer manages the HTTP server lifecycle
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer creates a new HTTP server with the given handler and address
func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// HealthHandler handles health check requests
type HealthHandler struct{}

// NewHealthHandler creates a new health handler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// ServeHTTP implements http.Handler for health checks
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// RouterConfig says where the optional authorization server mock is mounted
// and which origins may call the relay. The relay itself is mounted at its
// cookie codec's base path.
type RouterConfig struct {
	AuthorizationRoutePrefix string
	AllowedOrigins           []string
}

// NewRouter mounts the relay endpoints, /health and, when mock is not nil,
// the local authorization server, behind the shared middleware chain
func NewRouter(cfg RouterConfig, relay *RelayHandlers, mock *AuthorizationServerMock) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", NewHealthHandler())
	relay.Register(mux)
	if mock != nil {
		mock.Register(mux, cfg.AuthorizationRoutePrefix)
	}

	// the last middleware runs first
	return ChainMiddleware(mux,
		NewCORSMiddleware(cfg.AllowedOrigins),
		NewLoggerMiddleware("http"),
		NewRecoverMiddleware("http"),
	)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	log.LogInfoWithFields("http", "HTTP server starting", map[string]any{
		"addr": h.server.Addr,
	})

	if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	log.LogInfoWithFields("http", "HTTP server stopping", map[string]any{
		"addr": h.server.Addr,
	})

	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.LogInfoWithFields("http", "HTTP server stopped", map[string]any{
		"addr": h.server.Addr,
	})
	return nil
}
