// ABOUTME: HTTP server exposing the MCP SSE transport and dashboard REST API
// ABOUTME: Owns route registration, lifecycle, and graceful shutdown

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/memlab/memgate/internal/auth"
	"github.com/memlab/memgate/internal/backend"
	"github.com/memlab/memgate/internal/store"
	"github.com/memlab/memgate/internal/tools"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Config holds the collaborators and settings for the HTTP server.
type Config struct {
	Addr     string
	Registry *tools.Registry
	Auth     *auth.Gateway
	Backend  *backend.Client
	Users    store.UserStore // nil in remote auth mode; disables local user routes
	Verifier *auth.JWTVerifier
	Logger   *slog.Logger

	ServerName    string
	ServerVersion string
}

// Server is the networked surface of the gateway: the MCP SSE transport
// under /mcp/ and the dashboard REST API under /api/v1/.
type Server struct {
	registry *tools.Registry
	auth     *auth.Gateway
	backend  *backend.Client
	users    store.UserStore
	verifier *auth.JWTVerifier
	logger   *slog.Logger

	serverName    string
	serverVersion string

	sessions   *sessionRegistry
	httpServer *http.Server
}

// New creates the HTTP server and registers its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("auth gateway is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("backend client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		registry:      cfg.Registry,
		auth:          cfg.Auth,
		backend:       cfg.Backend,
		users:         cfg.Users,
		verifier:      cfg.Verifier,
		logger:        logger.With("component", "server"),
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
		sessions:      newSessionRegistry(),
	}

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// RegisterRoutes registers all endpoints on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// MCP SSE transport
	mux.HandleFunc("GET /mcp/{client}/sse", s.handleSSE)
	mux.HandleFunc("POST /mcp/messages", s.handleMessages)
	mux.HandleFunc("POST /mcp/{client}/messages", s.handleMessages)

	// Dashboard REST API
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/validate", s.handleValidate)
	mux.HandleFunc("GET /api/v1/auth/me", s.handleMe)
	mux.HandleFunc("GET /api/v1/users", s.handleUsers)

	mux.HandleFunc("GET /health", s.handleHealth)
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}

// handleHealth reports liveness. It never touches the backend so a broken
// upstream does not flap the gateway's own health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"name":    s.serverName,
		"version": s.serverVersion,
	})
}

// limitBody caps how much of a request body a JSON handler will read.
func limitBody(r *http.Request) io.Reader {
	return io.LimitReader(r.Body, MaxRequestBodySize)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"detail": message})
}
