// Package api is the HTTP façade over the run registry, task runner, and
// profile store. It is request/response glue: every behavior contract
// lives in the packages it calls.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"browserbridge/internal/infra/config"
	"browserbridge/internal/infra/middleware"
	"browserbridge/internal/profile"
	"browserbridge/internal/registry"
	"browserbridge/internal/runner"
)

// maxBodyBytes caps request bodies; these APIs carry small JSON payloads.
const maxBodyBytes = 1 << 20 // 1MB

// Deps bundles what the handlers need. Profiles may be nil for the task
// service, which has no profile surface beyond selecting one by id.
type Deps struct {
	Runs     *registry.Store
	Profiles *profile.Store
	Runner   *runner.Runner
	Logger   *slog.Logger
}

// Server hosts one of the two bridge services.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	server *http.Server
	mux    *http.ServeMux

	boundAddr string
	cancel    context.CancelFunc
}

// NewServer creates a server with the shared middleware chain. Routes are
// added by RegisterTaskRoutes / RegisterSessionRoutes before Start.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
	}
}

// Start begins serving. Non-blocking; the listener address is available
// via BoundAddr afterwards.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	handler := s.Handler(ctx)

	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.boundAddr = ln.Addr().String()

	go func() {
		s.deps.Logger.Info("http server started", "addr", s.boundAddr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.deps.Logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server. In-flight requests get the
// context's grace period; dispatched runs keep executing regardless.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// BoundAddr returns the actual listen address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// Handler wraps the route mux in the shared middleware chain. ctx bounds
// the rate limiter's cleanup goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	return middleware.SecurityHeaders(
		middleware.RequestID(
			middleware.RateLimit(ctx, s.cfg.RateLimitPerMin, s.cfg.RateLimitBurst)(
				middleware.BearerAuth(s.cfg.AuthToken, "/health")(s.mux),
			),
		),
	)
}

func (s *Server) registerHealth(service string) {
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service,
		})
	})
}
