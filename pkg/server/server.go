package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iddaa-lens/statsync/internal/config"
	"github.com/iddaa-lens/statsync/pkg/database/pool"
	"github.com/iddaa-lens/statsync/pkg/handlers/health"
	"github.com/iddaa-lens/statsync/pkg/handlers/integrations"
	"github.com/iddaa-lens/statsync/pkg/handlers/syncs"
	"github.com/iddaa-lens/statsync/pkg/logger"
	"github.com/iddaa-lens/statsync/pkg/metrics"
	"github.com/iddaa-lens/statsync/pkg/middleware"
)

// Deps are the collaborators the admin API exposes
type Deps struct {
	// DBPool backs the health check; nil skips the database probe
	DBPool          *pgxpool.Pool
	Integrations    integrations.Manager
	Runner          syncs.Runner
	DefaultProvider string
}

// Server represents the admin API server
type Server struct {
	router     *http.ServeMux
	httpServer *http.Server
	logger     *logger.Logger
	handlers   struct {
		health       *health.Handler
		integrations *integrations.Handler
		syncs        *syncs.Handler
	}
}

// New wires handlers and routes; it does not start listening
func New(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	s := &Server{
		router: http.NewServeMux(),
		logger: log,
	}

	if deps.DBPool != nil {
		p := deps.DBPool
		s.handlers.health = health.NewHandler(p, func() pool.Stats { return pool.GetStats(p) }, log)
	} else {
		s.handlers.health = health.NewHandler(nil, nil, log)
	}
	s.handlers.integrations = integrations.NewHandler(deps.Integrations, deps.DefaultProvider, log)
	s.handlers.syncs = syncs.NewHandler(deps.Runner, log)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           middleware.RequestLogger(log, middleware.CORS(cfg.Server.AllowedOrigin, s.router)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handlers.health.HealthCheck)
	s.router.Handle("GET /metrics", metrics.Handler())

	s.router.HandleFunc("GET /api/integrations", s.handlers.integrations.List)
	s.router.HandleFunc("PUT /api/integrations", s.handlers.integrations.Save)
	s.router.HandleFunc("DELETE /api/integrations", s.handlers.integrations.Delete)
	s.router.HandleFunc("PATCH /api/integrations/config", s.handlers.integrations.UpdateConfig)
	s.router.HandleFunc("POST /api/integrations/deactivate", s.handlers.integrations.Deactivate)

	s.router.HandleFunc("POST /api/sync/full", s.handlers.syncs.Full)
	s.router.HandleFunc("POST /api/sync/live", s.handlers.syncs.Live)
	s.router.HandleFunc("POST /api/sync/tenant", s.handlers.syncs.Tenant)
}

// Handler exposes the full middleware-wrapped handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().
		Str("action", "server_start").
		Str("addr", s.httpServer.Addr).
		Msg("Starting admin API server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed on %s: %w", s.httpServer.Addr, err)
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight requests and
// any on-demand sync runs they started
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.handlers.syncs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().
			Str("action", "server_shutdown_timeout").
			Msg("On-demand sync runs still in flight at shutdown")
	}
	return err
}
