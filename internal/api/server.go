// Package api provides the HTTP REST API for Fieldcore.
//
// It exposes the ingestion endpoints field gateways upload to, the query
// endpoints dashboards read from, and catalog management.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ventra-io/fieldcore/internal/audit"
	"github.com/ventra-io/fieldcore/internal/catalog"
	"github.com/ventra-io/fieldcore/internal/devstate"
	"github.com/ventra-io/fieldcore/internal/infrastructure/config"
	"github.com/ventra-io/fieldcore/internal/infrastructure/logging"
	"github.com/ventra-io/fieldcore/internal/ingest"
	"github.com/ventra-io/fieldcore/internal/mlog"
	"github.com/ventra-io/fieldcore/internal/views"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Catalog catalog.Repository
	States  *devstate.Store
	Ingest  *ingest.Service
	Log     *mlog.Log
	Views   *views.Service
	Audit   audit.Repository
	Version string
}

// Server is the HTTP API server for Fieldcore.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	catalog catalog.Repository
	states  *devstate.Store
	ingest  *ingest.Service
	log     *mlog.Log
	views   *views.Service
	audit   audit.Repository
	version string
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("catalog repository is required")
	}
	if deps.States == nil {
		return nil, fmt.Errorf("device state store is required")
	}
	if deps.Ingest == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if deps.Log == nil {
		return nil, fmt.Errorf("measurement log is required")
	}
	if deps.Views == nil {
		return nil, fmt.Errorf("views service is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit repository is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		catalog: deps.Catalog,
		states:  deps.States,
		ingest:  deps.Ingest,
		log:     deps.Log,
		views:   deps.Views,
		audit:   deps.Audit,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; the server is stopped
// with Close().
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       s.cfg.Timeouts.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.GetReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.GetWriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.GetIdleTimeout(),
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
