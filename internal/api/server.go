// Package api serves the catalog over HTTP: reference data, datasets, jobs and runs as JSON
// resources, plus asynchronous lineage event ingestion.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lineage-io/catalog/internal/api/middleware"
	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/config"
	"github.com/lineage-io/catalog/internal/ingestion"
)

type (
	// RunLifecycle creates runs and records their transitions, notifying listeners.
	RunLifecycle interface {
		CreateRun(ctx context.Context, namespace, jobName string, meta catalog.RunMeta) (*catalog.Run, error)
		MarkRunAs(ctx context.Context, runID uuid.UUID, state catalog.RunState, at time.Time) (*catalog.Run, error)
	}

	// LineageQueue accepts lineage events for asynchronous ingestion.
	LineageQueue interface {
		Submit(event *ingestion.RunEvent) error
		SubmitBatch(events []*ingestion.RunEvent) (int, error)
	}

	// Dependencies are the runtime collaborators of the server. RateLimiter may be nil.
	Dependencies struct {
		Store       catalog.Store
		Runs        RunLifecycle
		Lineage     LineageQueue
		RateLimiter middleware.RateLimiter
	}

	// Server is the catalog HTTP API server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		startTime  time.Time
		version    string
		deps       Dependencies
	}

	// ServerOption configures optional Server behavior.
	ServerOption func(*Server)
)

// WithVersion sets the version reported by /health and the X-Catalog-Version header.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// WithServerLogger replaces the logger built from cfg.LogLevel.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer validates cfg and assembles the handler chain.
//
// Probe endpoints (/ping, /ready, /health) bypass authentication and rate limiting; every
// other route requires the API key when cfg.APIKeyHash is set.
func NewServer(cfg *ServerConfig, deps Dependencies, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	server := &Server{
		logger:  config.NewLogger(cfg.LogLevel),
		config:  cfg,
		version: "dev",
		deps:    deps,
	}

	for _, opt := range opts {
		opt(server)
	}

	var auth *middleware.APIKeyAuth

	if cfg.AuthEnabled() {
		var err error

		auth, err = middleware.NewAPIKeyAuth(cfg.APIKeyHash)
		if err != nil {
			return nil, fmt.Errorf("invalid server configuration: %w", err)
		}

		server.logger.Info("API key authentication enabled")
	} else {
		server.logger.Warn("CATALOG_API_KEY_HASH not set - authentication disabled")
	}

	if deps.RateLimiter == nil {
		server.logger.Warn("RateLimiter not configured - rate limiting disabled")
	}

	apiMux := http.NewServeMux()
	server.setupRoutes(apiMux)

	root := http.NewServeMux()
	server.setupProbes(root)
	root.Handle("/", middleware.Apply(apiMux,
		middleware.WithAuth(auth, server.logger),
		middleware.WithRateLimit(deps.RateLimiter, server.logger),
	))

	// Outermost first: correlation ids reach every log line, recovery covers the rest.
	handler := middleware.Apply(root,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(server.logger),
		middleware.WithRequestLogger(server.logger),
		middleware.WithCORS(&cfg.CORS),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	s.startTime = time.Now()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting catalog API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if closer, ok := s.deps.RateLimiter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Server shutdown completed")

	return nil
}
