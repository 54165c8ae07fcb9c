// Package server exposes Prometheus metrics and health endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imedwei/docker-pbs-backup/internal/health"
)

// Server represents the HTTP server for metrics and health checks.
type Server struct {
	server    *http.Server
	logger    *slog.Logger
	checker   *health.Checker
	readiness *health.Readiness
}

// Config holds server configuration.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// New creates the server. It serves /metrics, /health, /ready and /live.
func New(config Config, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	checker := health.NewChecker()
	readiness := &health.Readiness{}

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", checker.Handler())
	mux.HandleFunc("GET /ready", readiness.Handler())
	mux.HandleFunc("GET /live", health.LivenessHandler())

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      mux,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
		logger:    logger,
		checker:   checker,
		readiness: readiness,
	}
}

// RegisterHealthCheck registers a health check function.
func (s *Server) RegisterHealthCheck(name string, checkFunc health.CheckFunc) {
	s.checker.RegisterCheck(name, checkFunc)
}

// SetReady flips the /ready endpoint.
func (s *Server) SetReady(ready bool) {
	s.readiness.SetReady(ready)
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
