package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"costwatch/internal/api/health"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Addr           string
	ServiceName    string
	Version        string
	MetricsHandler http.Handler // nil when the metrics backend is not scraped
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures the ops HTTP server
func NewServer(cfg ServerConfig, healthHandler *health.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewMux(cfg, healthHandler, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if httpServer.Addr == "" {
		httpServer.Addr = ":8080"
	}

	log.Infof("HTTP server configured on %s", httpServer.Addr)

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// NewMux registers the ops routes
func NewMux(cfg ServerConfig, healthHandler *health.Handler, log *logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoints (Kubernetes probes)
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)

	if cfg.MetricsHandler != nil {
		mux.Handle("/metrics", cfg.MetricsHandler)
		log.Info("✓ Prometheus metrics registered at /metrics")
	}

	// Root endpoint (service info)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	return mux
}

// Start begins listening for HTTP requests
// Blocks until server is stopped or encounters an error
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
// Waits for active connections to complete within timeout
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}
