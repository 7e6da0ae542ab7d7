package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"trendboard/internal/api/health"
	"trendboard/internal/metrics"
	"trendboard/pkg/errors"
	"trendboard/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Port        int
	ServiceName string
	Version     string
	// Recalculate requests run the pipeline inline, so this bounds a full relabel
	WriteTimeout time.Duration
}

// Server serves the dashboard API, probes and metrics
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes
func NewServer(cfg ServerConfig, healthHandler *health.Handler, securities *SecurityHandler, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /health/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("GET /health/live", healthHandler.HandleLiveness)
	mux.Handle("GET /metrics", metrics.Handler())

	securities.Register(mux)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": cfg.ServiceName,
			"version": cfg.Version,
			"status":  "running",
		})
	})

	if cfg.Port <= 0 {
		cfg.Port = 8080
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           instrument(mux, log),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		},
		log: log,
	}
}

// Handler exposes the instrumented router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks until the server is shut down
func (s *Server) Start() error {
	s.log.Infow("Starting HTTP server", "addr", s.httpServer.Addr, "write_timeout", s.httpServer.WriteTimeout)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires. A recalculate
// still running then is cut off; its run is recorded as aborted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request duration per route pattern, logs API calls
// and turns handler panics into 500s.
func instrument(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				log.Errorw("handler panicked", "method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(p))
				rec.code = http.StatusInternalServerError
				http.Error(rec, `{"error":"internal error"}`, http.StatusInternalServerError)
			}

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			duration := time.Since(start)
			metrics.RecordHTTPRequest(route, rec.code, duration)
			if r.URL.Path != "/metrics" && r.URL.Path != "/health/live" {
				log.Debugw("request served", "route", route, "code", rec.code, "duration", duration)
			}
		}()

		next.ServeHTTP(rec, r)
	})
}
