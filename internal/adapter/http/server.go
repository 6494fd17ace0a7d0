// Package http exposes the operational endpoints of the tile service:
// health, readiness, metrics, and the raster service catalog.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
)

// ReadinessChecker reports whether the service is ready to take jobs.
type ReadinessChecker interface {
	Ready() bool
}

// Server exposes health, readiness, catalog, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /catalog, and
// /metrics routes.
func NewServer(addr string, ready ReadinessChecker, catalog domain.Catalog, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.HandleFunc("GET /catalog", handleCatalog(catalog))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !checker.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  "job consumer is not running",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// catalogEntry is the public view of a raster service.
type catalogEntry struct {
	Name               string  `json:"name"`
	Layer              string  `json:"layer"`
	Format             string  `json:"format"`
	MaxResolution      float64 `json:"max_resolution_meters"`
	MaxCellsPerRequest int     `json:"max_cells_per_request"`
}

func handleCatalog(catalog domain.Catalog) http.HandlerFunc {
	entries := make([]catalogEntry, 0, len(catalog))
	for _, name := range catalog.Names() {
		svc := catalog[name]
		entries = append(entries, catalogEntry{
			Name:               svc.Name,
			Layer:              svc.Layer,
			Format:             svc.Format,
			MaxResolution:      svc.MaxResolution,
			MaxCellsPerRequest: svc.MaxCellsPerRequest,
		})
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"services": entries})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
