// Package httpadapter serves health, readiness, metrics and the read-only
// AQHI window endpoint.
package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/aqhi-etl/internal/aqhi"
	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/ingest"
)

// WindowReader returns the banded AQHI windows of a city.
type WindowReader interface {
	AQHIWindows(ctx context.Context, wq ingest.WindowQuery) ([]aqhi.Point, error)
}

// Server exposes health, readiness, metrics and window HTTP endpoints.
type Server struct {
	httpServer *http.Server
	windows    WindowReader
	logger     *slog.Logger
}

type windowResponse struct {
	City   string       `json:"city"`
	Hours  int          `json:"hours"`
	Points []aqhi.Point `json:"points"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// GET /cities/{key}/aqhi routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, windows WindowReader, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		windows: windows,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /cities/{key}/aqhi", s.handleWindows)

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

// handleWindows accepts ?since=RFC3339 and ?hours=N.
func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	wq := ingest.WindowQuery{CityKey: r.PathValue("key"), Hours: aqhi.WindowHours}

	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid since: expected RFC3339"})
			return
		}
		wq.Since = since.UTC()
	}
	if v := q.Get("hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid hours: expected a positive integer"})
			return
		}
		wq.Hours = hours
	}

	points, err := s.windows.AQHIWindows(r.Context(), wq)
	switch {
	case errors.Is(err, domain.ErrCityNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "city not found: " + wq.CityKey})
		return
	case err != nil:
		s.logger.Error("aqhi window query failed", "city", wq.CityKey, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if points == nil {
		points = []aqhi.Point{}
	}
	writeJSON(w, http.StatusOK, windowResponse{City: wq.CityKey, Hours: wq.Hours, Points: points})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
