// Package server exposes download progress over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agleyzer/fansone-dl/internal/progress"
)

// ClusterInfo describes the replicated store, when one is in use.
type ClusterInfo interface {
	NodeID() string
	State() string
	LeaderAddr() string
	Peers() []string
}

// Server serves progress records from a repository
type Server struct {
	repo       progress.Repository
	cluster    ClusterInfo
	port       int
	logger     *slog.Logger
	started    time.Time
	httpServer *http.Server
}

// New creates a new HTTP server
func New(repo progress.Repository, port int, logger *slog.Logger) *Server {
	return &Server{
		repo:    repo,
		port:    port,
		logger:  logger,
		started: time.Now(),
	}
}

// SetCluster enables the /cluster/status endpoint.
func (s *Server) SetCluster(c ClusterInfo) {
	s.cluster = c
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /progress", s.handleList)
	mux.HandleFunc("GET /progress/{id}", s.handleRecord)
	mux.HandleFunc("GET /cluster/status", s.handleCluster)

	return s.loggingMiddleware(mux)
}

// Start starts the HTTP server and blocks until ctx is canceled
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	// Start server in a goroutine
	go func() {
		s.logger.Info("starting HTTP server", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	// Graceful shutdown
	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// recordView is the JSON shape of a record with derived fields
type recordView struct {
	progress.Record
	Percent float64 `json:"percent"`
}

func newRecordView(rec progress.Record) recordView {
	v := recordView{Record: rec}
	if rec.TotalSegments > 0 {
		v.Percent = float64(len(rec.CompletedSegments)) * 100 / float64(rec.TotalSegments)
	}
	return v
}

// handleHealth serves health check information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	records, err := s.repo.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	var completed int
	for _, rec := range records {
		if rec.Status == progress.StatusCompleted {
			completed++
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"stats": map[string]int{
			"videos":    len(records),
			"completed": completed,
		},
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.repo.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, newRecordView(rec))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := progress.VideoID(r.PathValue("id"))

	rec, err := s.repo.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no progress for video %s", id))
		return
	}
	s.writeJSON(w, http.StatusOK, newRecordView(*rec))
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("cluster mode is not enabled"))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"node_id": s.cluster.NodeID(),
		"state":   s.cluster.State(),
		"leader":  s.cluster.LeaderAddr(),
		"peers":   s.cluster.Peers(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
