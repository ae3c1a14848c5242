package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/relaykit/llm-relay/internal/config"
	"github.com/relaykit/llm-relay/internal/llmerr"
	"github.com/relaykit/llm-relay/internal/router"
	"github.com/relaykit/llm-relay/internal/types"
)

// Server exposes the router over HTTP.
type Server struct {
	router     *router.Router
	httpServer *http.Server
	logger     *logrus.Logger
	config     *config.ServerConfig
}

// NewServer creates a new server instance.
func NewServer(r *router.Router, cfg *config.ServerConfig, logger *logrus.Logger) *Server {
	return &Server{
		router: r,
		logger: logger,
		config: cfg,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting LLM relay server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping LLM relay server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/usage", s.handleUsage).Methods("GET")
	api.HandleFunc("/providers", s.handleProviders).Methods("GET")

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("HTTP request")
	})
}

// handleGenerate accepts a normalized generation request.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	resp, err := s.router.Generate(r.Context(), &req)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleHealth runs the concurrent health-check fan-out.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results := s.router.TestAll(r.Context())

	healthy := true
	for _, result := range results {
		if !result.Healthy {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"healthy":   healthy,
		"providers": results,
		"timestamp": time.Now().Unix(),
	})
}

// handleUsage returns the windowed usage report.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	if window == "" {
		window = "24h"
	}

	report, err := s.router.UsageReport(window)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"window":    window,
		"providers": report,
		"cache":     s.router.CacheStats(),
		"timestamp": time.Now().Unix(),
	})
}

// handleProviders lists registered providers in priority order.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	names := s.router.Providers()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": names,
		"count":     len(names),
	})
}

// statusFor maps terminal router errors onto HTTP statuses.
func statusFor(err error) int {
	switch llmerr.ClassOf(err) {
	case llmerr.ClassNoProvider:
		return http.StatusServiceUnavailable
	case llmerr.ClassExhausted:
		return http.StatusBadGateway
	case llmerr.ClassRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
		"timestamp": time.Now().Unix(),
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
