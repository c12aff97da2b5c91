// Package transport provides the HTTP surface: metrics, probes, status and
// cycle history.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/workload/internal/storage"
	"github.com/gateway-fm/workload/pkg/types"
)

// Pagination limits for /v1/history
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

const readyTimeout = 5 * time.Second

// StatusProvider exposes the supervisor's current state.
type StatusProvider interface {
	Status() types.Status
}

// HistoryReader is the read side of cycle history.
type HistoryReader interface {
	GetCycleRun(ctx context.Context, id string) (*storage.CycleRun, error)
	ListCycleRuns(ctx context.Context, limit, offset int) (*storage.PaginatedCycleRuns, error)
}

// HealthChecker probes the node for readiness.
type HealthChecker interface {
	CheckNode(ctx context.Context) error
}

// ServerConfig for creating a Server.
type ServerConfig struct {
	Status   StatusProvider
	History  HistoryReader // optional
	Health   HealthChecker // optional
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	CORSAllowedOrigins string        // comma-separated, "*" or empty allows all
	StatusInterval     time.Duration // WebSocket push interval, default 1s
}

// Server handles HTTP requests for the workload.
type Server struct {
	status    StatusProvider
	history   HistoryReader
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	// CORS configuration
	corsAllowedOrigins []string // Parsed list of allowed origins
	corsAllowAll       bool     // True if "*" or empty (allow all origins)
}

// NewServer creates a new HTTP server and starts its WebSocket broadcaster.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	wsServer := NewWebSocketServer(cfg.Status, logger, cfg.StatusInterval)
	wsServer.Start()

	s := &Server{
		status:    cfg.Status,
		history:   cfg.History,
		health:    cfg.Health,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  wsServer,
	}

	// Parse CORS allowed origins
	origins := strings.TrimSpace(cfg.CORSAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Close stops the WebSocket broadcaster and disconnects its clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/history", s.corsMiddleware(s.handleHistory))
	mux.HandleFunc("/v1/history/", s.corsMiddleware(s.handleHistoryDetail))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// handleStatus returns the supervisor status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.status.Status())
}

// handleHistory returns cycle history with optional pagination.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "History is not enabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultHistoryLimit
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxHistoryLimit {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	result, err := s.history.ListCycleRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list cycle history", slog.String("error", err.Error()))
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleHistoryDetail handles /v1/history/{id}.
func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeJSONError(w, "History is not enabled", http.StatusServiceUnavailable)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/history/"), "/")
	if id == "" || strings.Contains(id, "/") {
		s.writeJSONError(w, "Missing cycle ID", http.StatusBadRequest)
		return
	}

	run, err := s.history.GetCycleRun(r.Context(), id)
	if err != nil {
		s.writeJSONError(w, "Failed to get cycle run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		s.writeJSONError(w, "Cycle run not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok", "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		start := time.Now()
		err := s.health.CheckNode(ctx)

		check := ReadinessCheck{
			Name:      "geth-rpc",
			LatencyMs: time.Since(start).Milliseconds(),
			Status:    "ok",
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		}
		checks = append(checks, check)
	}

	code := http.StatusOK
	if !allHealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"ready":  allHealthy,
		"checks": checks,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}
