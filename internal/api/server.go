// Package api provides the HTTP server for reelq.
// It exposes task submission, worker management and result history over JSON.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/health"
	"github.com/tutu-network/reelq/internal/infra/metrics"
	"github.com/tutu-network/reelq/internal/infra/pool"
	"github.com/tutu-network/reelq/internal/infra/queue"
	"github.com/tutu-network/reelq/internal/infra/scheduler"
	"github.com/tutu-network/reelq/internal/security"
)

// Scheduler is the part of the scheduler the API drives.
type Scheduler interface {
	Stats() scheduler.Stats
	RefreshAllCredits(ctx context.Context) []scheduler.RefreshResult
}

// ResultStore reads completed results.
type ResultStore interface {
	List(limit int) ([]domain.ResultRecord, error)
	Open(taskID string) (*os.File, *domain.ResultRecord, error)
}

// EventStore reads the transition log of a task.
type EventStore interface {
	TaskEvents(taskID string) ([]domain.TaskEvent, error)
}

// LedgerReader reads credit ledger entries.
type LedgerReader interface {
	History(workerID string, limit int) ([]domain.LedgerEntry, error)
}

// Server is the reelq HTTP API server.
type Server struct {
	queue     *queue.Queue
	pool      *pool.Pool
	scheduler Scheduler

	results ResultStore  // nil disables /api/history
	events  EventStore   // nil disables /api/tasks/{id}/events
	ledger  LedgerReader // nil disables /api/workers/{id}/ledger
	health  *health.Checker

	token          string
	corsOrigins    []string
	metricsEnabled bool
	startedAt      time.Time
}

// NewServer creates a new API server.
func NewServer(q *queue.Queue, p *pool.Pool, s Scheduler) *Server {
	return &Server{
		queue:       q,
		pool:        p,
		scheduler:   s,
		corsOrigins: []string{"*"},
		startedAt:   time.Now(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetResults sets the result history store.
func (s *Server) SetResults(r ResultStore) { s.results = r }

// SetEvents sets the task event store.
func (s *Server) SetEvents(e EventStore) { s.events = e }

// SetLedger sets the credit ledger reader.
func (s *Server) SetLedger(l LedgerReader) { s.ledger = l }

// SetHealth sets the health checker reported by /health.
func (s *Server) SetHealth(h *health.Checker) { s.health = h }

// SetToken requires "Authorization: Bearer <token>" on /api routes. Empty disables auth.
func (s *Server) SetToken(token string) { s.token = token }

// SetCORSOrigins sets the allowed CORS origins.
func (s *Server) SetCORSOrigins(origins []string) {
	if len(origins) > 0 {
		s.corsOrigins = origins
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(s.corsMiddleware)
	r.Use(requestMetrics)

	r.Get("/health", s.handleHealth)

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/status", s.handleStatus)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleSubmitTask)
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)
			r.Get("/{id}/events", s.handleTaskEvents)
		})

		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Post("/refresh", s.handleRefreshWorkers)
			r.Post("/import", s.handleImportWorkers)
			r.Put("/{id}", s.handleConfigureWorker)
			r.Post("/{id}/restore", s.handleRestoreWorker)
			r.Get("/{id}/ledger", s.handleWorkerLedger)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleListHistory)
			r.Get("/{id}/artifact", s.handleArtifact)
		})
	})

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// ─── Middleware ─────────────────────────────────────────────────────────────

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.allowedOrigin(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, o := range s.corsOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !security.TokenEqual(strings.TrimSpace(got), s.token) {
			writeError(w, http.StatusUnauthorized, "missing or invalid API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestMetrics counts requests by route pattern and status code.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
