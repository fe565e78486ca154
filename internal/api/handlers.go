package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/health"
	"github.com/tutu-network/reelq/internal/infra/metrics"
	"github.com/tutu-network/reelq/internal/infra/scheduler"
	"github.com/tutu-network/reelq/internal/security"
)

// ─── Status ─────────────────────────────────────────────────────────────────

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string          `json:"status"`
	Checks []health.Status `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.health != nil {
		resp.Checks = s.health.Statuses()
		if !s.health.IsHealthy() {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Uptime    string                    `json:"uptime"`
	Scheduler scheduler.Stats           `json:"scheduler"`
	Tasks     map[domain.TaskStatus]int `json:"tasks"`
	Workers   int                       `json:"workers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Scheduler: s.scheduler.Stats(),
		Tasks:     s.queue.Counts(),
		Workers:   s.pool.Len(),
	})
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var payload domain.Payload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	task, err := s.queue.Enqueue(payload)
	if err != nil {
		if domain.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.TasksEnqueued.WithLabelValues(task.Payload.Settings.Model).Inc()
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.TaskPending, domain.TaskProcessing, domain.TaskCompleted, domain.TaskFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
		return
	}
	tasks := s.queue.List(status)
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "task events are not recorded")
		return
	}
	events, err := s.events.TaskEvents(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []domain.TaskEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ─── Workers ────────────────────────────────────────────────────────────────

// WorkerView is a worker as shown to clients: the secret is masked.
type WorkerView struct {
	ID               string              `json:"id"`
	Label            string              `json:"label,omitempty"`
	Secret           string              `json:"secret"`
	Fingerprint      string              `json:"fingerprint,omitempty"`
	ConcurrencyLimit int                 `json:"concurrency_limit"`
	ActiveCount      int                 `json:"active_count"`
	CreditBalance    int64               `json:"credit_balance"`
	Status           domain.WorkerStatus `json:"status"`
	QuarantineReason string              `json:"quarantine_reason,omitempty"`
	TotalCompleted   int64               `json:"total_completed"`
	LastReconciledAt *time.Time          `json:"last_reconciled_at,omitempty"`
}

func viewOf(w domain.WorkerCredential) WorkerView {
	v := WorkerView{
		ID:               w.ID,
		Label:            w.Label,
		Secret:           security.Mask(w.Secret),
		Fingerprint:      security.Fingerprint(w.Secret),
		ConcurrencyLimit: w.ConcurrencyLimit,
		ActiveCount:      w.ActiveCount,
		CreditBalance:    w.CreditBalance,
		Status:           w.Status,
		QuarantineReason: w.QuarantineReason,
		TotalCompleted:   w.TotalCompleted,
	}
	if !w.LastReconciledAt.IsZero() {
		t := w.LastReconciledAt
		v.LastReconciledAt = &t
	}
	return v
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	snapshot := s.pool.Snapshot()
	out := make([]WorkerView, len(snapshot))
	for i, wk := range snapshot {
		out[i] = viewOf(wk)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workers": out})
}

// ConfigureWorkerRequest is the body of PUT /api/workers/{id}.
type ConfigureWorkerRequest struct {
	Secret string `json:"secret"`
	Label  string `json:"label"`
}

func (s *Server) handleConfigureWorker(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "worker id is required")
		return
	}
	var req ConfigureWorkerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	s.pool.Configure(id, strings.TrimSpace(req.Secret), req.Label)
	wk, _ := s.pool.Get(id)
	writeJSON(w, http.StatusOK, viewOf(wk))
}

// ImportWorkersRequest is the body of POST /api/workers/import.
type ImportWorkersRequest struct {
	Workers []domain.CredentialSpec `json:"workers"`
}

func (s *Server) handleImportWorkers(w http.ResponseWriter, r *http.Request) {
	var req ImportWorkersRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	for i, spec := range req.Workers {
		if strings.TrimSpace(spec.ID) == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("worker %d has no id", i))
			return
		}
	}
	s.pool.Import(req.Workers)
	s.handleListWorkers(w, r)
}

func (s *Server) handleRestoreWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.pool.Restore(id); err != nil {
		if errors.Is(err, domain.ErrWorkerNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	wk, _ := s.pool.Get(id)
	writeJSON(w, http.StatusOK, viewOf(wk))
}

func (s *Server) handleRefreshWorkers(w http.ResponseWriter, r *http.Request) {
	results := s.scheduler.RefreshAllCredits(r.Context())
	if results == nil {
		results = []scheduler.RefreshResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleWorkerLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "credit ledger is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.pool.Get(id); !ok {
		writeError(w, http.StatusNotFound, "worker not found: "+id)
		return
	}
	entries, err := s.ledger.History(id, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ─── History ────────────────────────────────────────────────────────────────

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	records, err := s.results.List(queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []domain.ResultRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": records})
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	f, rec, err := s.results.Open(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(rec.ArtifactPath)+`"`)
	http.ServeContent(w, r, filepath.Base(rec.ArtifactPath), rec.CreatedAt, f)
}
