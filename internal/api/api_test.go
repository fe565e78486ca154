package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/reelq/internal/app/credit"
	"github.com/tutu-network/reelq/internal/app/history"
	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/health"
	"github.com/tutu-network/reelq/internal/infra/pool"
	"github.com/tutu-network/reelq/internal/infra/queue"
	"github.com/tutu-network/reelq/internal/infra/scheduler"
	"github.com/tutu-network/reelq/internal/infra/sqlite"
)

// fakeScheduler records refresh calls.
type fakeScheduler struct {
	refreshed int
}

func (f *fakeScheduler) Stats() scheduler.Stats {
	return scheduler.Stats{Ticks: 7, Completed: 2}
}

func (f *fakeScheduler) RefreshAllCredits(context.Context) []scheduler.RefreshResult {
	f.refreshed++
	return []scheduler.RefreshResult{{WorkerID: "w1", Balance: 500}}
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	queue    *queue.Queue
	pool     *pool.Pool
	sched    *fakeScheduler
	recorder *history.Recorder
	ledger   *credit.Ledger
	db       *sqlite.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlite.Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("Open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	q := queue.New()
	q.SetObserver(db)
	p := pool.New(2)
	sched := &fakeScheduler{}
	rec := history.NewRecorder(db, filepath.Join(dir, "artifacts"))
	ledger := credit.NewLedger(db)

	srv := NewServer(q, p, sched)
	srv.SetResults(rec)
	srv.SetEvents(db)
	srv.SetLedger(ledger)
	srv.EnableMetrics()

	return &testEnv{
		srv: srv, handler: srv.Handler(),
		queue: q, pool: p, sched: sched, recorder: rec, ledger: ledger, db: db,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v (%s)", err, w.Body.String())
	}
}

// ─── Health & Status ────────────────────────────────────────────────────────

func TestAPI_Health(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "GET", "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body HealthResponse
	decode(t, w, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestAPI_HealthDegraded(t *testing.T) {
	e := newTestEnv(t)
	checker := health.NewChecker(e.db, t.TempDir(), e.pool) // no workers configured
	checker.RunOnce(context.Background())
	e.srv.SetHealth(checker)
	e.handler = e.srv.Handler()

	var body HealthResponse
	decode(t, e.do(t, "GET", "/health", ""), &body)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if len(body.Checks) != 3 {
		t.Errorf("checks = %d, want 3", len(body.Checks))
	}
}

func TestAPI_Status(t *testing.T) {
	e := newTestEnv(t)
	e.pool.Configure("w1", "sk", "")
	e.queue.Enqueue(domain.Payload{Prompt: "x", Settings: domain.VideoSettings{Model: "sora-2"}})

	var body StatusResponse
	decode(t, e.do(t, "GET", "/api/status", ""), &body)
	if body.Scheduler.Ticks != 7 {
		t.Errorf("ticks = %d, want 7", body.Scheduler.Ticks)
	}
	if body.Tasks[domain.TaskPending] != 1 {
		t.Errorf("pending = %d, want 1", body.Tasks[domain.TaskPending])
	}
	if body.Workers != 1 {
		t.Errorf("workers = %d, want 1", body.Workers)
	}
}

func TestAPI_Metrics(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "GET", "/api/status", "")

	w := e.do(t, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "reelq_api_requests_total") {
		t.Error("metrics should include reelq_api_requests_total")
	}
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func TestAPI_SubmitAndGetTask(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "POST", "/api/tasks", `{"prompt":"a fox","settings":{"model":"sora-2","duration":"10"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body: %s", w.Code, w.Body.String())
	}
	var task domain.Task
	decode(t, w, &task)
	if task.ID == "" || task.Status != domain.TaskPending {
		t.Errorf("task = %+v", task)
	}

	w = e.do(t, "GET", "/api/tasks/"+task.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got domain.Task
	decode(t, w, &got)
	if got.Payload.Prompt != "a fox" {
		t.Errorf("prompt = %q", got.Payload.Prompt)
	}
}

func TestAPI_SubmitTask_Invalid(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"no model", `{"prompt":"x","settings":{}}`},
		{"no prompt or image", `{"settings":{"model":"veo3"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, "POST", "/api/tasks", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
	if n := len(e.queue.List("")); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
}

func TestAPI_GetTask_NotFound(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, "GET", "/api/tasks/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAPI_ListTasks_Filter(t *testing.T) {
	e := newTestEnv(t)
	t1, _ := e.queue.Enqueue(domain.Payload{Prompt: "a", Settings: domain.VideoSettings{Model: "sora-2"}})
	e.queue.Enqueue(domain.Payload{Prompt: "b", Settings: domain.VideoSettings{Model: "sora-2"}})
	e.queue.MarkProcessing(t1.ID, "w1")

	var body struct {
		Tasks []domain.Task `json:"tasks"`
	}
	decode(t, e.do(t, "GET", "/api/tasks?status=pending", ""), &body)
	if len(body.Tasks) != 1 || body.Tasks[0].Payload.Prompt != "b" {
		t.Errorf("pending tasks = %+v", body.Tasks)
	}

	decode(t, e.do(t, "GET", "/api/tasks", ""), &body)
	if len(body.Tasks) != 2 {
		t.Errorf("all tasks = %d, want 2", len(body.Tasks))
	}

	if w := e.do(t, "GET", "/api/tasks?status=bogus", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bogus status code = %d, want 400", w.Code)
	}
}

func TestAPI_TaskEvents(t *testing.T) {
	e := newTestEnv(t)
	task, _ := e.queue.Enqueue(domain.Payload{Prompt: "a", Settings: domain.VideoSettings{Model: "sora-2"}})
	e.queue.MarkProcessing(task.ID, "w1")

	var body struct {
		Events []domain.TaskEvent `json:"events"`
	}
	decode(t, e.do(t, "GET", "/api/tasks/"+task.ID+"/events", ""), &body)
	if len(body.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(body.Events))
	}
	if body.Events[1].ToStatus != domain.TaskProcessing || body.Events[1].WorkerID != "w1" {
		t.Errorf("second event = %+v", body.Events[1])
	}
}

// ─── Workers ────────────────────────────────────────────────────────────────

func TestAPI_ConfigureAndListWorkers(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, "PUT", "/api/workers/w1", `{"secret":"sk-live-abcdef1234","label":"main"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("configure status = %d, body: %s", w.Code, w.Body.String())
	}

	w = e.do(t, "GET", "/api/workers", "")
	if strings.Contains(w.Body.String(), "sk-live-abcdef1234") {
		t.Fatal("secret leaked in worker list")
	}
	var body struct {
		Workers []WorkerView `json:"workers"`
	}
	decode(t, w, &body)
	if len(body.Workers) != 1 {
		t.Fatalf("workers = %d, want 1", len(body.Workers))
	}
	got := body.Workers[0]
	if got.Secret != "****1234" || got.Label != "main" || got.Fingerprint == "" {
		t.Errorf("worker = %+v", got)
	}
}

func TestAPI_RestoreWorker(t *testing.T) {
	e := newTestEnv(t)
	e.pool.Configure("w1", "sk", "")
	e.pool.Quarantine("w1", "Insufficient Credits")

	w := e.do(t, "POST", "/api/workers/w1/restore", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view WorkerView
	decode(t, w, &view)
	if view.Status != domain.WorkerIdle || view.QuarantineReason != "" {
		t.Errorf("worker after restore = %+v", view)
	}

	if w := e.do(t, "POST", "/api/workers/nope/restore", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown worker status = %d, want 404", w.Code)
	}
}

func TestAPI_ImportWorkers(t *testing.T) {
	e := newTestEnv(t)
	e.pool.Configure("w1", "sk-old", "kept")

	w := e.do(t, "POST", "/api/workers/import",
		`{"workers":[{"id":"w1","secret":"sk-new","total_completed":4},{"id":"w2","secret":"sk-two","credit_balance":90}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", w.Code, w.Body.String())
	}

	w1, _ := e.pool.Get("w1")
	if w1.Secret != "sk-new" || w1.Label != "kept" || w1.TotalCompleted != 4 {
		t.Errorf("w1 = %+v", w1)
	}
	w2, _ := e.pool.Get("w2")
	if w2.CreditBalance != 90 {
		t.Errorf("w2.CreditBalance = %d, want 90", w2.CreditBalance)
	}

	if w := e.do(t, "POST", "/api/workers/import", `{"workers":[{"secret":"x"}]}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", w.Code)
	}
}

func TestAPI_RefreshWorkers(t *testing.T) {
	e := newTestEnv(t)
	var body struct {
		Results []scheduler.RefreshResult `json:"results"`
	}
	decode(t, e.do(t, "POST", "/api/workers/refresh", ""), &body)
	if e.sched.refreshed != 1 {
		t.Errorf("refresh calls = %d, want 1", e.sched.refreshed)
	}
	if len(body.Results) != 1 || body.Results[0].Balance != 500 {
		t.Errorf("results = %+v", body.Results)
	}
}

func TestAPI_WorkerLedger(t *testing.T) {
	e := newTestEnv(t)
	e.pool.Configure("w1", "sk", "")
	e.ledger.Reserve("w1", "t1", 30, 970)

	var body struct {
		Entries []domain.LedgerEntry `json:"entries"`
	}
	decode(t, e.do(t, "GET", "/api/workers/w1/ledger", ""), &body)
	if len(body.Entries) != 1 || body.Entries[0].Amount != 30 {
		t.Errorf("entries = %+v", body.Entries)
	}

	if w := e.do(t, "GET", "/api/workers/nope/ledger", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown worker status = %d, want 404", w.Code)
	}
}

// ─── History ────────────────────────────────────────────────────────────────

func TestAPI_HistoryAndArtifact(t *testing.T) {
	e := newTestEnv(t)
	err := e.recorder.OnCompleted(context.Background(), domain.Result{
		TaskID:      "t1",
		Artifact:    []byte("MP4DATA"),
		RemoteURL:   "https://cdn/t1.mp4",
		Payload:     domain.Payload{Prompt: "fox", Settings: domain.VideoSettings{Model: "sora-2"}},
		CompletedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	var body struct {
		Results []domain.ResultRecord `json:"results"`
	}
	decode(t, e.do(t, "GET", "/api/history?limit=5", ""), &body)
	if len(body.Results) != 1 || body.Results[0].TaskID != "t1" {
		t.Fatalf("history = %+v", body.Results)
	}

	w := e.do(t, "GET", "/api/history/t1/artifact", "")
	if w.Code != http.StatusOK {
		t.Fatalf("artifact status = %d", w.Code)
	}
	if w.Body.String() != "MP4DATA" {
		t.Errorf("artifact body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %q", ct)
	}

	if w := e.do(t, "GET", "/api/history/missing/artifact", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing artifact status = %d, want 404", w.Code)
	}
}

// ─── Auth ───────────────────────────────────────────────────────────────────

func TestAPI_TokenAuth(t *testing.T) {
	e := newTestEnv(t)
	e.srv.SetToken("s3cret")
	h := e.srv.Handler()

	req := httptest.NewRequest("GET", "/api/tasks", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest("GET", "/health", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("/health should not require a token, got %d", w.Code)
	}
}

func TestAPI_CORSPreflight(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, "OPTIONS", "/api/tasks", "")
	if w.Code != http.StatusOK {
		t.Errorf("preflight status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
