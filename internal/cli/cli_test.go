package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/reelq/internal/api"
	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/security"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func testClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &Client{BaseURL: srv.URL, Token: "tok", HTTP: srv.Client()}
}

func TestClient_SendsTokenAndDecodes(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/tasks", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p domain.Payload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(domain.Task{ID: "t1", Payload: p, Status: domain.TaskPending})
	}))

	var task domain.Task
	err := c.post(context.Background(), "/api/tasks", domain.Payload{Prompt: "x", Settings: domain.VideoSettings{Model: "sora-2"}}, &task)
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, "sora-2", task.Payload.Settings.Model)
}

func TestClient_APIError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"task not found","type":"error"}}`))
	}))

	err := c.get(context.Background(), "/api/tasks/nope", &domain.Task{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "task not found", apiErr.Message)
}

func TestClient_APIErrorPlainBody(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := c.get(context.Background(), "/api/status", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := &Client{BaseURL: url, HTTP: &http.Client{Timeout: time.Second}}
	err := c.get(context.Background(), "/api/status", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reelq serve")
}

func TestNewClient_AddressAndToken(t *testing.T) {
	home := t.TempDir()
	t.Setenv("REELQ_HOME", home)
	token, err := security.LoadOrCreateToken(home)
	require.NoError(t, err)

	apiAddr, apiToken = "", ""
	c, err := newClient()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8787", c.BaseURL)
	assert.Equal(t, token, c.Token)

	apiAddr, apiToken = "localhost:9000/", "override"
	t.Cleanup(func() { apiAddr, apiToken = "", "" })
	c, err = newClient()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", c.BaseURL)
	assert.Equal(t, "override", c.Token)
}

func TestSubmitPayload(t *testing.T) {
	saved := submitOpts
	t.Cleanup(func() { submitOpts = saved })

	submitOpts.model = "sora-2-pro"
	submitOpts.duration = "15"
	submitOpts.aspect = "9:16"
	submitOpts.size = "high"
	submitOpts.image = "https://img/a.png"
	submitOpts.keepWatermark = false

	p := submitPayload("  a fox in snow  ")
	assert.Equal(t, "a fox in snow", p.Prompt)
	assert.Equal(t, "https://img/a.png", p.StartImage)
	assert.Equal(t, domain.VideoSettings{Model: "sora-2-pro", AspectRatio: "9:16", Duration: "15", Size: "high"}, p.Settings)
	assert.Nil(t, p.Settings.RemoveWatermark)

	submitOpts.keepWatermark = true
	p = submitPayload("x")
	require.NotNil(t, p.Settings.RemoveWatermark)
	assert.False(t, *p.Settings.RemoveWatermark)
}

func TestWaitForTask(t *testing.T) {
	polls := 0
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		task := domain.Task{ID: "t1", Status: domain.TaskProcessing, AssignedWorker: "w1", Progress: "RUNNING"}
		if polls >= 3 {
			task.Status = domain.TaskCompleted
		}
		json.NewEncoder(w).Encode(task)
	}))

	task, err := waitForTask(context.Background(), c, "t1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	assert.Equal(t, 3, polls)
}

func TestWaitForTask_ContextCancelled(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.Task{ID: "t1", Status: domain.TaskPending})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := waitForTask(ctx, c, "t1", 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownloadArtifact(t *testing.T) {
	body := bytes.Repeat([]byte("v"), 4096)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/history/t1/artifact", r.URL.Path)
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))

	out := filepath.Join(t.TempDir(), "clip.mp4")
	var status bytes.Buffer
	n, err := downloadArtifact(context.Background(), c, "t1", out, &status)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Contains(t, status.String(), "100%")
}

func TestDownloadArtifact_NotFoundLeavesNoFile(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"result not found"}}`, http.StatusNotFound)
	}))

	dir := t.TempDir()
	_, err := downloadArtifact(context.Background(), c, "nope", filepath.Join(dir, "x.mp4"), &bytes.Buffer{})
	require.Error(t, err)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestRenderTasks(t *testing.T) {
	var buf bytes.Buffer
	renderTasks(&buf, []domain.Task{
		{
			ID:        "0123456789abcdef",
			Status:    domain.TaskFailed,
			Error:     "Insufficient Credits (402).",
			Payload:   domain.Payload{Prompt: "a lighthouse", Settings: domain.VideoSettings{Model: "sora-2"}},
			UpdatedAt: time.Now(),
		},
	})
	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "failed (Insufficient Credits (402).)")
	assert.Contains(t, out, "sora-2")
}

func TestRenderWorkers(t *testing.T) {
	var buf bytes.Buffer
	renderWorkers(&buf, []api.WorkerView{
		{ID: "w1", Secret: "****abcd", ConcurrencyLimit: 2, ActiveCount: 1, CreditBalance: 12500, Status: domain.WorkerBusy},
		{ID: "w2", Secret: "****wxyz", ConcurrencyLimit: 2, Status: domain.WorkerQuarantined, QuarantineReason: "Insufficient Credits (402)."},
	})
	out := buf.String()
	assert.Contains(t, out, "1/2")
	assert.Contains(t, out, "12,500")
	assert.Contains(t, out, "****abcd")
	assert.Contains(t, out, "quarantined (Insufficient Credits (402).)")
	assert.Contains(t, out, "never")
}

func TestRenderLedgerSignsDebits(t *testing.T) {
	var buf bytes.Buffer
	renderLedger(&buf, []domain.LedgerEntry{
		{Type: domain.TxReserve, EntryType: domain.EntryDebit, Amount: 30, Balance: 970, TaskID: "t1", Timestamp: time.Now()},
	})
	assert.Contains(t, buf.String(), "-30")
	assert.Contains(t, buf.String(), "970")
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, strings.Repeat(".", barWidth)},
		{100, strings.Repeat("=", barWidth)},
		{50, strings.Repeat("=", 14) + ">" + strings.Repeat(".", 15)},
		{-5, strings.Repeat(".", barWidth)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, progressBar(tt.pct), "pct=%v", tt.pct)
	}
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "abcdefgh", shortID("abcdefghijkl"))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hell…", truncate("hello world", 5))
	assert.Equal(t, "-", dash(""))
	assert.Equal(t, "45s", formatElapsed(45*time.Second))
	assert.Equal(t, "2m05s", formatElapsed(125*time.Second))
}
