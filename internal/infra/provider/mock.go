package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tutu-network/reelq/internal/domain"
)

// ─── Mock Provider (for running without provider credentials) ───────────────

// Prompt markers that make the mock fail on purpose.
const (
	MarkerFail      = "[fail]"
	MarkerRateLimit = "[ratelimit]"
)

// MockConfig configures the mock provider.
type MockConfig struct {
	PollsUntilDone int                                // polls reported as RUNNING before success, default 2
	InitialBalance int64                              // credits per unseen secret, default 10000
	Cost           func(model, duration string) int64 // charged on submit, default 30
}

// Mock implements domain.Provider in memory. Jobs succeed after a fixed number of
// polls and charge the per-secret balance on submission.
type Mock struct {
	mu       sync.Mutex
	config   MockConfig
	jobs     map[string]*mockJob
	balances map[string]int64
}

type mockJob struct {
	prompt string
	polls  int
	failed bool
}

// NewMock creates a mock provider.
func NewMock(cfg MockConfig) *Mock {
	if cfg.PollsUntilDone <= 0 {
		cfg.PollsUntilDone = 2
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10_000
	}
	if cfg.Cost == nil {
		cfg.Cost = func(string, string) int64 { return 30 }
	}
	return &Mock{
		config:   cfg,
		jobs:     make(map[string]*mockJob),
		balances: make(map[string]int64),
	}
}

// SetBalance overrides the balance of secret.
func (m *Mock) SetBalance(secret string, credits int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[secret] = credits
}

func (m *Mock) balance(secret string) int64 {
	b, ok := m.balances[secret]
	if !ok {
		b = m.config.InitialBalance
		m.balances[secret] = b
	}
	return b
}

// ResolveModel returns the model name the mock pretends to submit.
func (m *Mock) ResolveModel(p domain.Payload) string {
	return KieRequestBuilder{}.ResolveModel(p)
}

// Submit registers a job and charges its cost.
func (m *Mock) Submit(ctx context.Context, secret string, payload domain.Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if secret == "" {
		return "", &domain.JobError{Kind: domain.KindSubmission, StatusCode: 401, Message: "API Request Failed: Unauthorized"}
	}
	if strings.Contains(payload.Prompt, MarkerRateLimit) {
		return "", &domain.JobError{Kind: domain.KindRateLimited, StatusCode: 429, Message: "Rate Limit Exceeded (429)."}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cost := m.config.Cost(payload.Settings.Model, payload.Settings.Duration)
	bal := m.balance(secret)
	if bal < cost {
		return "", &domain.JobError{Kind: domain.KindInsufficientCredit, StatusCode: 402, Message: "Insufficient Credits (402)."}
	}
	m.balances[secret] = bal - cost

	id := "mock-" + uuid.NewString()
	m.jobs[id] = &mockJob{
		prompt: payload.Prompt,
		failed: strings.Contains(payload.Prompt, MarkerFail),
	}
	return id, nil
}

// Poll advances the job one step.
func (m *Mock) Poll(ctx context.Context, _, jobID string) (domain.PollResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.PollResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.PollResult{}, fmt.Errorf("mock job %s not found", jobID)
	}
	job.polls++
	if job.polls <= m.config.PollsUntilDone {
		return domain.PollResult{State: domain.PollPending, RawStatus: "RUNNING"}, nil
	}
	if job.failed {
		return domain.PollResult{State: domain.PollFailed, RawStatus: "FAILED", Message: "mock generation failed"}, nil
	}
	return domain.PollResult{
		State:     domain.PollSucceeded,
		RawStatus: "SUCCESS",
		ResultRef: "mock://" + jobID + ".mp4",
	}, nil
}

// Download returns a small fake artifact for a mock:// reference.
func (m *Mock) Download(ctx context.Context, _ string, payload domain.Payload, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(ref, "mock://") {
		return nil, &domain.JobError{Kind: domain.KindDownload, Message: "Download failed: unknown reference " + ref}
	}
	return []byte(fmt.Sprintf("MOCKMP4 %s %s", payload.Settings.Model, payload.Prompt)), nil
}

// FetchBalance returns the balance of secret.
func (m *Mock) FetchBalance(ctx context.Context, secret string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if secret == "" {
		return 0, fmt.Errorf("no secret")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(secret), nil
}
