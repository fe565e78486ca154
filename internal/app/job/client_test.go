package job

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/reelq/internal/domain"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// scriptedProvider replays a fixed sequence of poll results.
type scriptedProvider struct {
	mu          sync.Mutex
	submitErr   error
	polls       []pollStep
	pollCount   int
	downloadErr error
	downloaded  []string
}

type pollStep struct {
	res domain.PollResult
	err error
}

func (p *scriptedProvider) Submit(_ context.Context, secret string, _ domain.Payload) (string, error) {
	if p.submitErr != nil {
		return "", p.submitErr
	}
	return "job-0123456789", nil
}

func (p *scriptedProvider) Poll(_ context.Context, _, _ string) (domain.PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pollCount >= len(p.polls) {
		p.pollCount++
		return domain.PollResult{State: domain.PollPending, RawStatus: "RUNNING"}, nil
	}
	step := p.polls[p.pollCount]
	p.pollCount++
	return step.res, step.err
}

func (p *scriptedProvider) Download(_ context.Context, _ string, _ domain.Payload, ref string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloaded = append(p.downloaded, ref)
	if p.downloadErr != nil {
		return nil, p.downloadErr
	}
	return []byte("video-bytes"), nil
}

func (p *scriptedProvider) FetchBalance(context.Context, string) (int64, error) { return 0, nil }

func (p *scriptedProvider) ResolveModel(payload domain.Payload) string {
	return payload.Settings.Model + "-text-to-video"
}

func testClient(p domain.Provider) *Client {
	return NewClient(p, Config{PollInterval: time.Millisecond, MaxPollAttempts: 5})
}

func testTask() domain.Task {
	return domain.Task{
		ID:      "task-1",
		Payload: domain.Payload{Prompt: "waves", Settings: domain.VideoSettings{Model: "sora-2", Duration: "10"}},
		Status:  domain.TaskProcessing,
	}
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) add(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestRun_Success(t *testing.T) {
	p := &scriptedProvider{polls: []pollStep{
		{res: domain.PollResult{State: domain.PollPending, RawStatus: "QUEUED"}},
		{err: errors.New("connection reset")},
		{res: domain.PollResult{State: domain.PollSucceeded, RawStatus: "SUCCESS"}},
		{res: domain.PollResult{State: domain.PollSucceeded, RawStatus: "SUCCESS", ResultRef: "https://cdn/v.mp4"}},
	}}
	rec := &recorder{}

	res, err := testClient(p).Run(context.Background(), testTask(), "secret", rec.add)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "task-1", res.TaskID)
	assert.Equal(t, []byte("video-bytes"), res.Artifact)
	assert.Equal(t, "https://cdn/v.mp4", res.RemoteURL)
	assert.Equal(t, testTask().Payload, res.Payload)
	assert.False(t, res.CompletedAt.IsZero())
	assert.Equal(t, []string{"https://cdn/v.mp4"}, p.downloaded)

	assert.Equal(t, []string{
		"Requesting sora-2-text-to-video...",
		"Task Started (ID: 456789)... Polling...",
		"Status: QUEUED...",
		"Generation marked success, but no URL found yet...",
		"Success. Fetching video...",
		"Downloading video...",
	}, rec.msgs)
}

func TestRun_SubmissionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domain.ErrorKind
	}{
		{"typed credit", &domain.JobError{Kind: domain.KindInsufficientCredit, StatusCode: 402}, domain.KindInsufficientCredit},
		{"typed rate limit", &domain.JobError{Kind: domain.KindRateLimited, StatusCode: 429}, domain.KindRateLimited},
		{"untyped", errors.New("dial tcp: refused"), domain.KindSubmission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{submitErr: tt.err}
			_, err := testClient(p).Run(context.Background(), testTask(), "secret", nil)
			require.Error(t, err)
			kind, ok := domain.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, kind)
			assert.Zero(t, p.pollCount, "no polling after a failed submit")
		})
	}
}

func TestRun_ProviderFailure(t *testing.T) {
	p := &scriptedProvider{polls: []pollStep{
		{res: domain.PollResult{State: domain.PollFailed, RawStatus: "FAILED", Message: "content policy"}},
	}}
	_, err := testClient(p).Run(context.Background(), testTask(), "secret", nil)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindProvider, kind)
	assert.Contains(t, err.Error(), "Task Failed: content policy")
	assert.Empty(t, p.downloaded)
}

func TestRun_ProviderFailureWithoutMessage(t *testing.T) {
	p := &scriptedProvider{polls: []pollStep{
		{res: domain.PollResult{State: domain.PollFailed, RawStatus: "FAIL"}},
	}}
	_, err := testClient(p).Run(context.Background(), testTask(), "secret", nil)
	assert.Contains(t, err.Error(), "Unknown error")
}

func TestRun_PollingTimeout(t *testing.T) {
	p := &scriptedProvider{}
	_, err := testClient(p).Run(context.Background(), testTask(), "secret", nil)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindPollingTimeout, kind)
	assert.Equal(t, 5, p.pollCount)
}

func TestRun_TransientErrorsCountTowardsCeiling(t *testing.T) {
	steps := make([]pollStep, 5)
	for i := range steps {
		steps[i] = pollStep{err: errors.New("502 bad gateway")}
	}
	p := &scriptedProvider{polls: steps}
	_, err := testClient(p).Run(context.Background(), testTask(), "secret", nil)

	kind, _ := domain.KindOf(err)
	assert.Equal(t, domain.KindPollingTimeout, kind)
}

func TestRun_DownloadFailure(t *testing.T) {
	p := &scriptedProvider{
		polls:       []pollStep{{res: domain.PollResult{State: domain.PollSucceeded, ResultRef: "https://cdn/x"}}},
		downloadErr: errors.New("status 403"),
	}
	_, err := testClient(p).Run(context.Background(), testTask(), "secret", nil)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindDownload, kind)
	assert.Contains(t, err.Error(), "status 403")
}

func TestRun_ContextCancelDuringPolling(t *testing.T) {
	p := &scriptedProvider{}
	c := NewClient(p, Config{PollInterval: time.Hour, MaxPollAttempts: 5})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, testTask(), "secret", nil)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		_, typed := domain.KindOf(err)
		assert.False(t, typed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(&scriptedProvider{}, Config{})
	assert.Equal(t, 5*time.Second, c.config.PollInterval)
	assert.Equal(t, 240, c.config.MaxPollAttempts)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "submitting", StateSubmitting.String())
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "downloading", StateDownloading.String())
	assert.Equal(t, "succeeded", StateSucceeded.String())
	assert.Equal(t, "failed", StateFailed.String())
}
