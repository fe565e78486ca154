// Package job runs one generation request against a provider:
// submit, poll until terminal, then download the artifact.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tutu-network/reelq/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures polling.
type Config struct {
	PollInterval    time.Duration // default 5s
	MaxPollAttempts int           // default 240 (20 minutes at 5s)
}

// DefaultConfig returns production polling defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    5 * time.Second,
		MaxPollAttempts: 240,
	}
}

// ─── States ─────────────────────────────────────────────────────────────────

// State is a job's position in its lifecycle.
type State int

const (
	StateSubmitting State = iota
	StatePolling
	StateDownloading
	StateSucceeded
	StateFailed
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StatePolling:
		return "polling"
	case StateDownloading:
		return "downloading"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ModelResolver is implemented by providers that rename models on submission.
// It only affects progress text.
type ModelResolver interface {
	ResolveModel(payload domain.Payload) string
}

// ─── Client ─────────────────────────────────────────────────────────────────

// Client executes jobs against one provider. It is safe for concurrent use.
type Client struct {
	provider domain.Provider
	config   Config
	logger   *log.Entry
}

// NewClient creates a job client.
func NewClient(p domain.Provider, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = def.MaxPollAttempts
	}
	return &Client{
		provider: p,
		config:   cfg,
		logger:   log.WithField("component", "job"),
	}
}

// Run executes task with secret and returns the completed result. Every failure is a
// *domain.JobError except context cancellation, which returns the context error.
// progress may be nil.
func (c *Client) Run(ctx context.Context, task domain.Task, secret string, progress func(string)) (*domain.Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	logger := c.logger.WithField("task_id", task.ID)
	state := StateSubmitting
	fail := func(err error) (*domain.Result, error) {
		logger.WithError(err).WithFields(log.Fields{"state": StateFailed, "stage": state}).Debug("job failed")
		return nil, err
	}

	// Submitting
	model := task.Payload.Settings.Model
	if r, ok := c.provider.(ModelResolver); ok {
		model = r.ResolveModel(task.Payload)
	}
	progress(fmt.Sprintf("Requesting %s...", model))

	jobID, err := c.provider.Submit(ctx, secret, task.Payload)
	if err != nil {
		return fail(asJobError(err, domain.KindSubmission))
	}
	logger = logger.WithField("job_id", jobID)
	progress(fmt.Sprintf("Task Started (ID: %s)... Polling...", shortID(jobID)))

	// Polling
	state = StatePolling
	ref, err := c.poll(ctx, secret, jobID, progress, logger)
	if err != nil {
		return fail(err)
	}

	// Downloading
	state = StateDownloading
	progress("Downloading video...")
	artifact, err := c.provider.Download(ctx, secret, task.Payload, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		return fail(asJobError(err, domain.KindDownload))
	}

	state = StateSucceeded
	logger.WithField("bytes", len(artifact)).Debug("job succeeded")
	return &domain.Result{
		TaskID:      task.ID,
		Artifact:    artifact,
		RemoteURL:   ref,
		Payload:     task.Payload,
		CompletedAt: time.Now(),
	}, nil
}

// poll waits one interval before each status check. Transient errors are swallowed;
// only a terminal provider state, the attempt ceiling or ctx ends the loop early.
func (c *Client) poll(ctx context.Context, secret, jobID string, progress func(string), logger *log.Entry) (string, error) {
	timer := time.NewTimer(c.config.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.config.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
		timer.Reset(c.config.PollInterval)

		res, err := c.provider.Poll(ctx, secret, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.WithError(err).WithField("attempt", attempt).Debug("transient poll error")
			continue
		}

		switch res.State {
		case domain.PollSucceeded:
			if res.ResultRef == "" {
				progress("Generation marked success, but no URL found yet...")
				continue
			}
			progress("Success. Fetching video...")
			return res.ResultRef, nil
		case domain.PollFailed:
			msg := res.Message
			if msg == "" {
				msg = "Unknown error"
			}
			return "", &domain.JobError{Kind: domain.KindProvider, Message: "Task Failed: " + msg}
		default:
			progress(fmt.Sprintf("Status: %s...", res.RawStatus))
		}
	}

	return "", &domain.JobError{
		Kind:    domain.KindPollingTimeout,
		Message: fmt.Sprintf("Timed out waiting for video generation after %d polls.", c.config.MaxPollAttempts),
	}
}

// asJobError keeps typed job errors and context errors as they are and wraps
// anything else in the given kind.
func asJobError(err error, kind domain.ErrorKind) error {
	var je *domain.JobError
	if errors.As(err, &je) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.JobError{Kind: kind, Err: err}
}

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}
