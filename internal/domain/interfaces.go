package domain

import "context"

// ─── Boundary Interfaces ────────────────────────────────────────────────────
// These interfaces define the edges of the scheduler.
// Infrastructure implements them; the scheduler depends on them.

// PollState is the provider's view of a submitted job.
type PollState int

const (
	PollPending PollState = iota
	PollSucceeded
	PollFailed
)

// PollResult is one status observation of a provider job.
type PollResult struct {
	State     PollState
	RawStatus string // provider status string, upper-cased
	ResultRef string // set when the provider exposes the artifact location
	Message   string // provider failure message
}

// Provider is the per-provider adapter: request mapping, transport and response parsing.
type Provider interface {
	// Submit creates a provider job and returns its id.
	Submit(ctx context.Context, secret string, payload Payload) (string, error)

	// Poll fetches the current state of a provider job.
	Poll(ctx context.Context, secret, jobID string) (PollResult, error)

	// Download retrieves artifact bytes for a result reference.
	Download(ctx context.Context, secret string, payload Payload, ref string) ([]byte, error)

	// FetchBalance returns the authoritative credit balance for a secret.
	FetchBalance(ctx context.Context, secret string) (int64, error)
}

// CredentialSource supplies worker credentials.
type CredentialSource interface {
	Credentials() ([]CredentialSpec, error)
}

// ResultSink receives completed generations.
type ResultSink interface {
	OnCompleted(ctx context.Context, result Result) error
}

// ProgressSink receives free-text progress for observers. No correctness depends on it.
type ProgressSink interface {
	OnProgress(taskID, message string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(taskID, message string)

func (f ProgressFunc) OnProgress(taskID, message string) { f(taskID, message) }
