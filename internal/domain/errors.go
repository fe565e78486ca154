package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Queue errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")

	// Pool errors
	ErrWorkerNotFound  = errors.New("worker not found")
	ErrWorkerSaturated = errors.New("worker is at its concurrency limit")
	ErrNoCredential    = errors.New("worker has no credential configured")

	// History errors
	ErrResultNotFound = errors.New("result not found")
)

// ─── Job Error Taxonomy ─────────────────────────────────────────────────────

// ErrorKind classifies a job failure.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindSubmission
	KindRateLimited
	KindInsufficientCredit
	KindProvider
	KindPollingTimeout
	KindDownload
)

// String returns a human-readable error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSubmission:
		return "submission"
	case KindRateLimited:
		return "rate_limited"
	case KindInsufficientCredit:
		return "insufficient_credit"
	case KindProvider:
		return "provider"
	case KindPollingTimeout:
		return "polling_timeout"
	case KindDownload:
		return "download"
	default:
		return "unknown"
	}
}

// JobError is the error every job stage returns.
type JobError struct {
	Kind       ErrorKind
	StatusCode int // HTTP or provider code, 0 if none
	Message    string
	Err        error
}

func (e *JobError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (%d)", e.Kind, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *JobError) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err. ok is false for untyped errors.
func KindOf(err error) (kind ErrorKind, ok bool) {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind, true
	}
	return 0, false
}

// IsValidation reports whether err is a payload validation error.
func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindValidation
}
