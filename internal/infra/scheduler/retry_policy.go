package scheduler

import (
	"errors"
	"strings"

	"github.com/tutu-network/reelq/internal/domain"
)

// ─── Failure Classification ─────────────────────────────────────────────────

// FailureClass is the scheduler's view of why a job failed.
type FailureClass int

const (
	ClassOther FailureClass = iota
	ClassRateLimited
	ClassInsufficientCredit
)

// String returns a human-readable failure class.
func (c FailureClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassInsufficientCredit:
		return "insufficient_credit"
	default:
		return "other"
	}
}

// Quarantine reasons, also used as the terminal task error when no other worker is left.
const (
	ReasonInsufficientCredits = "Insufficient Credits"
	ReasonRateLimit           = "Rate Limit"
)

// Classification is the result of Classify.
type Classification struct {
	Class   FailureClass
	Reason  string // quarantine reason, empty for ClassOther
	Message string // original error message
}

// QuarantineWorthy reports whether the worker that produced the failure should stop
// receiving work.
func (c Classification) QuarantineWorthy() bool {
	return c.Class != ClassOther
}

var (
	creditSignals = []string{"402", "credit", "insufficient"}
	quotaSignals  = []string{"429", "quota", "rate limit"}
)

// Classify maps a job error to a failure class. Typed job errors are trusted first;
// untyped errors fall back to message signals. Credit exhaustion wins over rate limiting.
// Download and polling-timeout errors are never matched on their text, which carries
// URLs and job ids.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Class: ClassOther}
	}
	msg := err.Error()
	c := Classification{Class: ClassOther, Message: msg}

	var je *domain.JobError
	if errors.As(err, &je) {
		switch je.Kind {
		case domain.KindInsufficientCredit:
			c.Class, c.Reason = ClassInsufficientCredit, ReasonInsufficientCredits
			return c
		case domain.KindRateLimited:
			c.Class, c.Reason = ClassRateLimited, ReasonRateLimit
			return c
		case domain.KindDownload, domain.KindPollingTimeout:
			return c
		}
	}

	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, creditSignals):
		c.Class, c.Reason = ClassInsufficientCredit, ReasonInsufficientCredits
	case containsAny(lower, quotaSignals):
		c.Class, c.Reason = ClassRateLimited, ReasonRateLimit
	}
	return c
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// ─── Retry Policy ───────────────────────────────────────────────────────────

// Action is what the scheduler does with a failed task.
type Action int

const (
	ActionRetry Action = iota
	ActionFail
)

// String returns a human-readable action.
func (a Action) String() string {
	if a == ActionRetry {
		return "retry"
	}
	return "fail"
}

// Decision is the outcome of RetryPolicy.Decide.
type Decision struct {
	Action     Action
	Quarantine bool   // quarantine the worker before acting
	Reason     string // task error when Action is ActionFail
}

// RetryPolicy bounds how often a task is requeued.
type RetryPolicy struct {
	MaxRetries int
}

// DefaultRetryPolicy returns the production retry bound.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: domain.MaxRetries}
}

// Decide picks the action for a failed task. A quarantine-worthy failure with no other
// viable worker left fails the task immediately, whatever its retry count.
func (p RetryPolicy) Decide(c Classification, retryCount int, hasOtherViable bool) Decision {
	d := Decision{Quarantine: c.QuarantineWorthy()}

	switch {
	case d.Quarantine && !hasOtherViable:
		d.Action, d.Reason = ActionFail, c.Reason
	case retryCount < p.MaxRetries:
		d.Action = ActionRetry
	default:
		d.Action, d.Reason = ActionFail, c.Message
	}
	return d
}
