package domain

import "time"

// WorkerStatus is the scheduling state of a credential.
type WorkerStatus string

const (
	WorkerIdle        WorkerStatus = "idle"
	WorkerBusy        WorkerStatus = "busy"
	WorkerQuarantined WorkerStatus = "quarantined"
)

// DefaultConcurrencyLimit is the per-credential job ceiling enforced by the provider.
const DefaultConcurrencyLimit = 2

// WorkerCredential is one provider account with its own concurrency and credit budget.
type WorkerCredential struct {
	ID               string       `json:"id"`
	Secret           string       `json:"-"`
	Label            string       `json:"label,omitempty"`
	ConcurrencyLimit int          `json:"concurrency_limit"`
	ActiveCount      int          `json:"active_count"`
	CreditBalance    int64        `json:"credit_balance"`
	Status           WorkerStatus `json:"status"`
	QuarantineReason string       `json:"quarantine_reason,omitempty"`
	TotalCompleted   int64        `json:"total_completed"`
	LastReconciledAt time.Time    `json:"last_reconciled_at,omitempty"`
}

// Viable reports whether the worker can ever take work: it has a secret and is not quarantined.
func (w WorkerCredential) Viable() bool {
	return w.Secret != "" && w.Status != WorkerQuarantined
}

// Eligible reports whether the worker can take another job right now.
func (w WorkerCredential) Eligible() bool {
	return w.Viable() && w.ActiveCount < w.ConcurrencyLimit
}

// OpenSlots returns how many more jobs the worker can accept.
func (w WorkerCredential) OpenSlots() int {
	if n := w.ConcurrencyLimit - w.ActiveCount; n > 0 {
		return n
	}
	return 0
}

// CredentialSpec is what a credential source supplies for one worker.
type CredentialSpec struct {
	ID             string `json:"id" yaml:"id" toml:"id"`
	Secret         string `json:"secret" yaml:"secret" toml:"secret"`
	Label          string `json:"label,omitempty" yaml:"label,omitempty" toml:"label"`
	TotalCompleted int64  `json:"total_completed,omitempty" yaml:"total_completed,omitempty" toml:"total_completed"`
	CreditBalance  *int64 `json:"credit_balance,omitempty" yaml:"credit_balance,omitempty" toml:"credit_balance"`
}
