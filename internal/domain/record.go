package domain

import "time"

// ─── Credit Ledger ──────────────────────────────────────────────────────────

// LedgerTxType identifies why a ledger entry was written.
type LedgerTxType string

const (
	TxReserve   LedgerTxType = "reserve"   // optimistic decrement at commit time
	TxReconcile LedgerTxType = "reconcile" // provider balance overwrote the estimate
)

// EntryType is the direction of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// LedgerEntry is one row of a worker's credit audit trail. Account is the worker id.
type LedgerEntry struct {
	ID          int64        `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Type        LedgerTxType `json:"type"`
	EntryType   EntryType    `json:"entry_type"`
	Account     string       `json:"account"`
	Amount      int64        `json:"amount"`
	TaskID      string       `json:"task_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Balance     int64        `json:"balance"`
}

// ─── History ────────────────────────────────────────────────────────────────

// ResultRecord is the persisted metadata of a completed task.
type ResultRecord struct {
	TaskID       string    `json:"task_id"`
	Prompt       string    `json:"prompt"`
	Model        string    `json:"model"`
	RemoteURL    string    `json:"remote_url"`
	ArtifactPath string    `json:"artifact_path"`
	SizeBytes    int64     `json:"size_bytes"`
	Settings     string    `json:"settings"` // VideoSettings as JSON
	CreatedAt    time.Time `json:"created_at"`
}

// TaskEvent is one recorded lifecycle transition.
type TaskEvent struct {
	ID         int64      `json:"id"`
	TaskID     string     `json:"task_id"`
	FromStatus TaskStatus `json:"from_status"`
	ToStatus   TaskStatus `json:"to_status"`
	WorkerID   string     `json:"worker_id,omitempty"`
	RetryCount int        `json:"retry_count"`
	Detail     string     `json:"detail,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
