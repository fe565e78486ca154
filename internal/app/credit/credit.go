package credit

import (
	"fmt"
	"time"

	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/infra/sqlite"
)

// Ledger records every change to a worker's credit estimate. Each worker is one
// account; the last entry's Balance mirrors the pool's estimate at that moment.
type Ledger struct {
	db  *sqlite.DB
	now func() time.Time
}

// NewLedger creates a ledger backed by db.
func NewLedger(db *sqlite.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Reserve records the optimistic decrement made when a job is committed.
func (l *Ledger) Reserve(workerID, taskID string, cost, balanceAfter int64) error {
	if cost < 0 {
		return fmt.Errorf("reserve amount must not be negative, got %d", cost)
	}
	_, err := l.db.InsertLedgerEntry(domain.LedgerEntry{
		Timestamp:   l.now(),
		Type:        domain.TxReserve,
		EntryType:   domain.EntryDebit,
		Account:     workerID,
		Amount:      cost,
		TaskID:      taskID,
		Description: "estimated cost, table " + CostTableVersion,
		Balance:     balanceAfter,
	})
	if err != nil {
		return fmt.Errorf("reserve %s: %w", workerID, err)
	}
	return nil
}

// Reconcile records the adjustment from the local estimate to the provider's
// balance. Nothing is written when the two agree.
func (l *Ledger) Reconcile(workerID, taskID string, estimate, actual int64) error {
	delta := actual - estimate
	if delta == 0 {
		return nil
	}

	entryType := domain.EntryCredit
	if delta < 0 {
		entryType = domain.EntryDebit
		delta = -delta
	}

	_, err := l.db.InsertLedgerEntry(domain.LedgerEntry{
		Timestamp:   l.now(),
		Type:        domain.TxReconcile,
		EntryType:   entryType,
		Account:     workerID,
		Amount:      delta,
		TaskID:      taskID,
		Description: fmt.Sprintf("provider balance %d, estimate %d", actual, estimate),
		Balance:     actual,
	})
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", workerID, err)
	}
	return nil
}

// Balance returns the last recorded balance of a worker.
func (l *Ledger) Balance(workerID string) (int64, error) {
	return l.db.CreditBalance(workerID)
}

// History returns recent ledger entries, newest first. An empty workerID returns
// entries for every worker.
func (l *Ledger) History(workerID string, limit int) ([]domain.LedgerEntry, error) {
	return l.db.LedgerEntries(workerID, limit)
}
