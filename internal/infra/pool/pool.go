// Package pool holds the worker credentials and their live slot and credit state.
//
// Credit values are estimates between reconciliations: Commit decrements them
// optimistically so that one tick cannot overbook a worker, and ReconcileCredit
// overwrites them with the provider's authoritative balance after every job.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/reelq/internal/domain"
)

// Pool manages worker credentials. Reads may run concurrently; writes are serialized.
type Pool struct {
	mu      sync.RWMutex
	workers map[string]*domain.WorkerCredential
	order   []string // insertion order, used as the scheduling tie-break
	limit   int
}

// New creates an empty pool whose workers get the given concurrency limit.
func New(concurrencyLimit int) *Pool {
	if concurrencyLimit <= 0 {
		concurrencyLimit = domain.DefaultConcurrencyLimit
	}
	return &Pool{
		workers: make(map[string]*domain.WorkerCredential),
		limit:   concurrencyLimit,
	}
}

// ─── Configuration ──────────────────────────────────────────────────────────

// Configure adds a worker or replaces its secret and label.
// Reconfiguring lifts any quarantine; counters and in-flight slots are kept.
func (p *Pool) Configure(id, secret, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.getOrCreateLocked(id)
	w.Secret = secret
	w.Label = label
	w.QuarantineReason = ""
	w.Status = statusFor(w.ActiveCount)
}

// Import merges credentials from a credential source, matched by id.
// An empty incoming secret never clears a configured one.
func (p *Pool) Import(specs []domain.CredentialSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range specs {
		if s.ID == "" {
			continue
		}
		w := p.getOrCreateLocked(s.ID)
		if s.Secret != "" && s.Secret != w.Secret {
			w.Secret = s.Secret
			w.QuarantineReason = ""
			w.Status = statusFor(w.ActiveCount)
		}
		if s.Label != "" {
			w.Label = s.Label
		}
		w.TotalCompleted = max(w.TotalCompleted, s.TotalCompleted)
		if s.CreditBalance != nil {
			w.CreditBalance = *s.CreditBalance
		}
	}
}

func (p *Pool) getOrCreateLocked(id string) *domain.WorkerCredential {
	if w, ok := p.workers[id]; ok {
		return w
	}
	w := &domain.WorkerCredential{
		ID:               id,
		ConcurrencyLimit: p.limit,
		Status:           domain.WorkerIdle,
	}
	p.workers[id] = w
	p.order = append(p.order, id)
	return w
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Snapshot returns a copy of every worker in insertion order.
func (p *Pool) Snapshot() []domain.WorkerCredential {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.WorkerCredential, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.workers[id])
	}
	return out
}

// Get returns a copy of one worker.
func (p *Pool) Get(id string) (domain.WorkerCredential, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.workers[id]
	if !ok {
		return domain.WorkerCredential{}, false
	}
	return *w, true
}

// HasOtherViable reports whether any worker other than excludeID has a secret and is
// not quarantined.
func (p *Pool) HasOtherViable(excludeID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, w := range p.workers {
		if id != excludeID && w.Viable() {
			return true
		}
	}
	return false
}

// Len returns the number of configured workers.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// ─── Writes ─────────────────────────────────────────────────────────────────

// Commit reserves one slot and cost credits on a worker.
// The balance never goes below zero.
func (p *Pool) Commit(id string, cost int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("commit %s: %w", id, domain.ErrWorkerNotFound)
	}
	if w.ActiveCount >= w.ConcurrencyLimit {
		return fmt.Errorf("commit %s: %w", id, domain.ErrWorkerSaturated)
	}
	w.ActiveCount++
	w.CreditBalance = max(0, w.CreditBalance-cost)
	if w.Status != domain.WorkerQuarantined {
		w.Status = domain.WorkerBusy
	}
	return nil
}

// Rollback undoes a Commit whose assignment could not be completed.
func (p *Pool) Rollback(id string, cost int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("rollback %s: %w", id, domain.ErrWorkerNotFound)
	}
	w.ActiveCount = max(0, w.ActiveCount-1)
	w.CreditBalance += cost
	if w.Status != domain.WorkerQuarantined {
		w.Status = statusFor(w.ActiveCount)
	}
	return nil
}

// Release frees one slot. A successful job also bumps TotalCompleted.
func (p *Pool) Release(id string, success bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("release %s: %w", id, domain.ErrWorkerNotFound)
	}
	w.ActiveCount = max(0, w.ActiveCount-1)
	if success {
		w.TotalCompleted++
	}
	if w.Status != domain.WorkerQuarantined {
		w.Status = statusFor(w.ActiveCount)
	}
	return nil
}

// Quarantine makes a worker ineligible until it is restored or reconfigured.
func (p *Pool) Quarantine(id, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("quarantine %s: %w", id, domain.ErrWorkerNotFound)
	}
	w.Status = domain.WorkerQuarantined
	w.QuarantineReason = reason
	return nil
}

// ReleaseQuarantined frees the slot of a failed job and quarantines the worker in one
// step, so no tick can see the freed slot as eligible.
func (p *Pool) ReleaseQuarantined(id, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("release %s: %w", id, domain.ErrWorkerNotFound)
	}
	w.ActiveCount = max(0, w.ActiveCount-1)
	w.Status = domain.WorkerQuarantined
	w.QuarantineReason = reason
	return nil
}

// Restore lifts a quarantine.
func (p *Pool) Restore(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return fmt.Errorf("restore %s: %w", id, domain.ErrWorkerNotFound)
	}
	w.QuarantineReason = ""
	w.Status = statusFor(w.ActiveCount)
	return nil
}

// ReconcileCredit overwrites the local estimate with the authoritative balance and
// returns the previous estimate.
func (p *Pool) ReconcileCredit(id string, balance int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[id]
	if !ok {
		return 0, fmt.Errorf("reconcile %s: %w", id, domain.ErrWorkerNotFound)
	}
	prev := w.CreditBalance
	w.CreditBalance = balance
	w.LastReconciledAt = time.Now()
	return prev, nil
}

func statusFor(active int) domain.WorkerStatus {
	if active > 0 {
		return domain.WorkerBusy
	}
	return domain.WorkerIdle
}
