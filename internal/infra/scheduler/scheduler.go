// Package scheduler matches pending tasks to worker credentials once per tick and
// applies the outcome of every job back to the pool and the queue.
//
// Core concepts:
//   - Tick: a serialized, I/O-free admission pass (least-loaded worker first, FIFO tasks)
//   - Optimistic credit: each commit decrements the worker's estimate immediately
//   - Reconciliation: after every job the provider balance overwrites the estimate
//   - Failure handling: classify, maybe quarantine, then retry or fail the task
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/infra/metrics"
	"github.com/tutu-network/reelq/internal/infra/pool"
	"github.com/tutu-network/reelq/internal/infra/queue"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the scheduler.
type Config struct {
	TickInterval     time.Duration // default 1s
	MaxRetries       int           // default 3
	ReconcileTimeout time.Duration // per balance fetch, default 15s
	RefreshParallel  int           // concurrent fetches in RefreshAllCredits, default 4
}

// DefaultConfig returns production scheduler defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Second,
		MaxRetries:       domain.MaxRetries,
		ReconcileTimeout: 15 * time.Second,
		RefreshParallel:  4,
	}
}

// ─── Collaborators ──────────────────────────────────────────────────────────

// JobRunner executes one task end to end with the given worker secret.
type JobRunner interface {
	Run(ctx context.Context, task domain.Task, secret string, progress func(string)) (*domain.Result, error)
}

// BalanceFetcher reads the authoritative credit balance of a secret.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, secret string) (int64, error)
}

// CostFunc estimates the credits a job will consume.
type CostFunc func(model, duration string) int64

// CreditLedger records credit movements for audit.
type CreditLedger interface {
	Reserve(workerID, taskID string, cost, balanceAfter int64) error
	Reconcile(workerID, taskID string, estimate, actual int64) error
}

var errJobPanicked = errors.New("job panicked")

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Scheduler owns the tick loop and the lifecycle of every launched job.
type Scheduler struct {
	config   Config
	policy   RetryPolicy
	pool     *pool.Pool
	queue    *queue.Queue
	runner   JobRunner
	balances BalanceFetcher
	cost     CostFunc

	results  domain.ResultSink
	progress domain.ProgressSink
	ledger   CreditLedger
	logger   *log.Entry

	tickMu sync.Mutex
	wg     sync.WaitGroup

	// Stats
	totalTicks       atomic.Int64
	totalAssigned    atomic.Int64
	totalCompleted   atomic.Int64
	totalFailed      atomic.Int64
	totalRetried     atomic.Int64
	totalQuarantined atomic.Int64
	inFlight         atomic.Int64
}

// New creates a scheduler. cost must not be nil.
func New(cfg Config, p *pool.Pool, q *queue.Queue, runner JobRunner, balances BalanceFetcher, cost CostFunc) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = domain.MaxRetries
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = 15 * time.Second
	}
	if cfg.RefreshParallel <= 0 {
		cfg.RefreshParallel = 4
	}
	return &Scheduler{
		config:   cfg,
		policy:   RetryPolicy{MaxRetries: cfg.MaxRetries},
		pool:     p,
		queue:    q,
		runner:   runner,
		balances: balances,
		cost:     cost,
		logger:   log.WithField("component", "scheduler"),
	}
}

// SetResultSink registers the receiver of completed results.
func (s *Scheduler) SetResultSink(sink domain.ResultSink) { s.results = sink }

// SetProgressSink registers an observer of job progress messages.
func (s *Scheduler) SetProgressSink(sink domain.ProgressSink) { s.progress = sink }

// SetLedger registers the credit audit ledger.
func (s *Scheduler) SetLedger(l CreditLedger) { s.ledger = l }

// SetLogger replaces the scheduler's log entry.
func (s *Scheduler) SetLogger(e *log.Entry) { s.logger = e }

// ─── Tick ───────────────────────────────────────────────────────────────────

// Assignment is one task committed to one worker during a tick.
type Assignment struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id"`
	Cost     int64  `json:"cost"`
}

// TickReport describes what one tick did.
type TickReport struct {
	Pending     int          `json:"pending"`
	Eligible    int          `json:"eligible"`
	Assignments []Assignment `json:"assignments"`
}

// Tick runs one admission pass. Ticks are serialized. Committed jobs are launched in
// their own goroutines under ctx; Tick does not wait for them.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.totalTicks.Add(1)
	metrics.TicksTotal.Inc()

	var report TickReport
	pending := s.queue.PendingSnapshot()
	report.Pending = len(pending)
	if len(pending) == 0 {
		return report
	}

	var eligible []domain.WorkerCredential
	for _, w := range s.pool.Snapshot() {
		if w.Eligible() {
			eligible = append(eligible, w)
		}
	}
	report.Eligible = len(eligible)
	if len(eligible) == 0 {
		return report
	}

	// Least loaded first; ties keep insertion order.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].ActiveCount < eligible[j].ActiveCount
	})

	next := 0
	for _, w := range eligible {
		if next >= len(pending) {
			break
		}
		open := w.OpenSlots()
		balance := w.CreditBalance

		for open > 0 && next < len(pending) {
			task := pending[next]
			cost := s.cost(task.Payload.Settings.Model, task.Payload.Settings.Duration)
			if balance < cost {
				break // try the same task on the next worker
			}

			if err := s.pool.Commit(w.ID, cost); err != nil {
				s.logger.WithError(err).WithField("worker_id", w.ID).Warn("commit rejected")
				break
			}
			if err := s.queue.MarkProcessing(task.ID, w.ID); err != nil {
				// The task left pending since the snapshot; give the slot back.
				if rbErr := s.pool.Rollback(w.ID, cost); rbErr != nil {
					s.logger.WithError(rbErr).WithField("worker_id", w.ID).Error("rollback failed")
				}
				s.logger.WithError(err).WithField("task_id", task.ID).Debug("task no longer pending")
				next++
				continue
			}

			next++
			open--
			balance -= cost

			task.Status = domain.TaskProcessing
			task.AssignedWorker = w.ID
			report.Assignments = append(report.Assignments, Assignment{TaskID: task.ID, WorkerID: w.ID, Cost: cost})
			s.launch(ctx, task, w, cost, balance)
		}
	}

	s.totalAssigned.Add(int64(len(report.Assignments)))
	metrics.TickAssignments.Observe(float64(len(report.Assignments)))
	return report
}

// Run ticks every TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.config.TickInterval).Info("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			report := s.Tick(ctx)
			if len(report.Assignments) > 0 {
				s.logger.WithFields(log.Fields{
					"assigned": len(report.Assignments),
					"pending":  report.Pending,
					"eligible": report.Eligible,
				}).Info("tick")
			}
		}
	}
}

// Wait blocks until every launched job and reconciliation has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// ─── Job Execution ──────────────────────────────────────────────────────────

func (s *Scheduler) launch(ctx context.Context, task domain.Task, w domain.WorkerCredential, cost, balanceAfter int64) {
	s.wg.Add(1)
	s.inFlight.Add(1)
	metrics.JobsInFlight.Inc()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.inFlight.Add(-1)
			metrics.JobsInFlight.Dec()
		}()
		s.recordReserve(w.ID, task.ID, cost, balanceAfter)
		s.execute(ctx, task, w.ID, w.Secret)
	}()
}

func (s *Scheduler) execute(ctx context.Context, task domain.Task, workerID, secret string) {
	started := time.Now()
	logger := s.logger.WithFields(log.Fields{"task_id": task.ID, "worker_id": workerID})
	logger.WithField("model", task.Payload.Settings.Model).Info("job started")

	result, err := s.runJob(ctx, task, secret)
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
		s.handleFailure(task, workerID, err, logger)
	} else {
		s.handleSuccess(ctx, task, workerID, *result, logger)
	}
	metrics.JobDuration.WithLabelValues(task.Payload.Settings.Model, outcome).Observe(time.Since(started).Seconds())

	s.reconcileAsync(ctx, workerID, task.ID)
}

// runJob converts a panic into an ordinary failure.
func (s *Scheduler) runJob(ctx context.Context, task domain.Task, secret string) (res *domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", errJobPanicked, r)
		}
	}()

	res, err = s.runner.Run(ctx, task, secret, func(msg string) {
		s.queue.SetProgress(task.ID, msg)
		if s.progress != nil {
			s.progress.OnProgress(task.ID, msg)
		}
	})
	if err == nil && res == nil {
		err = errors.New("job finished without a result")
	}
	return res, err
}

func (s *Scheduler) handleSuccess(ctx context.Context, task domain.Task, workerID string, result domain.Result, logger *log.Entry) {
	if err := s.pool.Release(workerID, true); err != nil {
		logger.WithError(err).Error("release failed")
	}
	if s.results != nil {
		if err := s.results.OnCompleted(context.WithoutCancel(ctx), result); err != nil {
			logger.WithError(err).Error("result sink failed")
		}
	}
	if err := s.queue.MarkCompleted(task.ID, result); err != nil {
		logger.WithError(err).Error("mark completed failed")
		return
	}
	s.totalCompleted.Add(1)
	metrics.TasksCompleted.WithLabelValues(task.Payload.Settings.Model).Inc()
	logger.WithField("bytes", result.ArtifactSize()).Info("job completed")
}

func (s *Scheduler) handleFailure(task domain.Task, workerID string, jobErr error, logger *log.Entry) {
	c := Classify(jobErr)
	if errors.Is(jobErr, errJobPanicked) {
		c = Classification{Class: ClassOther, Message: jobErr.Error()}
	}
	logger = logger.WithFields(log.Fields{"class": c.Class.String(), "retry_count": task.RetryCount})

	if c.QuarantineWorthy() {
		if err := s.pool.ReleaseQuarantined(workerID, c.Reason); err != nil {
			logger.WithError(err).Error("release and quarantine failed")
		} else {
			s.totalQuarantined.Add(1)
			metrics.WorkerQuarantines.WithLabelValues(c.Reason).Inc()
			logger.WithField("reason", c.Reason).Warn("worker quarantined")
		}
	} else if err := s.pool.Release(workerID, false); err != nil {
		logger.WithError(err).Error("release failed")
	}

	d := s.policy.Decide(c, task.RetryCount, s.pool.HasOtherViable(workerID))
	switch d.Action {
	case ActionRetry:
		if err := s.queue.MarkRetry(task.ID); err != nil {
			logger.WithError(err).Error("requeue failed")
			return
		}
		s.totalRetried.Add(1)
		metrics.TasksRetried.WithLabelValues(c.Class.String()).Inc()
		logger.WithError(jobErr).Warn("job failed, task requeued")
	default:
		if err := s.queue.MarkFailed(task.ID, d.Reason); err != nil {
			logger.WithError(err).Error("mark failed failed")
			return
		}
		s.totalFailed.Add(1)
		metrics.TasksFailed.WithLabelValues(task.Payload.Settings.Model, c.Class.String()).Inc()
		logger.WithError(jobErr).WithField("reason", d.Reason).Error("task failed")
	}
}

// ─── Credit Reconciliation ──────────────────────────────────────────────────

func (s *Scheduler) reconcileAsync(ctx context.Context, workerID, taskID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.reconcile(ctx, workerID, taskID)
	}()
}

// reconcile overwrites a worker's estimate with the provider balance. A fetch error
// keeps the estimate.
func (s *Scheduler) reconcile(ctx context.Context, workerID, taskID string) (int64, error) {
	w, ok := s.pool.Get(workerID)
	if !ok {
		return 0, fmt.Errorf("reconcile %s: %w", workerID, domain.ErrWorkerNotFound)
	}
	if w.Secret == "" {
		return 0, fmt.Errorf("reconcile %s: %w", workerID, domain.ErrNoCredential)
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ReconcileTimeout)
	defer cancel()

	balance, err := s.balances.FetchBalance(fctx, w.Secret)
	if err != nil {
		metrics.ReconcileErrors.Inc()
		s.logger.WithError(err).WithField("worker_id", workerID).Warn("balance fetch failed, keeping estimate")
		return 0, fmt.Errorf("fetch balance %s: %w", workerID, err)
	}

	prev, err := s.pool.ReconcileCredit(workerID, balance)
	if err != nil {
		return 0, err
	}
	drift := balance - prev
	metrics.WorkerCredits.WithLabelValues(workerID).Set(float64(balance))
	metrics.CreditDrift.Observe(float64(max(drift, -drift)))

	if s.ledger != nil {
		if err := s.ledger.Reconcile(workerID, taskID, prev, balance); err != nil {
			s.logger.WithError(err).WithField("worker_id", workerID).Warn("ledger write failed")
		}
	}
	s.logger.WithFields(log.Fields{"worker_id": workerID, "balance": balance, "drift": drift}).Debug("credit reconciled")
	return balance, nil
}

// RefreshResult is the outcome of refreshing one worker's balance.
type RefreshResult struct {
	WorkerID string `json:"worker_id"`
	Balance  int64  `json:"balance"`
	Error    string `json:"error,omitempty"`
}

// RefreshAllCredits reconciles every worker that has a secret, in parallel. A failed
// fetch is reported per worker and does not stop the others.
func (s *Scheduler) RefreshAllCredits(ctx context.Context) []RefreshResult {
	var targets []string
	for _, w := range s.pool.Snapshot() {
		if w.Secret != "" {
			targets = append(targets, w.ID)
		}
	}

	results := make([]RefreshResult, len(targets))
	var g errgroup.Group
	g.SetLimit(s.config.RefreshParallel)
	for i, id := range targets {
		i, id := i, id
		g.Go(func() error {
			bal, err := s.reconcile(ctx, id, "")
			results[i] = RefreshResult{WorkerID: id, Balance: bal}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats holds scheduler counters.
type Stats struct {
	Ticks       int64 `json:"ticks"`
	Assigned    int64 `json:"assigned"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Retried     int64 `json:"retried"`
	Quarantined int64 `json:"quarantined"`
	InFlight    int64 `json:"in_flight"`
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:       s.totalTicks.Load(),
		Assigned:    s.totalAssigned.Load(),
		Completed:   s.totalCompleted.Load(),
		Failed:      s.totalFailed.Load(),
		Retried:     s.totalRetried.Load(),
		Quarantined: s.totalQuarantined.Load(),
		InFlight:    s.inFlight.Load(),
	}
}

func (s *Scheduler) recordReserve(workerID, taskID string, cost, balanceAfter int64) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Reserve(workerID, taskID, cost, balanceAfter); err != nil {
		s.logger.WithError(err).WithField("worker_id", workerID).Warn("ledger write failed")
	}
}
