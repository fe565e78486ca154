// Package metrics provides Prometheus metrics for reelq.
// Counters, gauges and histograms for ticks, tasks, jobs, workers, credits and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Scheduler ──────────────────────────────────────────────────────────────

// TicksTotal counts scheduler ticks.
var TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelq",
	Name:      "scheduler_ticks_total",
	Help:      "Total scheduler ticks.",
})

// TickAssignments tracks how many tasks one tick assigned.
var TickAssignments = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "reelq",
	Name:      "scheduler_tick_assignments",
	Help:      "Tasks assigned per scheduler tick.",
	Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksEnqueued counts accepted submissions by model.
var TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelq",
	Name:      "tasks_enqueued_total",
	Help:      "Total tasks accepted into the queue.",
}, []string{"model"})

// TasksCompleted counts completed tasks by model.
var TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelq",
	Name:      "tasks_completed_total",
	Help:      "Total completed tasks.",
}, []string{"model"})

// TasksFailed counts terminally failed tasks by model and failure class.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelq",
	Name:      "tasks_failed_total",
	Help:      "Total terminally failed tasks.",
}, []string{"model", "class"})

// TasksRetried counts requeued tasks by failure class.
var TasksRetried = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelq",
	Name:      "tasks_retried_total",
	Help:      "Total tasks put back to pending after a failure.",
}, []string{"class"})

// JobsInFlight tracks job executions currently running.
var JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "reelq",
	Name:      "jobs_in_flight",
	Help:      "Number of job executions currently running.",
})

// JobDuration tracks submit-to-terminal time per model and outcome.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "reelq",
	Name:      "job_duration_seconds",
	Help:      "Job execution duration in seconds.",
	Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
}, []string{"model", "outcome"})

// ─── Workers & Credits ──────────────────────────────────────────────────────

// WorkerQuarantines counts quarantines by reason.
var WorkerQuarantines = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelq",
	Name:      "worker_quarantines_total",
	Help:      "Total worker quarantines.",
}, []string{"reason"})

// WorkerCredits tracks the last known credit balance per worker.
var WorkerCredits = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "reelq",
	Name:      "worker_credits",
	Help:      "Last known credit balance per worker.",
}, []string{"worker"})

// CreditDrift tracks the absolute difference between estimate and provider balance at
// reconciliation.
var CreditDrift = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "reelq",
	Name:      "credit_reconcile_drift",
	Help:      "Absolute credit drift found at reconciliation.",
	Buckets:   []float64{0, 10, 30, 60, 125, 250, 500, 1000},
})

// ReconcileErrors counts failed balance fetches.
var ReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "reelq",
	Name:      "credit_reconcile_errors_total",
	Help:      "Total failed provider balance fetches.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "reelq",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// APIRequests counts API requests by route pattern and status code.
var APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelq",
	Name:      "api_requests_total",
	Help:      "Total API requests.",
}, []string{"route", "code"})
