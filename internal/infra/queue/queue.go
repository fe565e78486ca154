// Package queue holds generation requests and their lifecycle status.
// Every transition is checked against the current status, so a task can be
// bound to at most one job at a time.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/reelq/internal/domain"
)

// Observer is notified after each lifecycle transition. Calls happen outside the
// queue lock, in transition order per task.
type Observer interface {
	TaskTransition(task domain.Task, from domain.TaskStatus)
}

// Queue is an in-memory, insertion-ordered set of tasks.
type Queue struct {
	mu       sync.RWMutex
	tasks    map[string]*domain.Task
	order    []string // insertion order; pending tasks are served FIFO from here
	observer Observer
	now      func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		tasks: make(map[string]*domain.Task),
		now:   time.Now,
	}
}

// SetObserver registers the transition observer. Call before the queue is shared.
func (q *Queue) SetObserver(o Observer) { q.observer = o }

// Enqueue validates the payload and adds a pending task.
func (q *Queue) Enqueue(payload domain.Payload) (domain.Task, error) {
	if err := payload.Validate(); err != nil {
		return domain.Task{}, err
	}

	now := q.now()
	task := &domain.Task{
		ID:        uuid.NewString(),
		Payload:   payload,
		Status:    domain.TaskPending,
		Progress:  "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	q.tasks[task.ID] = task
	q.order = append(q.order, task.ID)
	snap := task.Clone()
	q.mu.Unlock()

	q.notify(snap, "")
	return snap, nil
}

// PendingSnapshot returns pending tasks in insertion order.
func (q *Queue) PendingSnapshot() []domain.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []domain.Task
	for _, id := range q.order {
		if t := q.tasks[id]; t.Status == domain.TaskPending {
			out = append(out, t.Clone())
		}
	}
	return out
}

// MarkProcessing binds a pending task to a worker.
func (q *Queue) MarkProcessing(id, workerID string) error {
	return q.transition(id, func(t *domain.Task) error {
		if t.Status != domain.TaskPending {
			return invalid(t, domain.TaskProcessing)
		}
		t.Status = domain.TaskProcessing
		t.AssignedWorker = workerID
		t.Progress = "Starting..."
		return nil
	})
}

// MarkCompleted records the result of a processing task. The artifact bytes are not
// kept; only their size is.
func (q *Queue) MarkCompleted(id string, result domain.Result) error {
	stored := result
	stored.SizeBytes = result.ArtifactSize()
	stored.Artifact = nil
	return q.transition(id, func(t *domain.Task) error {
		if t.Status != domain.TaskProcessing {
			return invalid(t, domain.TaskCompleted)
		}
		t.Status = domain.TaskCompleted
		t.Result = &stored
		t.Progress = "Done"
		return nil
	})
}

// MarkRetry puts a processing task back to pending with one more retry on record.
// The task keeps its id, payload and queue position.
func (q *Queue) MarkRetry(id string) error {
	return q.transition(id, func(t *domain.Task) error {
		if t.Status != domain.TaskProcessing {
			return invalid(t, domain.TaskPending)
		}
		t.Status = domain.TaskPending
		t.RetryCount++
		t.AssignedWorker = ""
		t.Progress = "Retrying..."
		return nil
	})
}

// MarkFailed terminally fails a processing task.
func (q *Queue) MarkFailed(id, reason string) error {
	return q.transition(id, func(t *domain.Task) error {
		if t.Status != domain.TaskProcessing {
			return invalid(t, domain.TaskFailed)
		}
		t.Status = domain.TaskFailed
		t.Error = reason
		t.Progress = "Failed: " + reason
		return nil
	})
}

// SetProgress updates the free-text progress of a task. Unknown ids are ignored.
func (q *Queue) SetProgress(id, msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[id]; ok {
		t.Progress = msg
		t.UpdatedAt = q.now()
	}
}

// Get returns a copy of one task.
func (q *Queue) Get(id string) (domain.Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	t, ok := q.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("get %s: %w", id, domain.ErrTaskNotFound)
	}
	return t.Clone(), nil
}

// List returns tasks in insertion order, optionally filtered by status.
func (q *Queue) List(status domain.TaskStatus) []domain.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]domain.Task, 0, len(q.order))
	for _, id := range q.order {
		t := q.tasks[id]
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.Clone())
	}
	return out
}

// Active returns the tasks that have not reached a terminal state.
func (q *Queue) Active() []domain.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []domain.Task
	for _, id := range q.order {
		if t := q.tasks[id]; !t.IsTerminal() {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Counts returns the number of tasks per status.
func (q *Queue) Counts() map[domain.TaskStatus]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts := map[domain.TaskStatus]int{
		domain.TaskPending:    0,
		domain.TaskProcessing: 0,
		domain.TaskCompleted:  0,
		domain.TaskFailed:     0,
	}
	for _, t := range q.tasks {
		counts[t.Status]++
	}
	return counts
}

// ─── Internal ───────────────────────────────────────────────────────────────

func (q *Queue) transition(id string, apply func(t *domain.Task) error) error {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("transition %s: %w", id, domain.ErrTaskNotFound)
	}
	from := t.Status
	if err := apply(t); err != nil {
		q.mu.Unlock()
		return err
	}
	t.UpdatedAt = q.now()
	snap := t.Clone()
	q.mu.Unlock()

	q.notify(snap, from)
	return nil
}

func (q *Queue) notify(t domain.Task, from domain.TaskStatus) {
	if q.observer != nil {
		q.observer.TaskTransition(t, from)
	}
}

func invalid(t *domain.Task, to domain.TaskStatus) error {
	return fmt.Errorf("task %s %s → %s: %w", t.ID, t.Status, to, domain.ErrInvalidTransition)
}
