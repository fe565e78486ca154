// Package domain holds the core types shared by every reelq component.
// A Task is one queued generation request:
// enqueue → assign → submit → poll → download → record.
package domain

import (
	"strings"
	"time"
)

// TaskStatus tracks task lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// MaxRetries is the number of requeues a task gets before a further failure is terminal.
const MaxRetries = 3

// VideoSettings holds the generation parameters chosen by the caller.
type VideoSettings struct {
	Model           string `json:"model"`
	AspectRatio     string `json:"aspect_ratio,omitempty"` // "16:9", "9:16", "landscape", "portrait"
	Resolution      string `json:"resolution,omitempty"`   // "720p", "1080p"
	Duration        string `json:"duration,omitempty"`     // seconds, "10" or "15"
	Size            string `json:"size,omitempty"`         // "standard", "high" (pro models)
	RemoveWatermark *bool  `json:"remove_watermark,omitempty"`
}

// Payload is everything a provider needs to run one generation.
type Payload struct {
	Prompt     string        `json:"prompt"`
	StartImage string        `json:"start_image,omitempty"`
	EndImage   string        `json:"end_image,omitempty"`
	Settings   VideoSettings `json:"settings"`
}

// Validate rejects payloads that cannot be scheduled.
// A payload needs a model and either a prompt or a start image.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Settings.Model) == "" {
		return &JobError{Kind: KindValidation, Message: "model is required"}
	}
	if strings.TrimSpace(p.Prompt) == "" && strings.TrimSpace(p.StartImage) == "" {
		return &JobError{Kind: KindValidation, Message: "prompt or start image is required"}
	}
	if p.EndImage != "" && p.StartImage == "" {
		return &JobError{Kind: KindValidation, Message: "end image requires a start image"}
	}
	switch strings.ToLower(strings.TrimSpace(p.Settings.AspectRatio)) {
	case "", "16:9", "9:16", "landscape", "portrait":
	default:
		return &JobError{Kind: KindValidation, Message: "unsupported aspect ratio " + p.Settings.AspectRatio + " (use 16:9, 9:16, landscape or portrait)"}
	}
	return nil
}

// Task is a unit of queued generation work.
type Task struct {
	ID             string     `json:"id"`
	Payload        Payload    `json:"payload"`
	Status         TaskStatus `json:"status"`
	RetryCount     int        `json:"retry_count"`
	AssignedWorker string     `json:"assigned_worker,omitempty"`
	Progress       string     `json:"progress,omitempty"`
	Error          string     `json:"error,omitempty"`
	Result         *Result    `json:"result,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsTerminal returns true if the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// Clone returns a copy that shares no mutable state with t.
func (t *Task) Clone() Task {
	c := *t
	if t.Payload.Settings.RemoveWatermark != nil {
		v := *t.Payload.Settings.RemoveWatermark
		c.Payload.Settings.RemoveWatermark = &v
	}
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return c
}

// Result is the outcome of a successful generation.
type Result struct {
	TaskID      string    `json:"task_id"`
	Artifact    []byte    `json:"-"`
	SizeBytes   int64     `json:"size_bytes,omitempty"` // set once Artifact is dropped
	RemoteURL   string    `json:"remote_url"`
	Payload     Payload   `json:"payload"`
	CompletedAt time.Time `json:"completed_at"`
}

// ArtifactSize returns the artifact length in bytes.
func (r *Result) ArtifactSize() int64 {
	if len(r.Artifact) > 0 {
		return int64(len(r.Artifact))
	}
	return r.SizeBytes
}
