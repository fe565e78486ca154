// Package history persists completed generations: the artifact on disk and a
// metadata row in sqlite.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tutu-network/reelq/internal/domain"
	"github.com/tutu-network/reelq/internal/infra/sqlite"
)

// Recorder implements domain.ResultSink.
type Recorder struct {
	db  *sqlite.DB
	dir string
	now func() time.Time
}

// NewRecorder creates a recorder writing artifacts under dir.
func NewRecorder(db *sqlite.DB, dir string) *Recorder {
	return &Recorder{db: db, dir: dir, now: time.Now}
}

// Dir returns the artifacts directory.
func (r *Recorder) Dir() string { return r.dir }

// ArtifactPath returns where the artifact of taskID is stored.
func (r *Recorder) ArtifactPath(taskID string) string {
	return filepath.Join(r.dir, taskID+".mp4")
}

// OnCompleted writes the artifact and its metadata row.
func (r *Recorder) OnCompleted(ctx context.Context, result domain.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if result.TaskID == "" {
		return fmt.Errorf("result has no task id")
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}

	path := r.ArtifactPath(result.TaskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, result.Artifact, 0644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize artifact: %w", err)
	}

	settings, err := json.Marshal(result.Payload.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	created := result.CompletedAt
	if created.IsZero() {
		created = r.now()
	}

	rec := domain.ResultRecord{
		TaskID:       result.TaskID,
		Prompt:       result.Payload.Prompt,
		Model:        result.Payload.Settings.Model,
		RemoteURL:    result.RemoteURL,
		ArtifactPath: path,
		SizeBytes:    result.ArtifactSize(),
		Settings:     string(settings),
		CreatedAt:    created,
	}
	if err := r.db.InsertResult(rec); err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	log.WithFields(log.Fields{
		"component": "history",
		"task_id":   result.TaskID,
		"bytes":     rec.SizeBytes,
	}).Info("result recorded")
	return nil
}

// List returns recent results, newest first.
func (r *Recorder) List(limit int) ([]domain.ResultRecord, error) {
	return r.db.ListResults(limit)
}

// Get returns one result or domain.ErrResultNotFound.
func (r *Recorder) Get(taskID string) (*domain.ResultRecord, error) {
	rec, err := r.db.GetResult(taskID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrResultNotFound, taskID)
	}
	return rec, nil
}

// Open opens the artifact of taskID for reading.
func (r *Recorder) Open(taskID string) (*os.File, *domain.ResultRecord, error) {
	rec, err := r.Get(taskID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(rec.ArtifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: artifact missing for %s", domain.ErrResultNotFound, taskID)
		}
		return nil, nil, err
	}
	return f, rec, nil
}
