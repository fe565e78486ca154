package sqlite

import (
	"database/sql"
	"time"

	"github.com/tutu-network/reelq/internal/domain"
)

// ─── Results ────────────────────────────────────────────────────────────────

// InsertResult stores the metadata of a completed task. A second insert for the
// same task replaces the first.
func (d *DB) InsertResult(r domain.ResultRecord) error {
	_, err := d.db.Exec(
		`INSERT INTO results (task_id, prompt, model, remote_url, artifact_path, size_bytes, settings, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
			prompt=excluded.prompt,
			model=excluded.model,
			remote_url=excluded.remote_url,
			artifact_path=excluded.artifact_path,
			size_bytes=excluded.size_bytes,
			settings=excluded.settings,
			created_at=excluded.created_at`,
		r.TaskID, r.Prompt, r.Model, r.RemoteURL, r.ArtifactPath,
		r.SizeBytes, r.Settings, unixOrNow(r.CreatedAt),
	)
	return err
}

// GetResult retrieves one result. Returns nil, nil when not found.
func (d *DB) GetResult(taskID string) (*domain.ResultRecord, error) {
	row := d.db.QueryRow(
		`SELECT task_id, prompt, model, remote_url, artifact_path, size_bytes, settings, created_at
		 FROM results WHERE task_id = ?`, taskID,
	)
	return scanResult(row)
}

// ListResults returns the most recent results, newest first.
func (d *DB) ListResults(limit int) ([]domain.ResultRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT task_id, prompt, model, remote_url, artifact_path, size_bytes, settings, created_at
		 FROM results ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResultRecord
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanResult(s scanner) (*domain.ResultRecord, error) {
	var r domain.ResultRecord
	var created int64
	err := s.Scan(&r.TaskID, &r.Prompt, &r.Model, &r.RemoteURL, &r.ArtifactPath,
		&r.SizeBytes, &r.Settings, &created)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(created, 0)
	return &r, nil
}

// ─── Task Events ────────────────────────────────────────────────────────────

// InsertTaskEvent records one lifecycle transition.
func (d *DB) InsertTaskEvent(e domain.TaskEvent) (int64, error) {
	result, err := d.db.Exec(
		`INSERT INTO task_events (task_id, from_status, to_status, worker_id, retry_count, detail, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, string(e.FromStatus), string(e.ToStatus),
		nullStr(e.WorkerID), e.RetryCount, nullStr(e.Detail), unixOrNow(e.Timestamp),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// TaskEvents returns the transitions of one task, oldest first.
func (d *DB) TaskEvents(taskID string) ([]domain.TaskEvent, error) {
	rows, err := d.db.Query(
		`SELECT id, task_id, from_status, to_status, worker_id, retry_count, detail, timestamp
		 FROM task_events WHERE task_id = ? ORDER BY id ASC`, taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TaskEvent
	for rows.Next() {
		var e domain.TaskEvent
		var worker, detail sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.FromStatus, &e.ToStatus,
			&worker, &e.RetryCount, &detail, &ts); err != nil {
			return nil, err
		}
		e.WorkerID = worker.String
		e.Detail = detail.String
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// TaskTransition implements queue.Observer by recording the transition.
// Write errors are dropped.
func (d *DB) TaskTransition(t domain.Task, from domain.TaskStatus) {
	detail := t.Error
	if detail == "" && t.Status == domain.TaskProcessing {
		detail = t.Progress
	}
	_, _ = d.InsertTaskEvent(domain.TaskEvent{
		TaskID:     t.ID,
		FromStatus: from,
		ToStatus:   t.Status,
		WorkerID:   t.AssignedWorker,
		RetryCount: t.RetryCount,
		Detail:     detail,
		Timestamp:  t.UpdatedAt,
	})
}
