package taskstore

import (
	"database/sql"
	"errors"
	"time"
)

// Job statuses. A job is claimed by moving pending -> running inside a
// transaction; at-least-once delivery comes from RecoverJobs requeuing
// running jobs after a restart.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job kinds understood by the queue workers.
const (
	JobExecute  = "execute"
	JobContinue = "continue"
	JobReplan   = "replan"
)

// Job is one persisted unit of scheduled orchestrator work.
type Job struct {
	ID           int64
	Kind         string
	TaskID       string
	Payload      string
	Status       string
	Attempts     int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnqueueJob appends a pending job for a task.
func (s *Store) EnqueueJob(kind, taskID, payload string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO jobs (kind, task_id, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, kind, taskID, payload, JobPending, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ClaimJob transitions the oldest pending job to running and returns it.
// Returns (nil, nil) when no job is pending.
func (s *Store) ClaimJob() (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, kind, task_id, payload, status, attempts, error_message, created_at, updated_at
		FROM jobs WHERE status = ? ORDER BY id LIMIT 1
	`, JobPending)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.Status = JobRunning
	job.Attempts++
	job.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		job.Status, job.Attempts, job.UpdatedAt, job.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

// FinishJob marks a running job done or failed.
func (s *Store) FinishJob(id int64, jobErr error) error {
	status := JobDone
	errMsg := ""
	if jobErr != nil {
		status = JobFailed
		errMsg = jobErr.Error()
	}
	_, err := s.db.Exec(`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id)
	return err
}

// RecoverJobs requeues jobs left running by a previous process. Called once
// at startup so a crash between scheduling and execution cannot silently
// lose a task's forward progress.
func (s *Store) RecoverJobs() (int, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		JobPending, time.Now().UTC(), JobRunning)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PendingJobCount returns the number of pending jobs.
func (s *Store) PendingJobCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, JobPending).Scan(&n)
	return n, err
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var payload, errMsg sql.NullString
	err := row.Scan(&job.ID, &job.Kind, &job.TaskID, &payload, &job.Status,
		&job.Attempts, &errMsg, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Payload = payload.String
	job.ErrorMessage = errMsg.String
	return &job, nil
}
