// Package taskstore provides SQLite-backed persistence for tasks, projects,
// the append-only event log, and the durable job queue.
package taskstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskpilot/taskpilot/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a task or project does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a requested status change is
	// not in the legal transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store provides SQLite-backed persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Serialized access keeps the single-writer model simple; sqlite
	// rejects concurrent writers on the same connection otherwise.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const taskColumns = `id, project_id, description, status, priority, branch_name, commit_hash,
	plan_path, report_path, additional_context, error_message, files_created,
	files_modified, implementation_summary, test_results, iteration,
	created_at, updated_at, completed_at`

// CreateTask inserts a new task in status pending. A missing ID is filled
// in; Description is immutable after this point.
func (s *Store) CreateTask(task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = domain.StatusPending
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityMedium
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	created, err := json.Marshal(task.FilesCreated)
	if err != nil {
		return err
	}
	modified, err := json.Marshal(task.FilesModified)
	if err != nil {
		return err
	}
	results, err := marshalTestResults(task.TestResults)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.ProjectID, task.Description, string(task.Status),
		string(task.Priority), task.BranchName, task.CommitHash,
		task.PlanPath, task.ReportPath, task.AdditionalContext,
		task.ErrorMessage, string(created), string(modified),
		task.ImplementationSummary, results, task.Iteration,
		task.CreatedAt, task.UpdatedAt, task.CompletedAt,
	)
	return err
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(id string) (*domain.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, err
}

// ListOptions specifies filters for listing tasks
type ListOptions struct {
	ProjectID string
	Status    domain.TaskStatus
}

// ListTasks returns tasks matching the given options, newest first
func (s *Store) ListTasks(opts ListOptions) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if opts.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, opts.ProjectID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Transition atomically moves a task to a new status. Inside one
// transaction it validates the move against the legal transition table,
// applies mutate (if any) to the freshly-loaded task, writes the updated
// row, and appends exactly one status_changed event. If the event cannot
// be logged the whole transition rolls back: a transition has not happened
// unless it is audited.
func (s *Store) Transition(taskID string, to domain.TaskStatus, message string, mutate func(*domain.Task)) (*domain.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(task.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, to)
	}

	task.Status = to
	task.UpdatedAt = time.Now().UTC()
	if to == domain.StatusFailed && message != "" {
		task.ErrorMessage = message
	}
	if mutate != nil {
		mutate(task)
	}

	created, err := json.Marshal(task.FilesCreated)
	if err != nil {
		return nil, err
	}
	modified, err := json.Marshal(task.FilesModified)
	if err != nil {
		return nil, err
	}
	results, err := marshalTestResults(task.TestResults)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		UPDATE tasks SET status = ?, branch_name = ?, commit_hash = ?,
			plan_path = ?, report_path = ?, error_message = ?,
			files_created = ?, files_modified = ?, implementation_summary = ?,
			test_results = ?, iteration = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`,
		string(task.Status), task.BranchName, task.CommitHash,
		task.PlanPath, task.ReportPath, task.ErrorMessage,
		string(created), string(modified), task.ImplementationSummary,
		results, task.Iteration, task.UpdatedAt, task.CompletedAt, task.ID,
	)
	if err != nil {
		return nil, err
	}

	data := map[string]any{"status": string(to)}
	if message != "" {
		data["message"] = message
	}
	if err := insertEvent(tx, taskID, domain.EventStatusChanged, data); err != nil {
		return nil, fmt.Errorf("logging transition event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return task, nil
}

func marshalTestResults(r *domain.TestResults) (any, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var task domain.Task
	var status, priority string
	var branch, commit, planPath, reportPath, addCtx, errMsg sql.NullString
	var created, modified, summary, results sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&task.ID, &task.ProjectID, &task.Description, &status, &priority,
		&branch, &commit, &planPath, &reportPath, &addCtx, &errMsg,
		&created, &modified, &summary, &results, &task.Iteration,
		&task.CreatedAt, &task.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	task.Priority = domain.Priority(priority)
	task.BranchName = branch.String
	task.CommitHash = commit.String
	task.PlanPath = planPath.String
	task.ReportPath = reportPath.String
	task.AdditionalContext = addCtx.String
	task.ErrorMessage = errMsg.String
	task.ImplementationSummary = summary.String
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}

	if created.Valid && created.String != "" && created.String != "null" {
		if err := json.Unmarshal([]byte(created.String), &task.FilesCreated); err != nil {
			return nil, err
		}
	}
	if modified.Valid && modified.String != "" && modified.String != "null" {
		if err := json.Unmarshal([]byte(modified.String), &task.FilesModified); err != nil {
			return nil, err
		}
	}
	if results.Valid && results.String != "" {
		var r domain.TestResults
		if err := json.Unmarshal([]byte(results.String), &r); err != nil {
			return nil, err
		}
		task.TestResults = &r
	}

	return &task, nil
}
