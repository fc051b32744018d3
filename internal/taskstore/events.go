package taskstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/taskpilot/taskpilot/internal/domain"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertEvent(db execer, taskID, eventType string, data map[string]any) error {
	var payload any
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	_, err := db.Exec(`
		INSERT INTO task_events (task_id, event_type, data, created_at)
		VALUES (?, ?, ?, ?)
	`, taskID, eventType, payload, time.Now().UTC())
	return err
}

// AppendEvent records a step-level event for a task. Events are append-only;
// there is no update or delete path.
func (s *Store) AppendEvent(taskID, eventType string, data map[string]any) error {
	return insertEvent(s.db, taskID, eventType, data)
}

// ListEvents returns the most recent events for a task, newest first.
// limit <= 0 means no limit.
func (s *Store) ListEvents(taskID string, limit int) ([]*domain.TaskEvent, error) {
	query := `
		SELECT id, task_id, event_type, data, created_at
		FROM task_events WHERE task_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.TaskEvent
	for rows.Next() {
		var ev domain.TaskEvent
		var data sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.EventType, &data, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
				return nil, err
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// CountEvents returns how many events of the given type a task has.
// An empty eventType counts all events.
func (s *Store) CountEvents(taskID, eventType string) (int, error) {
	query := `SELECT COUNT(*) FROM task_events WHERE task_id = ?`
	args := []any{taskID}
	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}
	var n int
	err := s.db.QueryRow(query, args...).Scan(&n)
	return n, err
}
