// Package progress derives user-facing progress from task status and the
// event log. It is a pure read path and never mutates state.
package progress

import (
	"fmt"

	"github.com/taskpilot/taskpilot/internal/domain"
)

// percentByStatus maps each status to how close the task is to done.
// Failed and rejected map to 0: failure resets the notion of completeness.
var percentByStatus = map[domain.TaskStatus]int{
	domain.StatusPending:          0,
	domain.StatusGitSync:          10,
	domain.StatusPlanning:         30,
	domain.StatusAwaitingApproval: 40,
	domain.StatusApproved:         45,
	domain.StatusInProgress:       60,
	domain.StatusTesting:          80,
	domain.StatusCompleted:        100,
	domain.StatusFailed:           0,
	domain.StatusRejected:         0,
}

// Percent returns the progress percentage for a status, in [0,100].
// Unknown statuses map to 0.
func Percent(status domain.TaskStatus) int {
	return percentByStatus[status]
}

// Excerpt renders the most recent events as log lines, oldest first.
// Events are expected newest-first as returned by the store; at most n
// lines are rendered.
func Excerpt(events []*domain.TaskEvent, n int) []string {
	if len(events) > n {
		events = events[:n]
	}
	lines := make([]string, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		msg := ""
		if m, ok := ev.Data["message"].(string); ok {
			msg = m
		}
		lines = append(lines, fmt.Sprintf("%s - %s: %s",
			ev.CreatedAt.Format("15:04:05"), ev.EventType, msg))
	}
	return lines
}
