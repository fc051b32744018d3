// Package observer collects runtime telemetry: aggregate task metrics fed
// by the orchestrator's event sink, and a filesystem watcher for plan
// files edited while a task waits at the approval gate.
package observer

import (
	"sync"
	"time"

	"github.com/taskpilot/taskpilot/internal/domain"
)

// Observer aggregates task outcomes. It implements the orchestrator's
// event sink, so every persisted transition flows through here.
type Observer struct {
	mu          sync.RWMutex
	completions []completion
	failures    []string
}

type completion struct {
	TaskID      string
	Duration    time.Duration
	CompletedAt time.Time
}

// Metrics holds aggregated task metrics.
type Metrics struct {
	TotalCompleted int
	TotalFailed    int
	AvgDuration    time.Duration
}

// New creates an Observer.
func New() *Observer {
	return &Observer{}
}

// TaskUpdated records terminal outcomes. Non-terminal transitions pass
// through untracked.
func (o *Observer) TaskUpdated(task *domain.Task) {
	switch task.Status {
	case domain.StatusCompleted:
		duration := time.Duration(0)
		if task.CompletedAt != nil {
			duration = task.CompletedAt.Sub(task.CreatedAt)
		}
		o.mu.Lock()
		o.completions = append(o.completions, completion{
			TaskID:      task.ID,
			Duration:    duration,
			CompletedAt: time.Now(),
		})
		o.mu.Unlock()
	case domain.StatusFailed:
		o.mu.Lock()
		o.failures = append(o.failures, task.ID)
		o.mu.Unlock()
	}
}

// GetMetrics returns aggregated metrics.
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	metrics := Metrics{
		TotalCompleted: len(o.completions),
		TotalFailed:    len(o.failures),
	}

	var total time.Duration
	for _, c := range o.completions {
		total += c.Duration
	}
	if metrics.TotalCompleted > 0 {
		metrics.AvgDuration = total / time.Duration(metrics.TotalCompleted)
	}
	return metrics
}

// RecentCompletions returns IDs of tasks completed within the window.
func (o *Observer) RecentCompletions(since time.Duration) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := time.Now().Add(-since)
	var result []string
	for _, c := range o.completions {
		if c.CompletedAt.After(cutoff) {
			result = append(result, c.TaskID)
		}
	}
	return result
}
