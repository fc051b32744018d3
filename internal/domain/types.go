package domain

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	StatusPending          TaskStatus = "pending"
	StatusGitSync          TaskStatus = "git_sync"
	StatusPlanning         TaskStatus = "planning"
	StatusAwaitingApproval TaskStatus = "awaiting_approval"
	StatusApproved         TaskStatus = "approved"
	StatusInProgress       TaskStatus = "in_progress"
	StatusTesting          TaskStatus = "testing"
	StatusCompleted        TaskStatus = "completed"
	StatusFailed           TaskStatus = "failed"
	StatusRejected         TaskStatus = "rejected"
)

// Priority represents task priority. Advisory only: it does not affect
// scheduling order within a project.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidStatus reports whether s is one of the defined task statuses.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusPending, StatusGitSync, StatusPlanning, StatusAwaitingApproval,
		StatusApproved, StatusInProgress, StatusTesting, StatusCompleted,
		StatusFailed, StatusRejected:
		return true
	}
	return false
}

// ValidPriority reports whether p is one of the defined priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// IsTerminal reports whether s is a terminal status. No transition leads
// out of a terminal status.
func IsTerminal(s TaskStatus) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// transitions is the legal transition table. Failed is reachable from every
// non-terminal state and is handled in CanTransition directly.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:          {StatusGitSync},
	StatusGitSync:          {StatusPlanning},
	StatusPlanning:         {StatusAwaitingApproval},
	StatusAwaitingApproval: {StatusApproved, StatusPlanning, StatusRejected},
	StatusApproved:         {StatusInProgress},
	StatusInProgress:       {StatusTesting, StatusCompleted},
	StatusTesting:          {StatusInProgress, StatusCompleted},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to TaskStatus) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
