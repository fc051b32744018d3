package progress

import (
	"strings"
	"testing"
	"time"

	"github.com/taskpilot/taskpilot/internal/domain"
)

func TestPercent_Mapping(t *testing.T) {
	cases := map[domain.TaskStatus]int{
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
	for status, want := range cases {
		if got := Percent(status); got != want {
			t.Errorf("Percent(%s) = %d, want %d", status, got, want)
		}
	}
}

func TestPercent_MonotonicAlongPipeline(t *testing.T) {
	pipeline := []domain.TaskStatus{
		domain.StatusPending, domain.StatusGitSync, domain.StatusPlanning,
		domain.StatusAwaitingApproval, domain.StatusApproved,
		domain.StatusInProgress, domain.StatusTesting, domain.StatusCompleted,
	}
	prev := -1
	for _, status := range pipeline {
		p := Percent(status)
		if p < prev {
			t.Errorf("Percent(%s) = %d decreased from %d", status, p, prev)
		}
		prev = p
	}
}

func TestExcerpt_OldestFirst(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	// Newest-first, as the store returns them.
	events := []*domain.TaskEvent{
		{EventType: "plan_generated", Data: map[string]any{"message": "plan ready"}, CreatedAt: base.Add(2 * time.Minute)},
		{EventType: "status_changed", Data: map[string]any{"message": "Syncing with main branch"}, CreatedAt: base.Add(time.Minute)},
		{EventType: "status_changed", Data: map[string]any{}, CreatedAt: base},
	}

	lines := Excerpt(events, 10)
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "12:00:00 - status_changed") {
		t.Errorf("first line = %q, want oldest event first", lines[0])
	}
	if !strings.Contains(lines[2], "plan ready") {
		t.Errorf("last line = %q, want newest event last", lines[2])
	}
}

func TestExcerpt_Limit(t *testing.T) {
	var events []*domain.TaskEvent
	for i := 0; i < 20; i++ {
		events = append(events, &domain.TaskEvent{EventType: "status_changed", CreatedAt: time.Now()})
	}
	if got := len(Excerpt(events, 5)); got != 5 {
		t.Errorf("len = %d, want 5", got)
	}
}
