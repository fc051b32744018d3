package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/taskstore"
)

type fakeQueue struct {
	jobs []string
}

func (q *fakeQueue) Enqueue(kind, taskID, payload string) (int64, error) {
	q.jobs = append(q.jobs, kind+":"+taskID)
	return int64(len(q.jobs)), nil
}

func newTestStore(t *testing.T) *taskstore.Store {
	t.Helper()
	store, err := taskstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func nightlySchedule(projectID string) config.ScheduleConfig {
	return config.ScheduleConfig{
		Name:        "nightly-deps",
		ProjectID:   projectID,
		Cron:        "0 22 * * *",
		Description: "Update dependencies and fix any breakage",
		Priority:    "low",
	}
}

func TestNew_ValidatesSchedules(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name    string
		mutate  func(*config.ScheduleConfig)
		wantErr bool
	}{
		{"valid", func(sc *config.ScheduleConfig) {}, false},
		{"missing name", func(sc *config.ScheduleConfig) { sc.Name = "" }, true},
		{"missing project", func(sc *config.ScheduleConfig) { sc.ProjectID = "" }, true},
		{"missing description", func(sc *config.ScheduleConfig) { sc.Description = "" }, true},
		{"bad cron", func(sc *config.ScheduleConfig) { sc.Cron = "whenever" }, true},
		{"bad priority", func(sc *config.ScheduleConfig) { sc.Priority = "critical" }, true},
		{"empty priority ok", func(sc *config.ScheduleConfig) { sc.Priority = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := nightlySchedule("p1")
			tt.mutate(&sc)
			_, err := New(store, &fakeQueue{}, []config.ScheduleConfig{sc})
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScheduler_NextRun(t *testing.T) {
	store := newTestStore(t)
	s, err := New(store, &fakeQueue{}, []config.ScheduleConfig{nightlySchedule("p1")})
	if err != nil {
		t.Fatal(err)
	}

	if next := s.NextRun("nightly-deps"); next.IsZero() || !next.After(time.Now()) {
		t.Errorf("NextRun = %v", next)
	}
	if next := s.NextRun("unknown"); !next.IsZero() {
		t.Errorf("NextRun for unknown schedule = %v", next)
	}
}

func TestScheduler_ShouldRun(t *testing.T) {
	store := newTestStore(t)
	s, err := New(store, &fakeQueue{}, []config.ScheduleConfig{nightlySchedule("p1")})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 6, 1, 21, 0, 0, 0, time.UTC)

	// First observation only arms the schedule.
	if s.ShouldRun("nightly-deps", now) {
		t.Error("schedule must not fire on startup")
	}
	// 10 PM has not passed yet.
	if s.ShouldRun("nightly-deps", now.Add(30*time.Minute)) {
		t.Error("schedule fired before its cron time")
	}
	// Past 10 PM.
	if !s.ShouldRun("nightly-deps", now.Add(90*time.Minute)) {
		t.Error("schedule must fire after its cron time")
	}
	if s.ShouldRun("unknown", now) {
		t.Error("unknown schedule must not fire")
	}
}

func TestScheduler_FireCreatesTaskAndJob(t *testing.T) {
	store := newTestStore(t)
	project := &domain.Project{Name: "demo", LocalPath: t.TempDir()}
	if err := store.CreateProject(project); err != nil {
		t.Fatal(err)
	}

	queue := &fakeQueue{}
	s, err := New(store, queue, []config.ScheduleConfig{nightlySchedule(project.ID)})
	if err != nil {
		t.Fatal(err)
	}

	task, err := s.Fire("nightly-deps", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("status = %s", got.Status)
	}
	if got.Priority != domain.PriorityLow {
		t.Errorf("priority = %s", got.Priority)
	}
	if got.Description != "Update dependencies and fix any breakage" {
		t.Errorf("description = %q", got.Description)
	}
	if len(queue.jobs) != 1 || queue.jobs[0] != "execute:"+task.ID {
		t.Errorf("jobs = %v", queue.jobs)
	}

	// While the first task is still in flight the schedule skips.
	if _, err := s.Fire("nightly-deps", time.Now()); !errors.Is(err, ErrPreviousRunActive) {
		t.Errorf("expected ErrPreviousRunActive, got %v", err)
	}

	// Once it reaches a terminal state, a distinct task is created.
	if _, err := store.Transition(task.ID, domain.StatusFailed, "agent unavailable", nil); err != nil {
		t.Fatal(err)
	}
	again, err := s.Fire("nightly-deps", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if again.ID == task.ID {
		t.Error("firing twice must create two tasks")
	}

	if _, err := s.Fire("unknown", time.Now()); err == nil {
		t.Error("unknown schedule must error")
	}
}
