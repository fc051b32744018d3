package taskstore

import (
	"errors"
	"testing"

	"github.com/taskpilot/taskpilot/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestTask(t *testing.T, store *Store) *domain.Task {
	t.Helper()
	project := &domain.Project{Name: "api", RepositoryURL: "git@example.com:api.git", LocalPath: "/tmp/api"}
	if err := store.CreateProject(project); err != nil {
		t.Fatal(err)
	}
	task := &domain.Task{
		ProjectID:   project.ID,
		Description: "Add health check endpoint",
		Priority:    domain.PriorityHigh,
	}
	if err := store.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestStore_CreateAndGetTask(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store)

	got, err := store.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != task.Description {
		t.Errorf("Description = %q, want %q", got.Description, task.Description)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Priority != domain.PriorityHigh {
		t.Errorf("Priority = %q, want high", got.Priority)
	}
	if got.Iteration != 0 {
		t.Errorf("Iteration = %d, want 0", got.Iteration)
	}
}

func TestStore_GetTask_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetTask("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListTasks(t *testing.T) {
	store := newTestStore(t)
	project := &domain.Project{Name: "api", RepositoryURL: "url"}
	if err := store.CreateProject(project); err != nil {
		t.Fatal(err)
	}
	other := &domain.Project{Name: "web", RepositoryURL: "url"}
	if err := store.CreateProject(other); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		projectID string
	}{{project.ID}, {project.ID}, {other.ID}} {
		task := &domain.Task{ProjectID: tc.projectID, Description: "some work to do"}
		if err := store.CreateTask(task); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListTasks(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all tasks = %d, want 3", len(all))
	}

	mine, err := store.ListTasks(ListOptions{ProjectID: project.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Errorf("project tasks = %d, want 2", len(mine))
	}

	pending, err := store.ListTasks(ListOptions{Status: domain.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Errorf("pending tasks = %d, want 3", len(pending))
	}
}

func TestStore_Transition_UpdatesStatusAndLogsEvent(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store)

	updated, err := store.Transition(task.ID, domain.StatusGitSync, "Syncing with main branch", nil)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != domain.StatusGitSync {
		t.Errorf("Status = %q, want git_sync", updated.Status)
	}

	events, err := store.ListEvents(task.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].EventType != domain.EventStatusChanged {
		t.Errorf("EventType = %q, want status_changed", events[0].EventType)
	}
	if events[0].Data["status"] != "git_sync" {
		t.Errorf("event status = %v, want git_sync", events[0].Data["status"])
	}
}

func TestStore_Transition_RejectsIllegalMove(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store)

	_, err := store.Transition(task.ID, domain.StatusCompleted, "", nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	// The failed transition must not have touched the row or the log.
	got, err := store.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	n, err := store.CountEvents(task.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestStore_Transition_TerminalIsImmutable(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store)

	if _, err := store.Transition(task.ID, domain.StatusFailed, "git sync failed", nil); err != nil {
		t.Fatal(err)
	}

	_, err := store.Transition(task.ID, domain.StatusGitSync, "", nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	got, _ := store.GetTask(task.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.ErrorMessage != "git sync failed" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestStore_Transition_MutatePersistsFields(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store)

	if _, err := store.Transition(task.ID, domain.StatusGitSync, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Transition(task.ID, domain.StatusPlanning, "", func(tk *domain.Task) {
		tk.BranchName = "feature/add-health-check-endpoint"
	}); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BranchName != "feature/add-health-check-endpoint" {
		t.Errorf("BranchName = %q", got.BranchName)
	}
}

func TestStore_Transition_TestResultsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store)

	for _, to := range []domain.TaskStatus{
		domain.StatusGitSync, domain.StatusPlanning, domain.StatusAwaitingApproval,
		domain.StatusApproved, domain.StatusInProgress, domain.StatusTesting,
	} {
		if _, err := store.Transition(task.ID, to, "", nil); err != nil {
			t.Fatal(err)
		}
	}

	_, err := store.Transition(task.ID, domain.StatusInProgress, "retrying", func(tk *domain.Task) {
		tk.Iteration = 1
		tk.FilesCreated = []string{"health.go"}
		tk.FilesModified = []string{"router.go"}
		tk.TestResults = &domain.TestResults{Passed: 3, Failed: 1, Total: 4, AllPassed: false}
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", got.Iteration)
	}
	if got.TestResults == nil || got.TestResults.Failed != 1 || got.TestResults.AllPassed {
		t.Errorf("TestResults = %+v", got.TestResults)
	}
	if len(got.FilesCreated) != 1 || got.FilesCreated[0] != "health.go" {
		t.Errorf("FilesCreated = %v", got.FilesCreated)
	}
}

func TestStore_Events_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store)

	for _, typ := range []string{"a", "b", "c"} {
		if err := store.AppendEvent(task.ID, typ, nil); err != nil {
			t.Fatal(err)
		}
	}

	events, err := store.ListEvents(task.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].EventType != "c" {
		t.Errorf("first event = %q, want c", events[0].EventType)
	}
}

func TestStore_Jobs_ClaimAndFinish(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store)

	if _, err := store.EnqueueJob(JobExecute, task.ID, ""); err != nil {
		t.Fatal(err)
	}

	job, err := store.ClaimJob()
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("ClaimJob returned nil, want job")
	}
	if job.Kind != JobExecute || job.Status != JobRunning || job.Attempts != 1 {
		t.Errorf("job = %+v", job)
	}

	// Nothing else pending.
	second, err := store.ClaimJob()
	if err != nil {
		t.Fatal(err)
	}
	if second != nil {
		t.Errorf("second claim = %+v, want nil", second)
	}

	if err := store.FinishJob(job.ID, nil); err != nil {
		t.Fatal(err)
	}
	n, err := store.PendingJobCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestStore_Jobs_RecoverRequeuesRunning(t *testing.T) {
	store := newTestStore(t)
	task := createTestTask(t, store)

	if _, err := store.EnqueueJob(JobContinue, task.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimJob(); err != nil {
		t.Fatal(err)
	}

	// Simulate a restart: the running job must come back as pending.
	n, err := store.RecoverJobs()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}

	job, err := store.ClaimJob()
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("no job after recovery")
	}
	if job.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", job.Attempts)
	}
}

func TestStore_Projects(t *testing.T) {
	store := newTestStore(t)
	p := &domain.Project{Name: "api", RepositoryURL: "git@example.com:api.git"}
	if err := store.CreateProject(p); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetProject(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MainBranch != "main" {
		t.Errorf("MainBranch = %q, want default main", got.MainBranch)
	}
	list, err := store.ListProjects()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("projects = %d, want 1", len(list))
	}
}
