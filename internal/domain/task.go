package domain

import "time"

// Task represents one unit of requested work against a project, tracked
// through the workflow state machine. Status is the single source of truth
// for workflow position; once a task reaches a terminal status it is
// immutable.
type Task struct {
	ID          string
	ProjectID   string
	Description string
	Priority    Priority
	Status      TaskStatus

	// Git metadata. BranchName is set once during branch creation,
	// CommitHash once after a successful push.
	BranchName string
	CommitHash string

	// Artifact paths. Presence gates availability in the read API;
	// replanning writes a new plan file, it never overwrites.
	PlanPath   string
	ReportPath string

	AdditionalContext string
	ErrorMessage      string

	// Implementation tracking. Overwritten, not appended, on each
	// develop/test retry.
	FilesCreated          []string
	FilesModified         []string
	ImplementationSummary string
	TestResults           *TestResults

	// Iteration counts develop/test retries consumed in the current
	// approval cycle. Reset to 0 each time a plan is approved.
	Iteration int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// TestResults is the structured outcome of the most recent testing step.
type TestResults struct {
	Passed    int    `json:"passed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	AllPassed bool   `json:"all_passed"`
	Output    string `json:"output,omitempty"`
}

// TaskEvent is an append-only audit record of something that happened to a
// task. Events are never updated or deleted; ordering by CreatedAt is the
// canonical history.
type TaskEvent struct {
	ID        int64
	TaskID    string
	EventType string
	Data      map[string]any
	CreatedAt time.Time
}

// Well-known event types. EventType is a free-form tag; these cover the
// events the orchestrator emits itself.
const (
	EventStatusChanged    = "status_changed"
	EventGitSyncCompleted = "git_sync_completed"
	EventBranchCreated    = "branch_created"
	EventPlanGenerated    = "plan_generated"
	EventDevelopCompleted = "development_completed"
	EventTestingCompleted = "testing_completed"
	EventCodePushed       = "code_pushed"
	EventReportGenerated  = "report_generated"
	EventPlanUpdated      = "plan_updated"
)

// Project is the repository context a task operates against. The
// orchestrator treats it as read-only configuration.
type Project struct {
	ID            string
	Name          string
	RepositoryURL string
	Description   string
	LocalPath     string
	MainBranch    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
