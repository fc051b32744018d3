// Package step defines the narrow interfaces the orchestrator drives its
// pipeline through. Each step role is a black box returning a typed result
// or an error; the orchestrator never depends on concrete git or LLM
// clients.
package step

import (
	"context"

	"github.com/taskpilot/taskpilot/internal/domain"
)

// GitStep covers the git operations the pipeline needs: sync the working
// copy, create the feature branch, and commit/push the result.
type GitStep interface {
	Sync(ctx context.Context, repoPath, mainBranch string) error
	CreateBranch(ctx context.Context, repoPath, branch string) error
	CommitPush(ctx context.Context, repoPath, branch, message string) (hash string, err error)
}

// PlanRequest carries everything the planner needs.
type PlanRequest struct {
	TaskID      string
	Description string
	Context     string
	RepoPath    string
	Feedback    string // non-empty on replan
}

// PlanResult is the planner's output.
type PlanResult struct {
	Plan string
}

// PlanStep generates an implementation plan.
type PlanStep interface {
	Plan(ctx context.Context, req PlanRequest) (PlanResult, error)
}

// DevelopRequest carries the approved plan to the developer.
type DevelopRequest struct {
	TaskID   string
	Plan     string
	Context  string
	RepoPath string
}

// DevelopResult reports what the implementation touched.
type DevelopResult struct {
	FilesCreated  []string
	FilesModified []string
	Summary       string
}

// DevelopStep implements the plan against the working copy.
type DevelopStep interface {
	Develop(ctx context.Context, req DevelopRequest) (DevelopResult, error)
}

// TestRequest names the files the most recent development touched.
type TestRequest struct {
	TaskID        string
	RepoPath      string
	FilesCreated  []string
	FilesModified []string
}

// TestStep runs the project's tests. A failing test suite is a result, not
// an error; errors mean the step itself could not run.
type TestStep interface {
	Test(ctx context.Context, req TestRequest) (domain.TestResults, error)
}

// ReportRequest carries the finished task's artifacts to the reporter.
type ReportRequest struct {
	TaskID      string
	Description string
	Plan        string
	Summary     string
	TestResults *domain.TestResults
	CommitHash  string
	BranchName  string
}

// ReportStep generates the completion report. Report generation is
// best-effort: failures never fail the task.
type ReportStep interface {
	Report(ctx context.Context, req ReportRequest) (string, error)
}

// Validation is advisory telemetry about plan or implementation quality.
// It is recorded in the event log and never gates the pipeline.
type Validation struct {
	Valid  bool
	Score  float64
	Issues int
}

// Validator judges plans and implementations against the task description.
type Validator interface {
	ValidatePlan(ctx context.Context, plan, description string) (Validation, error)
	ValidateImplementation(ctx context.Context, plan, description string, files []string) (Validation, error)
}
