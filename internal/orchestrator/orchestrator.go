// Package orchestrator drives a task through the workflow state machine:
// git sync, branch creation, planning, the human approval gate, the bounded
// develop/test retry loop, commit/push, and report generation.
//
// There is no in-memory continuation across the approval gate: each entry
// point loads the task fresh from the store, so execution can resume from a
// different process than the one that created the task. The task record is
// the continuation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/gitexec"
	"github.com/taskpilot/taskpilot/internal/notify"
	"github.com/taskpilot/taskpilot/internal/step"
	"github.com/taskpilot/taskpilot/internal/taskstore"
)

// ErrNotAwaitingApproval is returned when an approval signal targets a task
// that is not suspended at the approval gate.
var ErrNotAwaitingApproval = errors.New("task not awaiting approval")

// ErrNotPending is returned when Execute is called on a task that has
// already started.
var ErrNotPending = errors.New("task not pending")

// EventSink receives task updates after each persisted transition, for
// real-time observers. Implementations must not block.
type EventSink interface {
	TaskUpdated(task *domain.Task)
}

// Decision is the outcome of an approval signal, telling the caller what to
// schedule next.
type Decision int

const (
	// DecisionApproved means the task moved to approved; schedule
	// ContinueAfterApproval.
	DecisionApproved Decision = iota
	// DecisionReplan means the plan was sent back with feedback; schedule
	// Replan.
	DecisionReplan
	// DecisionRejected means the task is terminally rejected.
	DecisionRejected
)

// Engine orchestrates task execution. It depends only on the step
// interfaces, never on concrete git or LLM clients.
type Engine struct {
	store     *taskstore.Store
	git       step.GitStep
	planner   step.PlanStep
	developer step.DevelopStep
	tester    step.TestStep
	reporter  step.ReportStep
	validator step.Validator
	notifier  notify.Notifier
	sink      EventSink

	plansDir      string
	reportsDir    string
	maxIterations int
}

// Options configures optional Engine collaborators.
type Options struct {
	Validator step.Validator
	Notifier  notify.Notifier
	Sink      EventSink
}

// New creates an Engine. The config is read once here; nothing consults
// globals later.
func New(store *taskstore.Store, cfg *config.Config, git step.GitStep, planner step.PlanStep,
	developer step.DevelopStep, tester step.TestStep, reporter step.ReportStep, opts Options) *Engine {

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}

	return &Engine{
		store:         store,
		git:           git,
		planner:       planner,
		developer:     developer,
		tester:        tester,
		reporter:      reporter,
		validator:     opts.Validator,
		notifier:      notifier,
		sink:          opts.Sink,
		plansDir:      cfg.General.PlansDir,
		reportsDir:    cfg.General.ReportsDir,
		maxIterations: cfg.Agent.MaxIterations,
	}
}

// transition persists a status change and notifies the sink.
func (e *Engine) transition(taskID string, to domain.TaskStatus, message string, mutate func(*domain.Task)) (*domain.Task, error) {
	task, err := e.store.Transition(taskID, to, message, mutate)
	if err != nil {
		return nil, err
	}
	if e.sink != nil {
		e.sink.TaskUpdated(task)
	}
	return task, nil
}

// fail lands the task in the failed terminal state. Step errors are
// translated into task state and the event log; they are never re-raised
// past the engine's entry points.
func (e *Engine) fail(taskID, message string, mutate func(*domain.Task)) {
	log.Printf("[%s] %s", taskID, message)
	task, err := e.transition(taskID, domain.StatusFailed, message, mutate)
	if err != nil {
		log.Printf("[%s] recording failure: %v", taskID, err)
		return
	}
	e.notifier.Send(notify.Notification{
		Title:   "Task failed",
		Message: message,
		Type:    notify.NotifyError,
		TaskID:  task.ID,
	})
}

// Execute runs the pipeline from pending through awaiting_approval, then
// returns: the approval gate is a true suspension point. On any step
// failure the task ends in failed with ErrorMessage set; the error is not
// returned. Only caller misuse (unknown id, wrong starting status) yields
// an error.
func (e *Engine) Execute(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.StatusPending {
		return fmt.Errorf("%w: status is %s", ErrNotPending, task.Status)
	}

	project, err := e.store.GetProject(task.ProjectID)
	if err != nil {
		e.fail(taskID, fmt.Sprintf("Project lookup failed: %v", err), nil)
		return nil
	}

	log.Printf("[%s] starting execution", taskID)

	// Git sync.
	if _, err := e.transition(taskID, domain.StatusGitSync, "Syncing with main branch", nil); err != nil {
		return err
	}
	if err := e.git.Sync(ctx, project.LocalPath, project.MainBranch); err != nil {
		e.fail(taskID, fmt.Sprintf("Git sync failed: %v", err), nil)
		return nil
	}
	e.logEvent(taskID, domain.EventGitSyncCompleted, map[string]any{"branch": project.MainBranch})

	// Feature branch.
	branch := gitexec.BranchName(task.Description)
	if err := e.git.CreateBranch(ctx, project.LocalPath, branch); err != nil {
		e.fail(taskID, fmt.Sprintf("Branch creation failed: %v", err), nil)
		return nil
	}
	e.logEvent(taskID, domain.EventBranchCreated, map[string]any{"branch_name": branch})

	// Planning, then suspend at the approval gate.
	e.runPlanning(ctx, task, project, "", func(t *domain.Task) {
		t.BranchName = branch
	})
	return nil
}

// runPlanning drives git_sync|awaiting_approval -> planning ->
// awaiting_approval. mutate is applied on the transition into planning.
func (e *Engine) runPlanning(ctx context.Context, task *domain.Task, project *domain.Project, feedback string, mutate func(*domain.Task)) {
	if _, err := e.transition(task.ID, domain.StatusPlanning, "Generating implementation plan", mutate); err != nil {
		e.fail(task.ID, fmt.Sprintf("Planning failed: %v", err), nil)
		return
	}

	result, err := e.planner.Plan(ctx, step.PlanRequest{
		TaskID:      task.ID,
		Description: task.Description,
		Context:     projectContext(project, task),
		RepoPath:    project.LocalPath,
		Feedback:    feedback,
	})
	if err != nil {
		e.fail(task.ID, fmt.Sprintf("Planning failed: %v", err), nil)
		return
	}

	// Validation is advisory telemetry; it never gates the pipeline.
	eventData := map[string]any{}
	if e.validator != nil {
		if v, err := e.validator.ValidatePlan(ctx, result.Plan, task.Description); err == nil {
			eventData["validation_score"] = v.Score
			eventData["validation_issues"] = v.Issues
		} else {
			log.Printf("[%s] plan validation failed: %v", task.ID, err)
		}
	}

	// Each generation writes a new file; replanning never overwrites.
	planPath, err := e.saveArtifact(e.plansDir, "plan", task.ID, result.Plan)
	if err != nil {
		e.fail(task.ID, fmt.Sprintf("Saving plan failed: %v", err), nil)
		return
	}

	if _, err := e.transition(task.ID, domain.StatusAwaitingApproval, "Plan ready for review", func(t *domain.Task) {
		t.PlanPath = planPath
	}); err != nil {
		e.fail(task.ID, fmt.Sprintf("Planning failed: %v", err), nil)
		return
	}

	eventData["plan_path"] = planPath
	e.logEvent(task.ID, domain.EventPlanGenerated, eventData)

	e.notifier.Send(notify.Notification{
		Title:   "Plan awaiting approval",
		Message: task.Description,
		Type:    notify.NotifyInfo,
		TaskID:  task.ID,
	})
	log.Printf("[%s] plan generated, waiting for approval", task.ID)
}

// Approve handles an external approval signal. Valid only while the task
// is suspended at the approval gate; any other status yields
// ErrNotAwaitingApproval and no mutation. The returned Decision tells the
// caller what to schedule next.
func (e *Engine) Approve(ctx context.Context, taskID string, approved bool, feedback string) (Decision, error) {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return 0, err
	}
	if task.Status != domain.StatusAwaitingApproval {
		return 0, fmt.Errorf("%w: status is %s", ErrNotAwaitingApproval, task.Status)
	}

	switch {
	case approved:
		// Iteration counts retries within one approval cycle; approval
		// starts a fresh cycle.
		if _, err := e.transition(taskID, domain.StatusApproved, "Plan approved", func(t *domain.Task) {
			t.Iteration = 0
		}); err != nil {
			return 0, err
		}
		return DecisionApproved, nil

	case feedback != "":
		return DecisionReplan, nil

	default:
		if _, err := e.transition(taskID, domain.StatusRejected, "Plan rejected", nil); err != nil {
			return 0, err
		}
		return DecisionRejected, nil
	}
}

// Replan regenerates the plan with reviewer feedback:
// awaiting_approval -> planning -> awaiting_approval. The revision cycle is
// unbounded; a human stays in the loop until approve or reject.
func (e *Engine) Replan(ctx context.Context, taskID, feedback string) error {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.StatusAwaitingApproval {
		return fmt.Errorf("%w: status is %s", ErrNotAwaitingApproval, task.Status)
	}

	project, err := e.store.GetProject(task.ProjectID)
	if err != nil {
		e.fail(taskID, fmt.Sprintf("Project lookup failed: %v", err), nil)
		return nil
	}

	log.Printf("[%s] replanning with feedback", taskID)
	e.runPlanning(ctx, task, project, feedback, nil)
	return nil
}

// ContinueAfterApproval runs from approved through completed (or failed),
// implementing the bounded develop/test retry loop. The initial
// approved -> in_progress transition doubles as an optimistic claim:
// calling this twice for one approval fails the status check and mutates
// nothing.
func (e *Engine) ContinueAfterApproval(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}

	project, err := e.store.GetProject(task.ProjectID)
	if err != nil {
		e.fail(taskID, fmt.Sprintf("Project lookup failed: %v", err), nil)
		return nil
	}

	// Claim the task.
	task, err = e.transition(taskID, domain.StatusInProgress, "Implementing feature", nil)
	if err != nil {
		if errors.Is(err, taskstore.ErrInvalidTransition) {
			return fmt.Errorf("task %s not ready to continue: %w", taskID, err)
		}
		return err
	}

	plan, err := os.ReadFile(task.PlanPath)
	if err != nil {
		e.fail(taskID, fmt.Sprintf("Loading plan failed: %v", err), nil)
		return nil
	}

	var (
		devResult   step.DevelopResult
		testResults domain.TestResults
	)

	// persist carries the latest loop results into whichever transition
	// happens next, so every exit path lands them in the task record.
	persist := func(t *domain.Task) {
		t.FilesCreated = devResult.FilesCreated
		t.FilesModified = devResult.FilesModified
		t.ImplementationSummary = devResult.Summary
		if testResults.Total > 0 || testResults.Output != "" {
			r := testResults
			t.TestResults = &r
		}
	}

	for {
		// Development. Failure of the generated code is detected by
		// testing, not here; only step-level errors fail the task.
		devResult, err = e.developer.Develop(ctx, step.DevelopRequest{
			TaskID:   taskID,
			Plan:     string(plan),
			Context:  projectContext(project, task),
			RepoPath: project.LocalPath,
		})
		if err != nil {
			e.fail(taskID, fmt.Sprintf("Development failed: %v", err), persist)
			return nil
		}

		devEvent := map[string]any{
			"files_created":  len(devResult.FilesCreated),
			"files_modified": len(devResult.FilesModified),
		}
		if e.validator != nil {
			files := append(append([]string{}, devResult.FilesCreated...), devResult.FilesModified...)
			if v, err := e.validator.ValidateImplementation(ctx, string(plan), task.Description, files); err == nil {
				devEvent["validation_score"] = v.Score
			}
		}
		e.logEvent(taskID, domain.EventDevelopCompleted, devEvent)

		// Testing.
		task, err = e.transition(taskID, domain.StatusTesting, "Running tests", persist)
		if err != nil {
			e.fail(taskID, fmt.Sprintf("Testing failed: %v", err), persist)
			return nil
		}

		testResults, err = e.tester.Test(ctx, step.TestRequest{
			TaskID:        taskID,
			RepoPath:      project.LocalPath,
			FilesCreated:  devResult.FilesCreated,
			FilesModified: devResult.FilesModified,
		})
		if err != nil {
			e.fail(taskID, fmt.Sprintf("Testing failed: %v", err), persist)
			return nil
		}
		e.logEvent(taskID, domain.EventTestingCompleted, map[string]any{
			"passed":     testResults.Passed,
			"failed":     testResults.Failed,
			"all_passed": testResults.AllPassed,
		})

		if testResults.AllPassed {
			break
		}

		// Exhausting the retry budget does not fail the task: the
		// pipeline moves on with the failure recorded in TestResults.
		// Best effort, never silently stuck.
		if task.Iteration >= e.maxIterations {
			log.Printf("[%s] retry budget exhausted with failing tests, proceeding", taskID)
			break
		}

		task, err = e.transition(taskID, domain.StatusInProgress, "Tests failed, retrying development", func(t *domain.Task) {
			persist(t)
			t.Iteration++
		})
		if err != nil {
			e.fail(taskID, fmt.Sprintf("Retry failed: %v", err), persist)
			return nil
		}
		log.Printf("[%s] retrying development (iteration %d)", taskID, task.Iteration)
	}

	// Commit and push. A failure here does fail the task.
	message := gitexec.CommitMessage(task.Description, devResult.FilesCreated, devResult.FilesModified)
	hash, err := e.git.CommitPush(ctx, project.LocalPath, task.BranchName, message)
	if err != nil {
		e.fail(taskID, fmt.Sprintf("Commit/push failed: %v", err), persist)
		return nil
	}
	e.logEvent(taskID, domain.EventCodePushed, map[string]any{
		"branch":      task.BranchName,
		"commit_hash": hash,
	})

	// Report generation is best-effort and must never fail the task.
	reportPath := ""
	report, err := e.reporter.Report(ctx, step.ReportRequest{
		TaskID:      taskID,
		Description: task.Description,
		Plan:        string(plan),
		Summary:     devResult.Summary,
		TestResults: &testResults,
		CommitHash:  hash,
		BranchName:  task.BranchName,
	})
	if err != nil {
		log.Printf("[%s] report generation failed: %v", taskID, err)
	} else if path, err := e.saveArtifact(e.reportsDir, "report", taskID, report); err != nil {
		log.Printf("[%s] saving report failed: %v", taskID, err)
	} else {
		reportPath = path
		e.logEvent(taskID, domain.EventReportGenerated, map[string]any{"report_path": path})
	}

	now := time.Now().UTC()
	task, err = e.transition(taskID, domain.StatusCompleted, "Task completed", func(t *domain.Task) {
		persist(t)
		t.CommitHash = hash
		if reportPath != "" {
			t.ReportPath = reportPath
		}
		t.CompletedAt = &now
	})
	if err != nil {
		e.fail(taskID, fmt.Sprintf("Completing task failed: %v", err), persist)
		return nil
	}

	e.notifier.Send(notify.Notification{
		Title:   "Task completed",
		Message: task.Description,
		Type:    notify.NotifySuccess,
		TaskID:  task.ID,
	})
	log.Printf("[%s] task completed", taskID)
	return nil
}

func (e *Engine) logEvent(taskID, eventType string, data map[string]any) {
	if err := e.store.AppendEvent(taskID, eventType, data); err != nil {
		log.Printf("[%s] logging event %s: %v", taskID, eventType, err)
	}
}

// saveArtifact writes a timestamped artifact file and returns its path.
func (e *Engine) saveArtifact(dir, kind, taskID, content string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%s.md", kind, taskID, time.Now().UTC().Format("20060102_150405.000"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func projectContext(project *domain.Project, task *domain.Task) string {
	ctx := project.Description
	if task.AdditionalContext != "" {
		if ctx != "" {
			ctx += "\n\n"
		}
		ctx += task.AdditionalContext
	}
	return ctx
}
