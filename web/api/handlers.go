package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/orchestrator"
	"github.com/taskpilot/taskpilot/internal/progress"
	"github.com/taskpilot/taskpilot/internal/taskstore"
)

// TaskCreateRequest is the payload for POST /api/tasks.
type TaskCreateRequest struct {
	ProjectID         string `json:"project_id"`
	Description       string `json:"description"`
	Priority          string `json:"priority,omitempty"`
	AdditionalContext string `json:"additional_context,omitempty"`
}

// TaskResponse is the API representation of a task.
type TaskResponse struct {
	ID                    string              `json:"id"`
	ProjectID             string              `json:"project_id"`
	Description           string              `json:"description"`
	Status                string              `json:"status"`
	Priority              string              `json:"priority"`
	Progress              int                 `json:"progress"`
	BranchName            string              `json:"branch_name,omitempty"`
	CommitHash            string              `json:"commit_hash,omitempty"`
	ErrorMessage          string              `json:"error_message,omitempty"`
	Iteration             int                 `json:"iteration"`
	FilesCreated          []string            `json:"files_created,omitempty"`
	FilesModified         []string            `json:"files_modified,omitempty"`
	ImplementationSummary string              `json:"implementation_summary,omitempty"`
	TestResults           *domain.TestResults `json:"test_results,omitempty"`
	CreatedAt             string              `json:"created_at"`
	UpdatedAt             string              `json:"updated_at"`
	CompletedAt           *string             `json:"completed_at,omitempty"`
}

// TaskStatusResponse is the lightweight polling view of a task.
type TaskStatusResponse struct {
	ID              string   `json:"id"`
	Status          string   `json:"status"`
	Progress        int      `json:"progress"`
	Message         string   `json:"message,omitempty"`
	RecentActivity  []string `json:"recent_activity,omitempty"`
	PlanAvailable   bool     `json:"plan_available"`
	ReportAvailable bool     `json:"report_available"`
}

// ApproveRequest is the payload for POST /api/tasks/{id}/approve.
type ApproveRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// ProjectCreateRequest is the payload for POST /api/projects.
type ProjectCreateRequest struct {
	Name          string `json:"name"`
	RepositoryURL string `json:"repository_url,omitempty"`
	Description   string `json:"description,omitempty"`
	LocalPath     string `json:"local_path"`
	MainBranch    string `json:"main_branch,omitempty"`
}

// StatusResponse is the aggregate view for GET /api/status.
type StatusResponse struct {
	Total            int `json:"total"`
	Pending          int `json:"pending"`
	Active           int `json:"active"`
	AwaitingApproval int `json:"awaiting_approval"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	Rejected         int `json:"rejected"`
	PendingJobs      int `json:"pending_jobs"`
}

// EventResponse is the API representation of a task event.
type EventResponse struct {
	ID        int64          `json:"id"`
	TaskID    string         `json:"task_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:                    t.ID,
		ProjectID:             t.ProjectID,
		Description:           t.Description,
		Status:                string(t.Status),
		Priority:              string(t.Priority),
		Progress:              progress.Percent(t.Status),
		BranchName:            t.BranchName,
		CommitHash:            t.CommitHash,
		ErrorMessage:          t.ErrorMessage,
		Iteration:             t.Iteration,
		FilesCreated:          t.FilesCreated,
		FilesModified:         t.FilesModified,
		ImplementationSummary: t.ImplementationSummary,
		TestResults:           t.TestResults,
		CreatedAt:             t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             t.UpdatedAt.Format(time.RFC3339),
	}
	if t.CompletedAt != nil {
		ts := t.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &ts
	}
	return resp
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		tasks, err := s.store.ListTasks(taskstore.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var status StatusResponse
		status.Total = len(tasks)
		for _, t := range tasks {
			switch t.Status {
			case domain.StatusPending:
				status.Pending++
			case domain.StatusAwaitingApproval:
				status.AwaitingApproval++
			case domain.StatusCompleted:
				status.Completed++
			case domain.StatusFailed:
				status.Failed++
			case domain.StatusRejected:
				status.Rejected++
			default:
				status.Active++
			}
		}

		if jobs, err := s.store.PendingJobCount(); err == nil {
			status.PendingJobs = jobs
		}

		writeJSON(w, status)
	}
}

// tasksHandler serves GET (list) and POST (create) on /api/tasks.
func (s *Server) tasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listTasks(w, r)
		case http.MethodPost:
			s.createTask(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	opts := taskstore.ListOptions{
		ProjectID: r.URL.Query().Get("project_id"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := domain.TaskStatus(status)
		if !domain.ValidStatus(st) {
			writeError(w, http.StatusBadRequest, "unknown status "+status)
			return
		}
		opts.Status = st
	}

	tasks, err := s.store.ListTasks(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		responses[i] = taskToResponse(t)
	}
	writeJSON(w, responses)
}

// createTask persists the task and enqueues its execution. The response
// returns immediately; the pipeline runs on the queue workers.
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Description == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	if req.Priority != "" && !domain.ValidPriority(domain.Priority(req.Priority)) {
		writeError(w, http.StatusBadRequest, "unknown priority "+req.Priority)
		return
	}
	if _, err := s.store.GetProject(req.ProjectID); err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	task := &domain.Task{
		ProjectID:         req.ProjectID,
		Description:       req.Description,
		Priority:          domain.Priority(req.Priority),
		AdditionalContext: req.AdditionalContext,
	}
	if err := s.store.CreateTask(task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := s.queue.Enqueue(taskstore.JobExecute, task.ID, ""); err != nil {
		writeError(w, http.StatusInternalServerError, "scheduling execution: "+err.Error())
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, taskToResponse(task))
}

// taskSubHandler routes /api/tasks/{id} and its sub-resources.
func (s *Server) taskSubHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "task ID required")
			return
		}

		taskID, sub, _ := strings.Cut(path, "/")

		task, err := s.store.GetTask(taskID)
		if err != nil {
			if errors.Is(err, taskstore.ErrNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
			} else {
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		switch sub {
		case "":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			writeJSON(w, taskToResponse(task))
		case "status":
			s.taskStatus(w, r, task)
		case "approve":
			s.approveTask(w, r, task)
		case "plan":
			s.serveArtifact(w, r, task.PlanPath, "plan")
		case "report":
			s.serveArtifact(w, r, task.ReportPath, "report")
		case "events":
			s.taskEvents(w, r, task)
		default:
			writeError(w, http.StatusNotFound, "unknown resource "+sub)
		}
	}
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request, task *domain.Task) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := TaskStatusResponse{
		ID:       task.ID,
		Status:   string(task.Status),
		Progress: progress.Percent(task.Status),
		Message:  task.ErrorMessage,
		// Availability means the artifact has been generated, not that
		// the file is still on disk.
		PlanAvailable:   task.PlanPath != "",
		ReportAvailable: task.ReportPath != "",
	}

	if events, err := s.store.ListEvents(task.ID, 5); err == nil {
		resp.RecentActivity = progress.Excerpt(events, 5)
	}

	writeJSON(w, resp)
}

// approveTask arbitrates the approval gate and schedules the follow-up
// stage: continue on approval, replan when feedback accompanies a
// rejection.
func (s *Server) approveTask(w http.ResponseWriter, r *http.Request, task *domain.Task) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	decision, err := s.arbiter.Approve(r.Context(), task.ID, req.Approved, req.Feedback)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotAwaitingApproval) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch decision {
	case orchestrator.DecisionApproved:
		if _, err := s.queue.Enqueue(taskstore.JobContinue, task.ID, ""); err != nil {
			writeError(w, http.StatusInternalServerError, "scheduling continuation: "+err.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "approved"})
	case orchestrator.DecisionReplan:
		if _, err := s.queue.Enqueue(taskstore.JobReplan, task.ID, req.Feedback); err != nil {
			writeError(w, http.StatusInternalServerError, "scheduling replan: "+err.Error())
			return
		}
		writeJSON(w, map[string]string{"status": "replanning"})
	default:
		writeJSON(w, map[string]string{"status": "rejected"})
	}
}

// serveArtifact returns the plan or report file as markdown, holding apart
// "not yet generated" from "generated but missing on disk".
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, path, kind string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if path == "" {
		writeError(w, http.StatusNotFound, kind+" not yet generated")
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusNotFound, kind+" file not found")
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write(content)
}

func (s *Server) taskEvents(w http.ResponseWriter, r *http.Request, task *domain.Task) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	events, err := s.store.ListEvents(task.ID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]EventResponse, len(events))
	for i, ev := range events {
		responses[i] = EventResponse{
			ID:        ev.ID,
			TaskID:    ev.TaskID,
			EventType: ev.EventType,
			Data:      ev.Data,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, responses)
}

// projectsHandler serves GET (list) and POST (register) on /api/projects.
func (s *Server) projectsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			projects, err := s.store.ListProjects()
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, projects)
		case http.MethodPost:
			var req ProjectCreateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
			if req.Name == "" || req.LocalPath == "" {
				writeError(w, http.StatusBadRequest, "name and local_path are required")
				return
			}
			project := &domain.Project{
				Name:          req.Name,
				RepositoryURL: req.RepositoryURL,
				Description:   req.Description,
				LocalPath:     req.LocalPath,
				MainBranch:    req.MainBranch,
			}
			if err := s.store.CreateProject(project); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, project)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}
