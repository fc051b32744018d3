// Package tui renders a terminal dashboard for the task pipeline: active
// tasks, the approval queue, and per-task event history, with approve and
// reject actions wired to the orchestrator.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/orchestrator"
	"github.com/taskpilot/taskpilot/internal/taskstore"
)

// DataSource is the read side of the dashboard. Satisfied by the store.
type DataSource interface {
	ListTasks(opts taskstore.ListOptions) ([]*domain.Task, error)
	ListEvents(taskID string, limit int) ([]*domain.TaskEvent, error)
	PendingJobCount() (int, error)
}

// Arbiter decides approvals. Satisfied by the orchestrator engine.
type Arbiter interface {
	Approve(ctx context.Context, taskID string, approved bool, feedback string) (orchestrator.Decision, error)
}

// Enqueuer schedules follow-up pipeline stages. Satisfied by the queue.
type Enqueuer interface {
	Enqueue(kind, taskID, payload string) (int64, error)
}

// Tabs
const (
	tabDashboard = iota
	tabTasks
	tabEvents
	tabCount
)

// Model is the TUI application model
type Model struct {
	source  DataSource
	arbiter Arbiter
	queue   Enqueuer

	// Data
	tasks       []*domain.Task
	events      []*domain.TaskEvent
	pendingJobs int
	loadErr     error

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	taskScroll  int
	statusLine  string

	lastRefresh time.Time
}

// NewModel creates a new TUI model
func NewModel(source DataSource, arbiter Arbiter, queue Enqueuer) Model {
	return Model{
		source:  source,
		arbiter: arbiter,
		queue:   queue,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickCmd())
}

// TickMsg triggers a periodic refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// refreshMsg carries freshly loaded data
type refreshMsg struct {
	tasks       []*domain.Task
	events      []*domain.TaskEvent
	pendingJobs int
	err         error
}

func (m Model) refreshCmd() tea.Cmd {
	source := m.source
	selected := m.selectedTask()
	return func() tea.Msg {
		msg := refreshMsg{}
		msg.tasks, msg.err = source.ListTasks(taskstore.ListOptions{})
		if msg.err != nil {
			return msg
		}
		msg.pendingJobs, _ = source.PendingJobCount()
		if selected != nil {
			msg.events, _ = source.ListEvents(selected.ID, 20)
		}
		return msg
	}
}

// selectedTask returns the task under the cursor, or nil.
func (m Model) selectedTask() *domain.Task {
	if m.selectedRow < 0 || m.selectedRow >= len(m.tasks) {
		return nil
	}
	return m.tasks[m.selectedRow]
}

// awaitingApproval returns the tasks suspended at the approval gate.
func (m Model) awaitingApproval() []*domain.Task {
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.Status == domain.StatusAwaitingApproval {
			out = append(out, t)
		}
	}
	return out
}
