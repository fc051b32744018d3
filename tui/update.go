package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/orchestrator"
	"github.com/taskpilot/taskpilot/internal/taskstore"
)

// decisionMsg reports the outcome of an approve/reject action
type decisionMsg struct {
	taskID   string
	decision orchestrator.Decision
	err      error
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "j", "down":
			if m.selectedRow < len(m.tasks)-1 {
				m.selectedRow++
			}
			if m.activeTab == tabTasks && m.selectedRow >= m.taskScroll+visibleRows {
				m.taskScroll = m.selectedRow - visibleRows + 1
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			if m.activeTab == tabTasks && m.selectedRow < m.taskScroll {
				m.taskScroll = m.selectedRow
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.taskScroll = 0
			if m.activeTab == tabEvents {
				return m, m.refreshCmd()
			}
		case "enter":
			if m.activeTab == tabTasks {
				m.activeTab = tabEvents
				return m, m.refreshCmd()
			}
		case "a":
			return m.decide(true, "")
		case "d":
			return m.decide(false, "")
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case refreshMsg:
		if msg.err != nil {
			m.loadErr = msg.err
			return m, nil
		}
		m.loadErr = nil
		m.tasks = msg.tasks
		m.events = msg.events
		m.pendingJobs = msg.pendingJobs
		m.lastRefresh = time.Now()
		if m.selectedRow >= len(m.tasks) && len(m.tasks) > 0 {
			m.selectedRow = len(m.tasks) - 1
		}

	case decisionMsg:
		if msg.err != nil {
			m.statusLine = fmt.Sprintf("approval failed: %v", msg.err)
		} else {
			switch msg.decision {
			case orchestrator.DecisionApproved:
				m.statusLine = fmt.Sprintf("approved %s", shortID(msg.taskID))
			case orchestrator.DecisionRejected:
				m.statusLine = fmt.Sprintf("rejected %s", shortID(msg.taskID))
			}
		}
		return m, m.refreshCmd()
	}

	return m, nil
}

// decide arbitrates the selected task if it is waiting at the gate.
func (m Model) decide(approved bool, feedback string) (tea.Model, tea.Cmd) {
	task := m.selectedTask()
	if task == nil || task.Status != domain.StatusAwaitingApproval {
		m.statusLine = "selected task is not awaiting approval"
		return m, nil
	}
	if m.arbiter == nil {
		m.statusLine = "approvals unavailable in read-only mode"
		return m, nil
	}

	arbiter, queue, taskID := m.arbiter, m.queue, task.ID
	return m, func() tea.Msg {
		decision, err := arbiter.Approve(context.Background(), taskID, approved, feedback)
		if err != nil {
			return decisionMsg{taskID: taskID, err: err}
		}
		switch decision {
		case orchestrator.DecisionApproved:
			_, err = queue.Enqueue(taskstore.JobContinue, taskID, "")
		case orchestrator.DecisionReplan:
			_, err = queue.Enqueue(taskstore.JobReplan, taskID, feedback)
		}
		return decisionMsg{taskID: taskID, decision: decision, err: err}
	}
}

// SetTasks replaces the task list, for tests and external refreshes.
func (m *Model) SetTasks(tasks []*domain.Task) {
	m.tasks = tasks
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
