package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/taskpilot/taskpilot/internal/domain"
	"github.com/taskpilot/taskpilot/internal/progress"
)

const visibleRows = 15

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	awaitingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	awaiting := m.awaitingApproval()
	header := fmt.Sprintf(" Taskpilot │ Tasks: %d │ Awaiting approval: %d │ Queued jobs: %d ",
		len(m.tasks), len(awaiting), m.pendingJobs)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case tabDashboard:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderActive()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderAwaiting(awaiting)))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderOutcomes()))
		b.WriteString("\n")
	case tabTasks:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderTaskTable()))
		b.WriteString("\n")
	case tabEvents:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderEvents()))
		b.WriteString("\n")
	}

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"Dashboard", "Tasks", "Events"}
	parts := make([]string, len(names))
	for i, name := range names {
		if i == m.activeTab {
			parts[i] = tabActiveStyle.Render(name)
		} else {
			parts[i] = tabInactiveStyle.Render(name)
		}
	}
	return " " + strings.Join(parts, "  │  ")
}

// renderActive lists tasks currently moving through the pipeline.
func (m Model) renderActive() string {
	var b strings.Builder
	b.WriteString("Active\n")

	count := 0
	for _, t := range m.tasks {
		if domain.IsTerminal(t.Status) || t.Status == domain.StatusAwaitingApproval || t.Status == domain.StatusPending {
			continue
		}
		count++
		b.WriteString(fmt.Sprintf(" %s %s %s %s\n",
			activeStyle.Render("●"),
			shortID(t.ID),
			renderProgressBar(progress.Percent(t.Status), 20),
			truncate(t.Description, 48),
		))
	}
	if count == 0 {
		b.WriteString(dimmedStyle.Render(" nothing running"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderAwaiting lists tasks suspended at the approval gate.
func (m Model) renderAwaiting(awaiting []*domain.Task) string {
	var b strings.Builder
	b.WriteString("Awaiting approval\n")

	if len(awaiting) == 0 {
		b.WriteString(dimmedStyle.Render(" no plans waiting for review"))
		return b.String()
	}
	for _, t := range awaiting {
		b.WriteString(fmt.Sprintf(" %s %s %s %s\n",
			awaitingStyle.Render("◆"),
			shortID(t.ID),
			truncate(t.Description, 48),
			dimmedStyle.Render(humanize.Time(t.UpdatedAt)),
		))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderOutcomes lists the most recent terminal tasks.
func (m Model) renderOutcomes() string {
	var b strings.Builder
	b.WriteString("Recent outcomes\n")

	count := 0
	for _, t := range m.tasks {
		if !domain.IsTerminal(t.Status) {
			continue
		}
		if count >= 5 {
			break
		}
		count++

		marker := completedStyle.Render("✓")
		detail := ""
		switch t.Status {
		case domain.StatusFailed:
			marker = failedStyle.Render("✗")
			detail = truncate(t.ErrorMessage, 40)
		case domain.StatusRejected:
			marker = dimmedStyle.Render("−")
			detail = "plan rejected"
		default:
			if t.TestResults != nil && !t.TestResults.AllPassed {
				detail = activeStyle.Render(fmt.Sprintf("%d test(s) failing", t.TestResults.Failed))
			}
		}
		b.WriteString(fmt.Sprintf(" %s %s %s %s\n",
			marker, shortID(t.ID), truncate(t.Description, 44), detail))
	}
	if count == 0 {
		b.WriteString(dimmedStyle.Render(" no finished tasks yet"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderTaskTable() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(" %-10s %-18s %-5s %-9s %s\n", "ID", "STATUS", "PROG", "AGE", "DESCRIPTION"))

	end := m.taskScroll + visibleRows
	if end > len(m.tasks) {
		end = len(m.tasks)
	}
	for i := m.taskScroll; i < end; i++ {
		t := m.tasks[i]
		line := fmt.Sprintf(" %-10s %-18s %3d%%  %-9s %s",
			shortID(t.ID),
			string(t.Status),
			progress.Percent(t.Status),
			shortAge(humanize.Time(t.CreatedAt)),
			truncate(t.Description, 44),
		)
		if i == m.selectedRow {
			b.WriteString(selectedStyle.Render("▸" + line[1:]))
		} else {
			b.WriteString(statusStyleFor(t.Status).Render(line))
		}
		b.WriteString("\n")
	}
	if len(m.tasks) == 0 {
		b.WriteString(dimmedStyle.Render(" no tasks"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderEvents() string {
	var b strings.Builder
	task := m.selectedTask()
	if task == nil {
		return "Events\n" + dimmedStyle.Render(" select a task first")
	}
	b.WriteString(fmt.Sprintf("Events for %s\n", shortID(task.ID)))

	if len(m.events) == 0 {
		b.WriteString(dimmedStyle.Render(" no events recorded"))
		return b.String()
	}
	// Events arrive newest first; show them oldest first.
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		line := fmt.Sprintf(" %s  %-20s", ev.CreatedAt.Format("15:04:05"), ev.EventType)
		if msg, ok := ev.Data["message"].(string); ok && msg != "" {
			line += "  " + truncate(msg, 50)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	left := " q quit │ tab switch │ j/k move │ a approve │ d reject │ r refresh "
	if m.statusLine != "" {
		left = " " + m.statusLine + " │ " + strings.TrimPrefix(left, " ")
	}
	if m.loadErr != nil {
		left = failedStyle.Render(fmt.Sprintf(" load error: %v ", m.loadErr))
	}
	return statusBarStyle.Width(m.width).Render(left)
}

func renderProgressBar(percent, width int) string {
	filled := percent * width / 100
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func statusStyleFor(status domain.TaskStatus) lipgloss.Style {
	switch status {
	case domain.StatusCompleted:
		return completedStyle
	case domain.StatusFailed:
		return failedStyle
	case domain.StatusRejected, domain.StatusPending:
		return dimmedStyle
	case domain.StatusAwaitingApproval:
		return awaitingStyle
	default:
		return activeStyle
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// shortAge compresses humanize output ("12 minutes ago" -> "12 min ago").
func shortAge(s string) string {
	s = strings.ReplaceAll(s, " minutes", " min")
	s = strings.ReplaceAll(s, " minute", " min")
	s = strings.ReplaceAll(s, " seconds", " sec")
	s = strings.ReplaceAll(s, " second", " sec")
	s = strings.ReplaceAll(s, " hours", " hr")
	s = strings.ReplaceAll(s, " hour", " hr")
	return s
}
