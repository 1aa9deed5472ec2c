package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/cascadehq/cascade/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	waitingStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	doneStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	logStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("110"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))
)

// View renders the model
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Cascade"))
	b.WriteString("  ")
	b.WriteString(truncateLine(m.change, 70))
	b.WriteString("\n\n")

	var rows []string
	for _, name := range m.repoOrder {
		st := m.repos[name]
		rows = append(rows, m.repoRow(st))
	}
	b.WriteString(sectionStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	if tail := m.logTail(8); len(tail) > 0 {
		b.WriteString(sectionStyle.Render(logStyle.Render(strings.Join(tail, "\n"))))
		b.WriteString("\n")
	}

	b.WriteString(m.statusBar())
	return b.String()
}

func (m Model) repoRow(st *domain.RepoState) string {
	status := string(st.Status)
	styled := statusStyle(st.Status).Render(fmt.Sprintf("%-10s", status))

	detail := ""
	switch {
	case st.Error != "":
		detail = truncateLine(st.Error, 50)
	case st.Branch != "":
		detail = st.Branch
	}
	if st.RetriesUsed > 0 {
		detail += fmt.Sprintf(" (retry %d)", st.RetriesUsed)
	}

	return fmt.Sprintf("%-20s %s %s", truncateLine(st.RepoName, 20), styled, detail)
}

func statusStyle(s domain.Status) lipgloss.Style {
	switch s {
	case domain.StatusDone:
		return doneStyle
	case domain.StatusFailed:
		return failedStyle
	case domain.StatusWaiting, domain.StatusSkipped:
		return waitingStyle
	default:
		return runningStyle
	}
}

func (m Model) logTail(n int) []string {
	if len(m.logLines) <= n {
		return m.logLines
	}
	return m.logLines[len(m.logLines)-n:]
}

func (m Model) statusBar() string {
	doneCount, failCount := 0, 0
	for _, st := range m.repos {
		switch st.Status {
		case domain.StatusDone:
			doneCount++
		case domain.StatusFailed:
			failCount++
		}
	}
	elapsed := time.Since(m.startedAt).Round(time.Second)
	text := fmt.Sprintf(" %d/%d done, %d failed | %s | q to quit ",
		doneCount, len(m.repos), failCount, elapsed)
	if m.done {
		text = fmt.Sprintf(" run complete: %d done, %d failed | %s ",
			doneCount, failCount, elapsed)
	}
	return statusBarStyle.Render(text)
}

func truncateLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
