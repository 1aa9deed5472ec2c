package tui

import (
	"fmt"

	"github.com/cascadehq/cascade/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case EventMsg:
		m.apply(msg.Event)
		if m.done {
			return m, tea.Quit
		}
		return m, m.waitForEvent()
	}

	return m, nil
}

func (m *Model) apply(e domain.Event) {
	switch e.Type {
	case domain.EventRunCompleted:
		m.result = e.Run
		m.done = true
		if e.Run != nil {
			for _, st := range e.Run.Repos {
				m.repos[st.RepoName] = st
			}
		}
	case domain.EventOutput:
		m.appendLog(fmt.Sprintf("[%s] %s", e.Repo, e.Line))
	default:
		if e.State != nil {
			m.repos[e.State.RepoName] = e.State
		}
	}
}

func (m *Model) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
}
