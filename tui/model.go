// Package tui renders a live terminal view of an in-flight
// propagation run.
package tui

import (
	"time"

	"github.com/cascadehq/cascade/internal/domain"
	"github.com/cascadehq/cascade/internal/events"
	tea "github.com/charmbracelet/bubbletea"
)

const maxLogLines = 200

// EventMsg carries one bus event into the update loop.
type EventMsg struct {
	Event domain.Event
}

// TickMsg drives periodic redraws for elapsed-time display.
type TickMsg time.Time

// Model is the TUI application model
type Model struct {
	change    string
	repoOrder []string
	repos     map[string]*domain.RepoState
	logLines  []string

	result *domain.RunResult
	done   bool

	startedAt time.Time
	width     int
	height    int

	eventCh <-chan domain.Event
}

// NewModel creates a model tracking the given repo names, fed by bus
// events. Subscribe the returned channel's feeder before the run
// starts so no transitions are missed.
func NewModel(change string, repoNames []string, eventCh <-chan domain.Event) Model {
	repos := make(map[string]*domain.RepoState, len(repoNames))
	for _, name := range repoNames {
		repos[name] = &domain.RepoState{RepoName: name, Status: domain.StatusWaiting}
	}
	return Model{
		change:    change,
		repoOrder: repoNames,
		repos:     repos,
		startedAt: time.Now(),
		eventCh:   eventCh,
	}
}

// Feed bridges the event bus to a channel consumable by the TUI.
// The returned channel is closed when the run completes.
func Feed(bus *events.Bus) <-chan domain.Event {
	ch := make(chan domain.Event, 512)
	var id int
	id = bus.Subscribe(func(e domain.Event) {
		select {
		case ch <- e:
		default: // never block the pipeline on a slow terminal
		}
		if e.Type == domain.EventRunCompleted {
			bus.Unsubscribe(id)
			close(ch)
		}
	})
	return ch
}

// Init starts the tick loop and event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.waitForEvent())
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.eventCh
		if !ok {
			return nil
		}
		return EventMsg{Event: e}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Result returns the final run result once the run has completed.
func (m Model) Result() *domain.RunResult { return m.result }
