// Package tui renders a live view of one run's agents in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/swarm/internal/broadcast"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// EventMsg carries one progress event into the model.
type EventMsg struct {
	Event broadcast.Event
}

// ClosedMsg is sent when the event feed ends.
type ClosedMsg struct{}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	stageStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Model is the bubbletea model for a single run.
type Model struct {
	runID  string
	events <-chan broadcast.Event
	now    func() time.Time

	status   models.RunStatus
	cards    map[string]*card
	order    []string
	analyses map[models.Stage]models.StageAnalysis
	result   *models.RunResult
	errMsg   string
	finished bool

	spinner spinner.Model
	width   int
}

// New creates a model that follows runID on events.
func New(runID string, events <-chan broadcast.Event) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle
	return &Model{
		runID:    runID,
		events:   events,
		now:      time.Now,
		status:   models.RunStatusQueued,
		cards:    make(map[string]*card),
		analyses: make(map[models.Stage]models.StageAnalysis),
		spinner:  s,
		width:    100,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listen(m.events))
}

func listen(events <-chan broadcast.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return ClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case EventMsg:
		m.apply(msg.Event)
		if m.finished {
			return m, tea.Quit
		}
		return m, listen(m.events)
	case ClosedMsg:
		return m, tea.Quit
	}
	return m, nil
}

// apply folds one event into the model. Events for other runs are ignored.
func (m *Model) apply(ev broadcast.Event) {
	if ev.RunID != m.runID {
		return
	}
	switch data := ev.Data.(type) {
	case broadcast.RunStatusData:
		m.status = data.Status
		if data.Status.Terminal() {
			m.finished = true
		}
	case models.AgentInstance:
		c := m.card(data.ID)
		c.inst = data
		if data.Output != "" {
			c.tail = lastLine(data.Output)
		}
	case broadcast.AgentOutputData:
		c := m.card(data.InstanceID)
		if c.inst.ID == "" {
			c.inst = models.AgentInstance{ID: data.InstanceID, Stage: data.Stage, Role: data.Stage.Role()}
		}
		if l := lastLine(data.Text); l != "" {
			c.tail = l
		}
	case models.StageAnalysis:
		m.analyses[data.Stage] = data
	case broadcast.ResultData:
		m.status = data.Status
		m.result = data.Result
		m.finished = true
	case broadcast.ErrorData:
		m.status = models.RunStatusFailed
		m.errMsg = data.Message
		m.finished = true
	}
}

func (m *Model) card(id string) *card {
	c, ok := m.cards[id]
	if !ok {
		c = &card{}
		m.cards[id] = c
		m.order = append(m.order, id)
	}
	return c
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("swarm run " + m.runID))
	b.WriteString("  ")
	if m.status.Terminal() {
		b.WriteString(string(m.status))
	} else {
		b.WriteString(m.spinner.View() + " " + string(m.status))
	}
	b.WriteString("\n\n")

	now := m.now()
	for _, stage := range models.AllStages {
		cards := m.stageCards(stage)
		if len(cards) == 0 {
			continue
		}
		header := strings.ToUpper(string(stage))
		if a, ok := m.analyses[stage]; ok {
			header += fmt.Sprintf("  confidence %d%%", a.Confidence)
			if a.Degraded {
				header += " (degraded)"
			}
		}
		b.WriteString(stageStyle.Render(header))
		b.WriteString("\n")

		views := make([]string, 0, len(cards))
		for _, c := range cards {
			views = append(views, c.view(now))
		}
		b.WriteString(m.grid(views))
		b.WriteString("\n")
	}

	switch {
	case m.result != nil:
		b.WriteString(doneStyle.Render(fmt.Sprintf("%s completed with confidence %d%%", iconDone, m.result.Confidence)))
		if m.result.Degraded {
			b.WriteString(pausedStyle.Render(" (degraded)"))
		}
		b.WriteString("\n")
	case m.errMsg != "":
		b.WriteString(errorStyle.Render(iconFailed + " " + m.errMsg))
		b.WriteString("\n")
	}
	b.WriteString(footerStyle.Render("q to quit"))
	return b.String()
}

func (m *Model) stageCards(stage models.Stage) []*card {
	var out []*card
	for _, id := range m.order {
		if c := m.cards[id]; c.inst.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

// grid lays cards out in rows that fit the terminal width.
func (m *Model) grid(views []string) string {
	perRow := m.width / (cardWidth + 4)
	if perRow < 1 {
		perRow = 1
	}
	var rows []string
	for i := 0; i < len(views); i += perRow {
		end := i + perRow
		if end > len(views) {
			end = len(views)
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, views[i:end]...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// Status returns the last observed run status.
func (m *Model) Status() models.RunStatus {
	return m.status
}

// Run shows the watcher until the run finishes, the feed closes, the user
// quits or ctx is cancelled.
func Run(ctx context.Context, runID string, events <-chan broadcast.Event) (models.RunStatus, error) {
	m := New(runID, events)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return m.Status(), fmt.Errorf("running tui: %w", err)
	}
	return m.Status(), nil
}
