package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// Status icons.
const (
	iconRunning   = "[●]"
	iconDone      = "[✓]"
	iconFailed    = "[✗]"
	iconCancelled = "[◌]"
	iconPending   = "[○]"
)

const cardWidth = 30

var (
	cardBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	idStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("28"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// card is the live view of one agent instance.
type card struct {
	inst models.AgentInstance
	tail string
}

func (c card) view(now time.Time) string {
	var b strings.Builder

	b.WriteString(idStyle.Render(c.inst.ID))
	b.WriteString(" ")
	b.WriteString(renderStatus(c.inst.Status))
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Role: "))
	b.WriteString(valueStyle.Render(string(c.inst.Role)))
	b.WriteString("\n")

	provider := c.inst.Provider
	if provider == "" {
		provider = "-"
	}
	b.WriteString(labelStyle.Render("Via: "))
	b.WriteString(valueStyle.Render(provider))
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Time: "))
	b.WriteString(valueStyle.Render(c.elapsed(now)))
	b.WriteString("\n")

	line := c.tail
	if c.inst.Status == models.AgentStatusFailed && c.inst.Reason != "" {
		line = c.inst.Reason
	}
	b.WriteString(valueStyle.Render(truncate(line, cardWidth-4)))

	return cardBorder.Width(cardWidth).Render(b.String())
}

func (c card) elapsed(now time.Time) string {
	if c.inst.StartedAt.IsZero() {
		return "-"
	}
	end := now
	if !c.inst.EndedAt.IsZero() {
		end = c.inst.EndedAt
	}
	return formatDuration(end.Sub(c.inst.StartedAt))
}

func renderStatus(s models.AgentStatus) string {
	switch s {
	case models.AgentStatusRunning:
		return runningStyle.Render(iconRunning + " running")
	case models.AgentStatusCompleted:
		return doneStyle.Render(iconDone + " done")
	case models.AgentStatusFailed:
		return failedStyle.Render(iconFailed + " failed")
	case models.AgentStatusCancelled:
		return pausedStyle.Render(iconCancelled + " cancelled")
	default:
		return pendingStyle.Render(iconPending + " pending")
	}
}

// lastLine returns the final non-blank line of text.
func lastLine(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n "), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
