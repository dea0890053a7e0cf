// Package tui provides the terminal progress view for alpaca runs.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/kiennt/alpaca-playground/internal/models"
)

const refreshInterval = 250 * time.Millisecond

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	agentActiveStyle = lipgloss.NewStyle().
				Foreground(successColor).
				Bold(true)

	agentIdleStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
)

// StatsSource reports the state of a run. *scheduler.Scheduler implements it.
type StatsSource interface {
	Stats() models.Stats
}

// App is the progress view model. It quits on its own once the run is done.
type App struct {
	title     string
	source    StatsSource
	interrupt func()
	spinner   spinner.Model
	progress  progress.Model
	stats     models.Stats
	width     int
	stopping  bool
}

// New creates a progress view for source. interrupt is called once when the
// user asks to stop; the view keeps running until the run reports done.
func New(title string, source StatsSource, interrupt func()) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return &App{
		title:     title,
		source:    source,
		interrupt: interrupt,
		spinner:   sp,
		progress:  progress.New(progress.WithDefaultGradient()),
		stats:     source.Stats(),
		width:     80,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a)
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, tickCmd())
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !a.stopping {
				a.stopping = true
				if a.interrupt != nil {
					a.interrupt()
				}
			}
		}
		return a, nil

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.progress.Width = max(msg.Width-4, 10)
		return a, nil

	case tickMsg:
		a.stats = a.source.Stats()
		if a.stats.Done {
			return a, tea.Quit
		}
		return a, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder
	s := a.stats

	header := titleStyle.Render("alpaca " + a.title)
	if s.Done {
		header += "  " + agentActiveStyle.Render("done")
	} else {
		header += "  " + a.spinner.View()
	}
	if s.RunID != "" {
		header += "  " + helpStyle.Render(shortID(s.RunID))
	}
	b.WriteString(header + "\n\n")

	b.WriteString("  " + a.progress.ViewAs(fraction(s)) + "\n\n")

	b.WriteString(fmt.Sprintf("  Completed: %s  Failed: %s  Pending: %d  Buffered: %d  Flushed: %d\n",
		lipgloss.NewStyle().Foreground(successColor).Render(fmt.Sprintf("%d", s.Completed)),
		lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("%d", s.Failed)),
		s.Pending, s.Buffered, s.Flushed))
	if !s.StartedAt.IsZero() {
		b.WriteString(fmt.Sprintf("  Elapsed: %s\n", formatDuration(time.Since(s.StartedAt))))
	}
	b.WriteString("\n")

	b.WriteString(a.renderAgents())

	if a.stopping && !s.Done {
		b.WriteString("\n  " + lipgloss.NewStyle().Foreground(warningColor).Render("Stopping, flushing buffered results...") + "\n")
	}

	status := fmt.Sprintf(" %d/%d items | workers: %d | q:stop", s.Processed(), s.Total, s.ActiveWorkers)
	b.WriteString("\n" + statusBarStyle.Width(a.width).Render(status))
	return b.String()
}

func (a *App) renderAgents() string {
	if len(a.stats.Agents) == 0 {
		return "  " + helpStyle.Render("No workers") + "\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		headerStyle.Render(fmt.Sprintf("%-12s", "AGENT")),
		headerStyle.Render(fmt.Sprintf("%-8s", "STATE")),
		headerStyle.Render(fmt.Sprintf("%-9s", "COMPLETED")),
		headerStyle.Render(fmt.Sprintf("%-6s", "FAILED")),
	))
	b.WriteString("  " + strings.Repeat("-", 42) + "\n")

	for _, ag := range a.stats.Agents {
		state := agentIdleStyle.Render(fmt.Sprintf("%-8s", "idle"))
		if ag.Active {
			state = agentActiveStyle.Render(fmt.Sprintf("%-8s", "active"))
		}
		b.WriteString(fmt.Sprintf("  %-12s  %s  %-9d  %-6d\n", ag.Agent, state, ag.Completed, ag.Failed))
	}
	return b.String()
}

// fraction is the share of items that have left the queue for good.
func fraction(s models.Stats) float64 {
	if s.Total == 0 {
		if s.Done {
			return 1
		}
		return 0
	}
	return float64(s.Processed()) / float64(s.Total)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
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
