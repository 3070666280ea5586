package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	recentRuns      = 5
)

// Model is the bubbletea dashboard over one status.json file.
type Model struct {
	statusPath string
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	successProgress progress.Model
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard that re-reads statusPath every interval.
func NewModel(statusPath string, interval time.Duration) Model {
	return Model{
		statusPath: statusPath,
		interval:   interval,
		successProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

func rateBadge(rate float64) string {
	switch {
	case rate >= 0.9:
		return healthyStyle.Render("[✓]")
	case rate >= 0.5:
		return warningStyle.Render("[⚠]")
	default:
		return errorStyle.Render("[✗]")
	}
}

func runBadge(r Run) string {
	if r.Failed != "" {
		return errorStyle.Render("✗ failed at " + r.Failed)
	}
	return healthyStyle.Render("✓ ok")
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	spark.PushAll(data)
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg struct{ err error }

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), loadSnapshot(m.statusPath))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func loadSnapshot(path string) tea.Cmd {
	return func() tea.Msg {
		snap, err := LoadSnapshot(path)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, loadSnapshot(m.statusPath)
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), loadSnapshot(m.statusPath))

	case snapshotMsg:
		m.snapshot = Snapshot(msg)
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" speckit Workflow Monitor ") + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot read phase telemetry") + "\n\n")
	b.WriteString(dimStyle.Render("File: ") + valueStyle.Render(m.statusPath) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")
	return containerStyle.Render(b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder

	updated := "never"
	if !m.lastUpdate.IsZero() {
		updated = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" speckit Workflow Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		dimStyle.Render("Entries:"), valueStyle.Render(fmt.Sprint(m.snapshot.Entries)),
		dimStyle.Render("Updated:"), dimStyle.Render(updated)))

	b.WriteString("\n" + sectionStyle.Render("┃ Phases") + "\n")
	if len(m.snapshot.Phases) == 0 {
		b.WriteString(dimStyle.Render("  no phases recorded") + "\n")
	}
	var attempts, failures int
	for _, p := range m.snapshot.Phases {
		attempts += p.Attempts
		failures += p.Failures
		b.WriteString(fmt.Sprintf("  %s %s %s  %s %s  %s %s\n",
			labelStyle.Render(fmt.Sprintf("%-10s", p.Phase)),
			valueStyle.Render(fmt.Sprintf("%3d runs", p.Attempts)),
			rateBadge(p.SuccessRate()),
			dimStyle.Render("avg"),
			valueStyle.Render(FormatDuration(int64(p.AvgMs))),
			dimStyle.Render("last"),
			valueStyle.Render(FormatDuration(p.LastMs))))
		b.WriteString("  " + createSparkline(p.Durations) + "\n")
	}

	rate := 0.0
	if attempts > 0 {
		rate = float64(attempts-failures) / float64(attempts)
	}
	b.WriteString("\n" + sectionStyle.Render("┃ Success Rate") + "\n")
	b.WriteString("  " + m.successProgress.ViewAs(rate) + " " + dimStyle.Render(FormatPercentage(rate)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Recent Runs") + "\n")
	runs := m.snapshot.Runs
	if len(runs) > recentRuns {
		runs = runs[:recentRuns]
	}
	for _, r := range runs {
		b.WriteString(fmt.Sprintf("  %s %s %s %s\n",
			labelStyle.Render(shortID(r.ID)),
			dimStyle.Render(strings.Join(r.Phases, " → ")),
			valueStyle.Render(FormatDuration(r.TotalMs)),
			runBadge(r)))
	}

	b.WriteString("\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval)))

	return containerStyle.Render(b.String())
}
