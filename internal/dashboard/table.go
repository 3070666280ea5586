package dashboard

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/epieczko/claude-code-riskexec/internal/orchestrator"
)

// StatusTable renders telemetry entries, oldest first, for `speckit status`.
// limit keeps only the newest entries when positive.
func StatusTable(entries []orchestrator.TelemetryEntry, limit int) string {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if len(entries) == 0 {
		return dimStyle.Render("no telemetry recorded yet")
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			shortID(e.RunID),
			e.Phase,
			e.Result,
			FormatDuration(e.DurationMs),
			e.StartTime,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("RUN", "PHASE", "RESULT", "DURATION", "STARTED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return base.Foreground(lipgloss.Color("51")).Bold(true)
			}
			if col == 2 && row >= 0 && row < len(rows) {
				if rows[row][2] == orchestrator.ResultSuccess {
					return base.Foreground(lipgloss.Color("46"))
				}
				return base.Foreground(lipgloss.Color("196"))
			}
			return base
		})
	return t.String()
}

// Summary is a one-line count of entries and failures.
func Summary(entries []orchestrator.TelemetryEntry) string {
	failures := 0
	for _, e := range entries {
		if e.Result != orchestrator.ResultSuccess {
			failures++
		}
	}
	return fmt.Sprintf("%d entries, %d failed", len(entries), failures)
}
