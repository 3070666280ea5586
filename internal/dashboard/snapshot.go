// Package dashboard renders phase telemetry from status.json as a live
// terminal dashboard and as a static table.
package dashboard

import (
	"sort"
	"time"

	"github.com/epieczko/claude-code-riskexec/internal/orchestrator"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

const historySize = 30

// PhaseStats aggregates every recorded attempt of one phase.
type PhaseStats struct {
	Phase     string
	Attempts  int
	Failures  int
	AvgMs     float64
	LastMs    int64
	Durations []float64 // most recent last, at most historySize
}

// SuccessRate is the fraction of attempts that succeeded.
func (p PhaseStats) SuccessRate() float64 {
	if p.Attempts == 0 {
		return 0
	}
	return float64(p.Attempts-p.Failures) / float64(p.Attempts)
}

// Run groups the entries of one orchestrator run.
type Run struct {
	ID      string
	Started time.Time
	Phases  []string
	Failed  string // phase that failed, if any
	TotalMs int64
}

// Snapshot is what the dashboard shows.
type Snapshot struct {
	Entries int
	Phases  []PhaseStats // canonical phase order, then unknown phases by name
	Runs    []Run        // newest first
}

// LoadSnapshot reads status.json at path.
func LoadSnapshot(path string) (Snapshot, error) {
	entries, err := orchestrator.ReadTelemetry(path)
	if err != nil {
		return Snapshot{}, err
	}
	return BuildSnapshot(entries), nil
}

// BuildSnapshot aggregates entries. Entries without a run id are grouped
// under "-".
func BuildSnapshot(entries []orchestrator.TelemetryEntry) Snapshot {
	stats := map[string]*PhaseStats{}
	runs := map[string]*Run{}
	var runOrder []string

	for _, e := range entries {
		ps, ok := stats[e.Phase]
		if !ok {
			ps = &PhaseStats{Phase: e.Phase}
			stats[e.Phase] = ps
		}
		ps.AvgMs = (ps.AvgMs*float64(ps.Attempts) + float64(e.DurationMs)) / float64(ps.Attempts+1)
		ps.Attempts++
		ps.LastMs = e.DurationMs
		ps.Durations = appendToHistory(ps.Durations, float64(e.DurationMs))
		if e.Result != orchestrator.ResultSuccess {
			ps.Failures++
		}

		id := e.RunID
		if id == "" {
			id = "-"
		}
		run, ok := runs[id]
		if !ok {
			run = &Run{ID: id}
			if t, err := time.Parse(time.RFC3339Nano, e.StartTime); err == nil {
				run.Started = t
			}
			runs[id] = run
			runOrder = append(runOrder, id)
		}
		run.Phases = append(run.Phases, e.Phase)
		run.TotalMs += e.DurationMs
		if e.Result != orchestrator.ResultSuccess {
			run.Failed = e.Phase
		}
	}

	snap := Snapshot{Entries: len(entries)}
	for _, ps := range stats {
		snap.Phases = append(snap.Phases, *ps)
	}
	sort.Slice(snap.Phases, func(i, j int) bool {
		a, b := rank(snap.Phases[i].Phase), rank(snap.Phases[j].Phase)
		if a != b {
			return a < b
		}
		return snap.Phases[i].Phase < snap.Phases[j].Phase
	})
	for i := len(runOrder) - 1; i >= 0; i-- {
		snap.Runs = append(snap.Runs, *runs[runOrder[i]])
	}
	return snap
}

func rank(phase string) int {
	if i := registry.Index(registry.Phase(phase)); i >= 0 {
		return i
	}
	return len(registry.Phases())
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}
