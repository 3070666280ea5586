package dashboard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/orchestrator"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func entry(phase, result, run string, ms int64) orchestrator.TelemetryEntry {
	return orchestrator.NewTelemetryEntry(phase, t0, t0.Add(time.Duration(ms)*time.Millisecond), result, run)
}

func sampleEntries() []orchestrator.TelemetryEntry {
	return []orchestrator.TelemetryEntry{
		entry("specify", orchestrator.ResultSuccess, "run-aaaaaaaaaa", 1200),
		entry("plan", orchestrator.ResultFailure, "run-aaaaaaaaaa", 300),
		entry("specify", orchestrator.ResultSuccess, "run-bbbbbbbbbb", 800),
		entry("plan", orchestrator.ResultSuccess, "run-bbbbbbbbbb", 500),
		entry("custom", orchestrator.ResultSuccess, "", 10),
	}
}

func TestBuildSnapshot(t *testing.T) {
	snap := BuildSnapshot(sampleEntries())

	assert.Equal(t, 5, snap.Entries)
	require.Len(t, snap.Phases, 3)
	assert.Equal(t, "specify", snap.Phases[0].Phase)
	assert.Equal(t, "plan", snap.Phases[1].Phase)
	assert.Equal(t, "custom", snap.Phases[2].Phase)

	spec := snap.Phases[0]
	assert.Equal(t, 2, spec.Attempts)
	assert.InDelta(t, 1000.0, spec.AvgMs, 0.001)
	assert.Equal(t, int64(800), spec.LastMs)
	assert.Equal(t, []float64{1200, 800}, spec.Durations)
	assert.InDelta(t, 0.5, snap.Phases[1].SuccessRate(), 0.001)

	require.Len(t, snap.Runs, 3)
	assert.Equal(t, "-", snap.Runs[0].ID)
	assert.Equal(t, "run-bbbbbbbbbb", snap.Runs[1].ID)
	assert.Equal(t, "plan", snap.Runs[2].Failed)
	assert.Equal(t, int64(1500), snap.Runs[2].TotalMs)
	assert.Equal(t, t0, snap.Runs[2].Started)
}

func TestLoadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	for _, e := range sampleEntries() {
		orchestrator.AppendTelemetry(context.Background(), path, e, logging.Nop())
	}
	snap, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Entries)

	snap, err = LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Zero(t, snap.Entries)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{}"), 0o644))
	_, err = LoadSnapshot(bad)
	assert.Error(t, err)
}

func TestModel_Update(t *testing.T) {
	m := NewModel("status.json", time.Second)
	assert.NotNil(t, m.Init())

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	assert.NotNil(t, cmd)
	assert.False(t, updated.(Model).quitting)

	_, cmd = m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)

	updated, _ = m.Update(snapshotMsg(BuildSnapshot(sampleEntries())))
	got := updated.(Model)
	assert.Equal(t, 5, got.snapshot.Entries)
	assert.False(t, got.lastUpdate.IsZero())

	updated, _ = got.Update(errMsg{errors.New("boom")})
	assert.Contains(t, updated.(Model).View(), "boom")

	updated, cmd = got.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.True(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, updated.(Model).View())
}

func TestModel_View(t *testing.T) {
	m := NewModel("status.json", time.Second)
	updated, _ := m.Update(snapshotMsg(BuildSnapshot(sampleEntries())))
	view := updated.(Model).View()

	assert.Contains(t, view, "speckit Workflow Monitor")
	assert.Contains(t, view, "specify")
	assert.Contains(t, view, "failed at plan")
	assert.Contains(t, view, "80.0%")

	empty := NewModel("status.json", time.Second).View()
	assert.Contains(t, empty, "no phases recorded")
}

func TestStatusTable(t *testing.T) {
	out := StatusTable(sampleEntries(), 2)
	assert.Contains(t, out, "PHASE")
	assert.Contains(t, out, "custom")
	assert.Contains(t, out, "500ms")
	assert.NotContains(t, out, "1.2s")

	assert.Contains(t, StatusTable(nil, 0), "no telemetry")
	assert.Equal(t, "5 entries, 1 failed", Summary(sampleEntries()))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "999ms", FormatDuration(999))
	assert.Equal(t, "1.5s", FormatDuration(1500))
	assert.Equal(t, "2m 5s", FormatDuration(125_000))
	assert.Equal(t, "50.0%", FormatPercentage(0.5))
}
