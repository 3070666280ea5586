package contextstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

func seedSnapshot(t *testing.T, s *Store, feature string, phase registry.Phase, age time.Duration) string {
	t.Helper()
	path, err := s.Save(context.Background(), feature, phase, mustEmpty(phase))
	require.NoError(t, err)
	mtime := fixedNow.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func mustEmpty(phase registry.Phase) PhaseContext {
	pc, _ := ExtractFor(phase, "")
	return pc
}

func TestCleanup_Archive(t *testing.T) {
	s := newTestStore(t, Options{})
	old := seedSnapshot(t, s, "checkout", registry.PhaseSpecify, 20*24*time.Hour)
	fresh := seedSnapshot(t, s, "checkout", registry.PhasePlan, time.Hour)

	actions, err := s.Cleanup(context.Background(), CleanupOptions{})
	require.NoError(t, err)
	require.Len(t, actions, 1)

	want := filepath.Join(s.FeatureDir("checkout"), "context-archive", "specify-2026-03-04T05-06-07-890Z.json")
	assert.Equal(t, want, actions[0].Destination)
	assert.NoFileExists(t, old)
	assert.FileExists(t, want)
	assert.FileExists(t, fresh)
}

func TestCleanup_PurgeWithFeatureFilter(t *testing.T) {
	s := newTestStore(t, Options{})
	a := seedSnapshot(t, s, "alpha", registry.PhaseTasks, 3*24*time.Hour)
	b := seedSnapshot(t, s, "beta", registry.PhaseTasks, 3*24*time.Hour)

	actions, err := s.Cleanup(context.Background(), CleanupOptions{Days: 2, Mode: CleanupPurge, Feature: "alpha"})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "alpha", actions[0].Feature)
	assert.NoFileExists(t, a)
	assert.FileExists(t, b)
}

func TestCleanup_DryRunTouchesNothing(t *testing.T) {
	s := newTestStore(t, Options{})
	old := seedSnapshot(t, s, "checkout", registry.PhaseSpecify, 30*24*time.Hour)

	actions, err := s.Cleanup(context.Background(), CleanupOptions{Mode: CleanupPurge, DryRun: true})
	require.NoError(t, err)
	assert.Len(t, actions, 1)
	assert.FileExists(t, old)
}

func TestCleanup_InvalidMode(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.Cleanup(context.Background(), CleanupOptions{Mode: "shred"})
	assert.Error(t, err)
}
