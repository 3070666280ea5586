package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/epieczko/claude-code-riskexec/internal/logging"
)

func TestNewTelemetryEntry(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.FixedZone("CET", 3600))
	e := NewTelemetryEntry("plan", start, start.Add(1500*time.Millisecond), ResultSuccess, "")

	assert.Equal(t, "2026-01-02T02:04:05.006Z", e.StartTime)
	assert.Equal(t, "2026-01-02T02:04:06.506Z", e.EndTime)
	assert.Equal(t, int64(1500), e.DurationMs)

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "runId")
}

func TestAppendTelemetry_CreatesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".agent-os", "product", "status.json")
	ctx := context.Background()
	now := time.Now()

	AppendTelemetry(ctx, path, NewTelemetryEntry("specify", now, now, ResultSuccess, "r1"), logging.Nop())
	AppendTelemetry(ctx, path, NewTelemetryEntry("plan", now, now, ResultFailure, "r1"), logging.Nop())

	entries, err := ReadTelemetry(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "plan", entries[1].Phase)
	assert.Equal(t, ResultFailure, entries[1].Result)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "[\n  {\n    \"phase\""))
}

func TestAppendTelemetry_OverwritesNonArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"phase":"old"}`), 0o644))
	tl := logging.NewTestLogger()

	now := time.Now()
	AppendTelemetry(context.Background(), path, NewTelemetryEntry("tasks", now, now, ResultSuccess, ""), tl.Logger)

	tl.AssertLogged(t, zapcore.WarnLevel, "not an array")
	entries, err := ReadTelemetry(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tasks", entries[0].Phase)
}

func TestAppendTelemetry_KeepsUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.MkdirAll(path, 0o755))
	keep := filepath.Join(path, "keep")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
	tl := logging.NewTestLogger()

	now := time.Now()
	AppendTelemetry(context.Background(), path, NewTelemetryEntry("plan", now, now, ResultSuccess, ""), tl.Logger)

	tl.AssertLogged(t, zapcore.WarnLevel, "failed to read telemetry file")
	tl.AssertNotLogged(t, zapcore.WarnLevel, "overwriting")
	assert.DirExists(t, path)
	assert.FileExists(t, keep)
}

func TestAppendTelemetry_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	now := time.Now()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			AppendTelemetry(context.Background(), path, NewTelemetryEntry("implement", now, now, ResultSuccess, ""), logging.Nop())
		}()
	}
	wg.Wait()

	entries, err := ReadTelemetry(path)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestReadTelemetry_Missing(t *testing.T) {
	entries, err := ReadTelemetry(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)
}
