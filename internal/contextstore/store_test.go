package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/mcpsync"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	s := New(opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	spec := ExtractSpecContext(sampleSpec)
	path, err := s.Save(ctx, "checkout", registry.PhaseSpecify, spec)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, s.Path("checkout", registry.PhaseSpecify), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), raw[len(raw)-1])

	env, err := s.LoadEnvelope(ctx, "checkout", registry.PhaseSpecify)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "checkout", env.Feature)
	assert.Equal(t, registry.PhaseSpecify, env.Phase)
	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.Equal(t, "2026-03-04T05:06:07.890Z", env.SavedAt)

	loaded, err := s.Load(ctx, "checkout", registry.PhaseSpecify)
	require.NoError(t, err)
	assert.Equal(t, spec, loaded)
}

func TestStore_SaveRejectsMismatchedPhase(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	_, err := s.Save(ctx, "checkout", registry.PhasePlan, &SpecContext{})
	assert.Error(t, err)

	_, err = s.Save(ctx, "checkout", registry.PhaseImplement, &SpecContext{})
	assert.ErrorIs(t, err, ErrUnknownPhase)
}

func TestStore_LoadEnvelope_MissingAndMalformed(t *testing.T) {
	tl := logging.NewTestLogger()
	s := newTestStore(t, Options{Logger: tl.Logger})
	ctx := context.Background()

	env, err := s.LoadEnvelope(ctx, "nope", registry.PhasePlan)
	require.NoError(t, err)
	assert.Nil(t, env)

	require.NoError(t, s.EnsureSetup("broken"))
	require.NoError(t, os.WriteFile(s.Path("broken", registry.PhasePlan), []byte("{not json"), 0o644))

	env, err = s.LoadEnvelope(ctx, "broken", registry.PhasePlan)
	require.NoError(t, err)
	assert.Nil(t, env)
	tl.AssertLogged(t, zapcore.WarnLevel, "failed to parse context file")

	pc, err := s.Load(ctx, "broken", registry.PhasePlan)
	require.NoError(t, err)
	assert.Nil(t, pc)
}

func TestStore_LoadRejectsEnvelopeForAnotherPhase(t *testing.T) {
	tl := logging.NewTestLogger()
	s := newTestStore(t, Options{Logger: tl.Logger})
	ctx := context.Background()

	specPath, err := s.Save(ctx, "checkout", registry.PhaseSpecify, ExtractSpecContext(sampleSpec))
	require.NoError(t, err)
	raw, err := os.ReadFile(specPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("checkout", registry.PhasePlan), raw, 0o644))

	pc, err := s.Load(ctx, "checkout", registry.PhasePlan)
	require.NoError(t, err)
	assert.Nil(t, pc)
	tl.AssertLogged(t, zapcore.WarnLevel, "context file holds another phase")
	tl.AssertField(t, "context file holds another phase", "got", "specify")

	pc, err = s.Load(ctx, "checkout", registry.PhaseSpecify)
	require.NoError(t, err)
	assert.IsType(t, &SpecContext{}, pc)
}

func TestStore_MemorySync(t *testing.T) {
	var (
		mu       sync.Mutex
		commands []string
		phases   []registry.Phase
	)
	runner := mcpsync.RunnerFunc(func(_ context.Context, command string, payload any) error {
		mu.Lock()
		defer mu.Unlock()
		commands = append(commands, command)
		phases = append(phases, payload.(*Envelope).Phase)
		return nil
	})

	s := newTestStore(t, Options{SyncToMemory: true, Runner: runner})
	_, err := s.Save(context.Background(), "checkout", registry.PhasePlan, &PlanContext{})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, []string{DefaultMemoryCommand}, commands)
	assert.Equal(t, []registry.Phase{registry.PhasePlan}, phases)
}

func TestStore_MemorySyncFailureIsWarning(t *testing.T) {
	tl := logging.NewTestLogger()
	runner := mcpsync.RunnerFunc(func(context.Context, string, any) error {
		return errors.New("memory offline")
	})
	s := newTestStore(t, Options{SyncToMemory: true, MemoryCommand: "memory.put", Runner: runner, Logger: tl.Logger})

	path, err := s.Save(context.Background(), "checkout", registry.PhaseTasks, ExtractTaskContext(sampleTasks))
	require.NoError(t, err)
	assert.FileExists(t, path)

	s.Wait()
	tl.AssertLogged(t, zapcore.WarnLevel, "failed to sync context to memory")
	tl.AssertField(t, "failed to sync context to memory", "command", "memory.put")
}

func TestStore_SyncDisabledDoesNotPush(t *testing.T) {
	called := false
	runner := mcpsync.RunnerFunc(func(context.Context, string, any) error {
		called = true
		return nil
	})
	s := newTestStore(t, Options{Runner: runner})
	_, err := s.Save(context.Background(), "checkout", registry.PhasePlan, &PlanContext{})
	require.NoError(t, err)
	s.Wait()
	assert.False(t, called)
}

func TestStore_RebuildAndList(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	dir := s.FeatureDir("checkout")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spec.md"), []byte(sampleSpec), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.md"), []byte(sampleTasks), 0o644))

	pc, err := s.Rebuild("checkout", registry.PhasePlan)
	require.NoError(t, err)
	assert.Nil(t, pc, "missing artifact rebuilds to nil")

	written, err := s.RebuildAndSave(ctx, "checkout")
	require.NoError(t, err)
	assert.Len(t, written, 2)

	paths, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		s.Path("checkout", registry.PhaseSpecify),
		s.Path("checkout", registry.PhaseTasks),
	}, paths)

	tc, err := s.Load(ctx, "checkout", registry.PhaseTasks)
	require.NoError(t, err)
	assert.Equal(t, "1/3 completed (33%)", tc.(*TaskContext).Progress)

	paths, err = ListStoredContexts(ctx, s.Root())
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestStore_ListEmptyWorkspace(t *testing.T) {
	s := newTestStore(t, Options{})
	paths, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestEnvelope_JSONShape(t *testing.T) {
	s := newTestStore(t, Options{})
	path, err := s.Save(context.Background(), "f", registry.PhasePlan, &PlanContext{Architecture: []string{"a"}, Risks: []string{}})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Equal(t, "f", m["feature"])
	assert.Equal(t, "plan", m["phase"])
	assert.EqualValues(t, 1, m["schemaVersion"])
	assert.Equal(t, map[string]any{"architecture": []any{"a"}, "risks": []any{}}, m["data"])
}
