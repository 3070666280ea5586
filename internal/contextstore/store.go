package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/mcpsync"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// DefaultMemoryCommand is the command used for memory sync pushes.
const DefaultMemoryCommand = "memory.saveContext"

// Options configures a Store.
type Options struct {
	// Root is the workspace root containing specs/.
	Root string

	// SyncToMemory pushes every saved envelope through Runner.
	SyncToMemory  bool
	MemoryCommand string
	Runner        mcpsync.Runner

	Logger *logging.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

// Store reads and writes context envelopes under one workspace.
type Store struct {
	root          string
	syncToMemory  bool
	memoryCommand string
	runner        mcpsync.Runner
	logger        *logging.Logger
	now           func() time.Time

	pending sync.WaitGroup
}

// New returns a Store for opts.Root.
func New(opts Options) *Store {
	s := &Store{
		root:          opts.Root,
		syncToMemory:  opts.SyncToMemory,
		memoryCommand: opts.MemoryCommand,
		runner:        opts.Runner,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if s.root == "" {
		s.root = "."
	}
	if s.memoryCommand == "" {
		s.memoryCommand = DefaultMemoryCommand
	}
	if s.runner == nil {
		s.runner = mcpsync.Nop{}
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Root returns the workspace root.
func (s *Store) Root() string { return s.root }

// FeatureDir returns <root>/specs/<feature>.
func (s *Store) FeatureDir(feature string) string {
	return filepath.Join(s.root, "specs", feature)
}

// ContextDir returns <root>/specs/<feature>/context.
func (s *Store) ContextDir(feature string) string {
	return filepath.Join(s.FeatureDir(feature), "context")
}

// Path returns the envelope path for feature and phase.
func (s *Store) Path(feature string, phase registry.Phase) string {
	return filepath.Join(s.ContextDir(feature), string(phase)+".json")
}

// EnsureSetup creates the context directory for feature.
func (s *Store) EnsureSetup(feature string) error {
	if err := os.MkdirAll(s.ContextDir(feature), 0o755); err != nil {
		return fmt.Errorf("failed to create context dir: %w", err)
	}
	return nil
}

// Save writes data as the envelope for feature and phase, replacing any
// previous one, and returns the absolute path written. When memory sync is
// enabled the envelope is pushed in the background; Wait drains pushes.
func (s *Store) Save(ctx context.Context, feature string, phase registry.Phase, data PhaseContext) (string, error) {
	if !HasContext(phase) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
	if data == nil || data.Phase() != phase {
		return "", fmt.Errorf("context type %T does not match phase %q", data, phase)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal context: %w", err)
	}
	env := &Envelope{
		Feature:       feature,
		Phase:         phase,
		SavedAt:       formatSavedAt(s.now()),
		SchemaVersion: SchemaVersion,
		Data:          raw,
	}
	body, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	target, err := filepath.Abs(s.Path(feature, phase))
	if err != nil {
		return "", err
	}
	if err := files.WriteFileAtomic(target, append(body, '\n'), 0o644); err != nil {
		return "", err
	}

	if s.syncToMemory {
		s.push(ctx, env)
	}
	return target, nil
}

func (s *Store) push(ctx context.Context, env *Envelope) {
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.runner.Run(ctx, s.memoryCommand, env); err != nil {
			s.logger.Warn(ctx, "failed to sync context to memory",
				zap.String("feature", env.Feature),
				zap.String("phase", string(env.Phase)),
				zap.String("command", s.memoryCommand),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every background memory push has finished.
func (s *Store) Wait() { s.pending.Wait() }

// Close drains pending pushes and releases the runner.
func (s *Store) Close() error {
	s.Wait()
	return mcpsync.Close(s.runner)
}

// LoadEnvelope reads the envelope for feature and phase. A missing file or
// malformed JSON returns nil, nil; the latter is logged.
func (s *Store) LoadEnvelope(ctx context.Context, feature string, phase registry.Phase) (*Envelope, error) {
	return s.readEnvelope(ctx, s.Path(feature, phase))
}

func (s *Store) readEnvelope(ctx context.Context, path string) (*Envelope, error) {
	data, err := files.ReadFileIfExists(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn(ctx, "failed to parse context file", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	return &env, nil
}

// Load returns the decoded context for feature and phase, or nil when no
// usable envelope exists. An envelope recorded for another phase is unusable.
func (s *Store) Load(ctx context.Context, feature string, phase registry.Phase) (PhaseContext, error) {
	env, err := s.LoadEnvelope(ctx, feature, phase)
	if err != nil || env == nil {
		return nil, err
	}
	if env.Phase != phase {
		s.logger.Warn(ctx, "context file holds another phase",
			zap.String("path", s.Path(feature, phase)),
			zap.String("want", string(phase)),
			zap.String("got", string(env.Phase)))
		return nil, nil
	}
	pc, err := env.Decode()
	if err != nil {
		s.logger.Warn(ctx, "failed to decode context data",
			zap.String("path", s.Path(feature, phase)), zap.Error(err))
		return nil, nil
	}
	return pc, nil
}

// ArtifactName is the Markdown file a context phase is derived from.
func ArtifactName(phase registry.Phase) string {
	return phaseArtifacts[phase]
}

var phaseArtifacts = map[registry.Phase]string{
	registry.PhaseSpecify: "spec.md",
	registry.PhasePlan:    "plan.md",
	registry.PhaseTasks:   "tasks.md",
}

// Rebuild re-derives the context of phase from its Markdown artifact,
// bypassing the stored envelope. A missing artifact returns nil, nil.
func (s *Store) Rebuild(feature string, phase registry.Phase) (PhaseContext, error) {
	name, ok := phaseArtifacts[phase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
	data, err := files.ReadFileIfExists(filepath.Join(s.FeatureDir(feature), name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if data == nil {
		return nil, nil
	}
	return ExtractFor(phase, string(data))
}

// RebuildAndSave rebuilds every context phase of feature whose artifact
// exists and saves the result. It returns the written paths.
func (s *Store) RebuildAndSave(ctx context.Context, feature string) ([]string, error) {
	var written []string
	for _, phase := range Phases {
		pc, err := s.Rebuild(feature, phase)
		if err != nil {
			return written, err
		}
		if pc == nil {
			continue
		}
		path, err := s.Save(ctx, feature, phase, pc)
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// StoredContext describes one envelope file on disk.
type StoredContext struct {
	Feature string         `json:"feature"`
	Phase   registry.Phase `json:"phase"`
	Path    string         `json:"path"`
	ModTime time.Time      `json:"modTime"`
}

// List returns the path of every *.json under specs/*/context/.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := s.Entries(ctx, "")
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths, nil
}

// Entries lists stored envelopes, optionally only for feature, sorted by
// feature then phase.
func (s *Store) Entries(ctx context.Context, feature string) ([]StoredContext, error) {
	specs := filepath.Join(s.root, "specs")
	features, err := os.ReadDir(specs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", specs, err)
	}

	var out []StoredContext
	for _, f := range features {
		if !f.IsDir() || (feature != "" && f.Name() != feature) {
			continue
		}
		dir := filepath.Join(specs, f.Name(), "context")
		items, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, item := range items {
			if !item.Type().IsRegular() || !strings.HasSuffix(item.Name(), ".json") {
				continue
			}
			info, err := item.Info()
			if err != nil {
				continue
			}
			out = append(out, StoredContext{
				Feature: f.Name(),
				Phase:   registry.Phase(strings.TrimSuffix(item.Name(), ".json")),
				Path:    filepath.Join(dir, item.Name()),
				ModTime: info.ModTime(),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Feature != out[j].Feature {
			return out[i].Feature < out[j].Feature
		}
		return out[i].Phase < out[j].Phase
	})
	return out, nil
}

// ListStoredContexts lists envelope paths under root.
func ListStoredContexts(ctx context.Context, root string) ([]string, error) {
	return New(Options{Root: root}).List(ctx)
}
