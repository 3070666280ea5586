// Package watch rebuilds context envelopes when a feature's Markdown
// artifacts change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// Event reports one rebuild.
type Event struct {
	Feature string
	Phase   registry.Phase
	// Path is the envelope written, empty when the artifact vanished.
	Path string
	Err  error
}

// Options configure a Watcher.
type Options struct {
	Debounce time.Duration
	Logger   *logging.Logger
}

type target struct {
	feature string
	phase   registry.Phase
}

// Watcher watches <root>/specs/*/ for spec.md, plan.md and tasks.md writes.
type Watcher struct {
	store    *contextstore.Store
	specs    string
	debounce time.Duration
	logger   *logging.Logger

	watcher *fsnotify.Watcher
	events  chan Event
	fire    chan target
	done    chan struct{}

	mu      sync.Mutex
	pending map[target]*time.Timer
}

// New creates a watcher over the store's workspace. The specs directory is
// created when missing.
func New(store *contextstore.Store, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	specs := filepath.Join(store.Root(), "specs")
	if err := os.MkdirAll(specs, 0o755); err != nil {
		return nil, fmt.Errorf("create specs directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	w := &Watcher{
		store:    store,
		specs:    specs,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		watcher:  fw,
		events:   make(chan Event, 16),
		fire:     make(chan target),
		done:     make(chan struct{}),
		pending:  make(map[target]*time.Timer),
	}
	if err := w.addTree(); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Events delivers rebuild results. Events are dropped when nobody reads.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run processes filesystem events until ctx is done, then releases the
// watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()

	w.logger.Info(ctx, "watching feature artifacts", zap.String("dir", w.specs))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "filesystem watcher error", zap.Error(err))
		case t := <-w.fire:
			w.rebuild(ctx, t)
		}
	}
}

func (w *Watcher) shutdown() {
	close(w.done)
	w.mu.Lock()
	for k, t := range w.pending {
		t.Stop()
		delete(w.pending, k)
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
}

// addTree watches the specs directory and every feature directory in it.
func (w *Watcher) addTree() error {
	if err := w.watcher.Add(w.specs); err != nil {
		return fmt.Errorf("watch %s: %w", w.specs, err)
	}
	entries, err := os.ReadDir(w.specs)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.specs, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.watcher.Add(filepath.Join(w.specs, e.Name())); err != nil {
				return fmt.Errorf("watch feature %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)

	// New feature directory.
	if dir == w.specs {
		if ev.Has(fsnotify.Create) {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if err := w.watcher.Add(ev.Name); err != nil {
					w.logger.Warn(ctx, "failed to watch feature directory", zap.String("path", ev.Name), zap.Error(err))
				}
				w.scheduleFeature(filepath.Base(ev.Name))
			}
		}
		return
	}
	if filepath.Dir(dir) != w.specs {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return
	}
	phase, ok := phaseFor(filepath.Base(ev.Name))
	if !ok {
		return
	}
	w.schedule(target{feature: filepath.Base(dir), phase: phase})
}

// scheduleFeature queues every artifact already present in a new feature
// directory; files written before the directory was watched emit no events.
func (w *Watcher) scheduleFeature(feature string) {
	for _, phase := range contextstore.Phases {
		path := filepath.Join(w.specs, feature, contextstore.ArtifactName(phase))
		if _, err := os.Stat(path); err == nil {
			w.schedule(target{feature: feature, phase: phase})
		}
	}
}

func (w *Watcher) schedule(t target) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[t]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[t] = time.AfterFunc(w.debounce, func() {
		select {
		case w.fire <- t:
		case <-w.done:
		}
	})
}

func (w *Watcher) rebuild(ctx context.Context, t target) {
	w.mu.Lock()
	delete(w.pending, t)
	w.mu.Unlock()

	ev := Event{Feature: t.feature, Phase: t.phase}
	pc, err := w.store.Rebuild(t.feature, t.phase)
	switch {
	case err != nil:
		ev.Err = err
	case pc != nil:
		ev.Path, ev.Err = w.store.Save(ctx, t.feature, t.phase, pc)
	}

	if ev.Err != nil {
		w.logger.Warn(ctx, "context rebuild failed",
			zap.String("feature", t.feature), zap.String("context_phase", string(t.phase)), zap.Error(ev.Err))
	} else {
		w.logger.Info(ctx, "context rebuilt",
			zap.String("feature", t.feature), zap.String("context_phase", string(t.phase)), zap.String("path", ev.Path))
	}

	select {
	case w.events <- ev:
	default:
	}
}

func phaseFor(name string) (registry.Phase, bool) {
	for _, p := range contextstore.Phases {
		if contextstore.ArtifactName(p) == name {
			return p, true
		}
	}
	return "", false
}
