// Package mirror copies feature artifacts into the Agent-OS product tree at
// <root>/.agent-os/product/<feature>/.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
)

// PhaseArtifacts are mirrored by MirrorFeature.
var PhaseArtifacts = []string{"spec.md", "plan.md", "tasks.md", "implementation"}

// maxParallelCopies bounds concurrent file copies.
const maxParallelCopies = 8

// Mirror writes into one workspace's product tree.
type Mirror struct {
	root   string
	logger *logging.Logger
}

// New returns a Mirror for the workspace at root.
func New(root string, logger *logging.Logger) *Mirror {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Mirror{root: root, logger: logger}
}

// ProductDir returns <root>/.agent-os/product/<feature>.
func (m *Mirror) ProductDir(feature string) string {
	return filepath.Join(m.root, ".agent-os", "product", feature)
}

// StatusPath returns the telemetry log path, <root>/.agent-os/product/status.json.
func StatusPath(root string) string {
	return filepath.Join(root, ".agent-os", "product", "status.json")
}

// File writes content to <product>/<feature>/<rel> and returns the path.
func (m *Mirror) File(feature, rel string, content []byte) (string, error) {
	target := filepath.Join(m.ProductDir(feature), rel)
	if err := files.WriteFileAtomic(target, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to mirror %s: %w", rel, err)
	}
	return target, nil
}

// Directory copies sourceDir into <product>/<feature>/<targetSubdir>. A
// missing source is a silent no-op. Individual copy failures are logged and
// skipped; the mirrored relative paths are returned sorted.
func (m *Mirror) Directory(ctx context.Context, feature, sourceDir, targetSubdir string) ([]string, error) {
	if !files.IsDir(sourceDir) {
		return nil, nil
	}
	rels, err := files.ListFiles(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", sourceDir, err)
	}

	dest := filepath.Join(m.ProductDir(feature), targetSubdir)
	mirrored := m.copyAll(ctx, sourceDir, dest, rels, targetSubdir)
	m.report(ctx, feature, sourceDir, mirrored)
	return mirrored, nil
}

// Feature mirrors the standard phase artifacts found in featureDir.
func (m *Mirror) Feature(ctx context.Context, feature, featureDir string) ([]string, error) {
	if !files.IsDir(featureDir) {
		return nil, nil
	}

	var mirrored []string
	for _, artifact := range PhaseArtifacts {
		src := filepath.Join(featureDir, artifact)
		info, err := os.Stat(src)
		if err != nil {
			continue
		}
		if info.IsDir() {
			rels, err := files.ListFiles(src)
			if err != nil {
				m.logger.Warn(ctx, "failed to list artifact directory", zap.String("path", src), zap.Error(err))
				continue
			}
			mirrored = append(mirrored,
				m.copyAll(ctx, src, filepath.Join(m.ProductDir(feature), artifact), rels, artifact)...)
			continue
		}
		mirrored = append(mirrored,
			m.copyAll(ctx, featureDir, m.ProductDir(feature), []string{artifact}, "")...)
	}
	sort.Strings(mirrored)
	m.report(ctx, feature, featureDir, mirrored)
	return mirrored, nil
}

// copyAll copies rels from src to dst concurrently. The returned paths are
// relative to the feature's product dir.
func (m *Mirror) copyAll(ctx context.Context, src, dst string, rels []string, prefix string) []string {
	var (
		mu  sync.Mutex
		out []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCopies)
	for _, rel := range rels {
		g.Go(func() error {
			if err := files.CopyFile(filepath.Join(src, rel), filepath.Join(dst, rel)); err != nil {
				m.logger.Warn(gctx, "failed to mirror artifact", zap.String("path", rel), zap.Error(err))
				return nil
			}
			mu.Lock()
			out = append(out, filepath.Join(prefix, rel))
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(out)
	return out
}

func (m *Mirror) report(ctx context.Context, feature, source string, mirrored []string) {
	if len(mirrored) == 0 {
		m.logger.Info(ctx, "no artifacts mirrored", zap.String("feature", feature), zap.String("source", source))
		return
	}
	m.logger.Info(ctx, "mirrored artifacts to Agent OS",
		zap.String("feature", feature),
		zap.Int("count", len(mirrored)),
		zap.Strings("paths", mirrored))
}
