package phases

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epieczko/claude-code-riskexec/internal/agent"
	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/mirror"
)

const (
	specMarkdown = `# Checkout

## Functional Requirements
- [x] Accept card payments
- [ ] Email a receipt

## Open Questions
- Which PSP?
`
	planMarkdown = `# Plan

## Architecture
- Checkout service behind the API gateway

## Risks
- PSP latency
`
	tasksMarkdown = `# Tasks

- [x] Build payment form
  - Spec: req-1
- [ ] Write docs
- [ ] Wire receipts
`
)

func cannedResponses(req agent.Request) (string, error) {
	switch req.Agent {
	case "bmad-analyst":
		return "\n" + specMarkdown + "\n\n", nil
	case "bmad-architect":
		return planMarkdown, nil
	case "bmad-pm":
		return tasksMarkdown, nil
	default:
		return "# " + req.Agent + " output for " + req.Metadata["taskLabel"], nil
	}
}

type fixture struct {
	root     string
	opts     RunOptions
	recorder *agent.Recorder
	store    *contextstore.Store
	logger   *logging.TestLogger
	deps     *Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	logger := logging.NewTestLogger()
	store := contextstore.New(contextstore.Options{Root: root, Logger: logger.Logger})
	t.Cleanup(func() { _ = store.Close() })
	rec := &agent.Recorder{Respond: cannedResponses}

	f := &fixture{
		root:     root,
		recorder: rec,
		store:    store,
		logger:   logger,
		opts: RunOptions{
			Feature:       "checkout",
			FeatureDir:    store.FeatureDir("checkout"),
			WorkspaceRoot: root,
		},
	}
	f.deps = &Deps{
		Invoker: rec,
		Store:   store,
		Mirror:  mirror.New(root, logger.Logger),
		Logger:  logger.Logger,
	}
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.opts.FeatureDir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.opts.FeatureDir, rel))
	require.NoError(t, err)
	return string(b)
}

func (f *fixture) product(rel string) string {
	return filepath.Join(f.root, ".agent-os", "product", "checkout", rel)
}
