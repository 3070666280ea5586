// Package phases implements the workflow phase handlers. Each handler checks
// its prerequisites, asks an agent for the phase artifact, writes and mirrors
// it, and saves the structured context derived from it.
package phases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/agent"
	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/mirror"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// ErrNoTasks is returned by implement when the task list has no checklist items.
var ErrNoTasks = errors.New("no tasks found in tasks.md; ensure the file contains checklist items")

// PrerequisiteMissingError lists the inputs a phase could not find.
type PrerequisiteMissingError struct {
	Phase   registry.Phase
	Missing []string
}

func (e *PrerequisiteMissingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "missing required inputs for %s phase:", e.Phase)
	for _, m := range e.Missing {
		b.WriteString("\n - ")
		b.WriteString(m)
	}
	return b.String()
}

// TaskNotFoundError is returned when no task matches the resume token.
type TaskNotFoundError struct {
	Token string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("unable to locate task containing %q", e.Token)
}

// RunOptions is the input of a single phase run. Spec, Plan and Tasks carry
// context already resolved by the caller; nil means "load from the store".
type RunOptions struct {
	Feature       string
	FeatureDir    string
	WorkspaceRoot string
	Brief         string
	ResumeTask    string

	Spec  *contextstore.SpecContext
	Plan  *contextstore.PlanContext
	Tasks *contextstore.TaskContext
}

// Result describes what a phase produced.
type Result struct {
	Phase      registry.Phase `json:"phase"`
	OutputPath string         `json:"outputPath,omitempty"`
	LogPaths   []string       `json:"logPaths,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Handler runs one phase.
type Handler interface {
	Phase() registry.Phase
	Execute(ctx context.Context, opts RunOptions) (*Result, error)
}

// Deps are shared by every handler.
type Deps struct {
	Invoker agent.Invoker
	Store   *contextstore.Store
	Mirror  *mirror.Mirror
	Logger  *logging.Logger

	// TestCommand runs after each implementation task when non-empty.
	TestCommand string
	// RunTests executes TestCommand; defaults to ShellTestRunner.
	RunTests TestRunner
}

func (d *Deps) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.Nop()
	}
	return d.Logger
}

// Handlers returns a handler for every registered phase, in registry order.
func Handlers(d *Deps) []Handler {
	return []Handler{
		&Specify{deps: d},
		&Plan{deps: d},
		&Tasks{deps: d},
		&Implement{deps: d},
		&Verify{deps: d},
	}
}

// paths are the well-known files of a feature directory.
type paths struct {
	dir            string
	idea           string
	spec           string
	plan           string
	tasks          string
	qaReport       string
	architecture   string
	implementation string
	constitution   string
}

func featurePaths(opts RunOptions) paths {
	dir := opts.FeatureDir
	return paths{
		dir:            dir,
		idea:           filepath.Join(dir, "idea.md"),
		spec:           filepath.Join(dir, "spec.md"),
		plan:           filepath.Join(dir, "plan.md"),
		tasks:          filepath.Join(dir, "tasks.md"),
		qaReport:       filepath.Join(dir, "qa-report.md"),
		architecture:   filepath.Join(dir, "architecture"),
		implementation: filepath.Join(dir, "implementation"),
		constitution:   filepath.Join(opts.WorkspaceRoot, "specs", "constitution.md"),
	}
}

type requirement struct {
	description string
	path        string
	dir         bool
}

// checkPrereqs returns a PrerequisiteMissingError naming every absent input.
func checkPrereqs(phase registry.Phase, reqs ...requirement) error {
	var missing []string
	for _, r := range reqs {
		ok := files.IsDir(r.path)
		if !r.dir {
			ok = nonEmpty(r.path)
		}
		if !ok {
			missing = append(missing, fmt.Sprintf("%s (%s)", r.description, r.path))
		}
	}
	if len(missing) > 0 {
		return &PrerequisiteMissingError{Phase: phase, Missing: missing}
	}
	return nil
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func joinPrompt(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// generation is one agent call whose output becomes an artifact.
type generation struct {
	phase    registry.Phase
	agent    string
	prompt   string
	context  []agent.ContextFile
	metadata map[string]string
	output   string
}

// generate invokes the agent and writes its trimmed output to g.output.
func (d *Deps) generate(ctx context.Context, opts RunOptions, g generation) (*agent.Response, string, error) {
	if g.agent == "" {
		entry, ok := registry.Lookup(g.phase)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", registry.ErrUnknownPhase, g.phase)
		}
		g.agent = entry.Agent
	}
	resp, err := d.Invoker.Invoke(ctx, agent.Request{
		Agent:        g.agent,
		Feature:      opts.Feature,
		Prompt:       g.prompt,
		ContextFiles: g.context,
		Metadata:     g.metadata,
	})
	if err != nil {
		return nil, "", err
	}

	content := strings.TrimSpace(resp.Output) + "\n"
	if err := files.WriteFileAtomic(g.output, []byte(content), 0o644); err != nil {
		return nil, "", fmt.Errorf("failed to write %s: %w", g.output, err)
	}
	return resp, content, nil
}

// mirrorFile copies an artifact into the product tree; failures are warnings.
func (d *Deps) mirrorFile(ctx context.Context, opts RunOptions, path, content string) {
	if d.Mirror == nil {
		return
	}
	rel, err := filepath.Rel(opts.FeatureDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	if _, err := d.Mirror.File(opts.Feature, rel, []byte(content)); err != nil {
		d.logger().Warn(ctx, "failed to mirror artifact", zap.String("path", rel), zap.Error(err))
	}
}

func (d *Deps) mirrorDir(ctx context.Context, opts RunOptions, src, subdir string) {
	if d.Mirror == nil {
		return
	}
	if _, err := d.Mirror.Directory(ctx, opts.Feature, src, subdir); err != nil {
		d.logger().Warn(ctx, "failed to mirror directory", zap.String("path", src), zap.Error(err))
	}
}

// saveContext extracts phase context from markdown and persists it.
func (d *Deps) saveContext(ctx context.Context, opts RunOptions, phase registry.Phase, markdown string) (contextstore.PhaseContext, string, error) {
	pc, err := contextstore.ExtractFor(phase, markdown)
	if err != nil {
		return nil, "", err
	}
	path, err := d.Store.Save(ctx, opts.Feature, phase, pc)
	if err != nil {
		return nil, "", err
	}
	return pc, path, nil
}

func (d *Deps) loadSpec(ctx context.Context, opts RunOptions) *contextstore.SpecContext {
	if opts.Spec != nil {
		return opts.Spec
	}
	spec, _ := d.load(ctx, opts.Feature, registry.PhaseSpecify).(*contextstore.SpecContext)
	return spec
}

func (d *Deps) loadPlan(ctx context.Context, opts RunOptions) *contextstore.PlanContext {
	if opts.Plan != nil {
		return opts.Plan
	}
	plan, _ := d.load(ctx, opts.Feature, registry.PhasePlan).(*contextstore.PlanContext)
	return plan
}

func (d *Deps) loadTasks(ctx context.Context, opts RunOptions) *contextstore.TaskContext {
	if opts.Tasks != nil {
		return opts.Tasks
	}
	tasks, _ := d.load(ctx, opts.Feature, registry.PhaseTasks).(*contextstore.TaskContext)
	return tasks
}

func (d *Deps) load(ctx context.Context, feature string, phase registry.Phase) contextstore.PhaseContext {
	if d.Store == nil {
		return nil
	}
	pc, err := d.Store.Load(ctx, feature, phase)
	if err != nil {
		d.logger().Warn(ctx, "failed to load stored context", zap.String("context_phase", string(phase)), zap.Error(err))
		return nil
	}
	return pc
}
