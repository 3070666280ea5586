package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/analytics"
	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/gitmeta"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/mirror"
	"github.com/epieczko/claude-code-riskexec/internal/phases"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
	"github.com/epieczko/claude-code-riskexec/internal/telemetry"
)

const instrumentationName = "github.com/epieczko/claude-code-riskexec/internal/orchestrator"

// Config wires an Orchestrator.
type Config struct {
	Store     *contextstore.Store
	Metrics   MetricsRecorder
	Telemetry *telemetry.Telemetry
	Logger    *logging.Logger

	// IncludeVerify appends verify to the default order.
	IncludeVerify bool
	Precedence    Precedence

	// GitInfo describes the workspace revision for run metrics. Nil disables it.
	GitInfo func(root string) (gitmeta.Info, error)

	Now      func() time.Time
	NewRunID func() string
}

// Orchestrator runs phases through their handlers.
type Orchestrator struct {
	cfg      Config
	handlers map[registry.Phase]phases.Handler
	gates    map[registry.Phase][]Gate
	progress ProgressCallback

	tracer     trace.Tracer
	executions metric.Int64Counter
	duration   metric.Float64Histogram
}

// New returns an Orchestrator without handlers.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Precedence == "" {
		cfg.Precedence = PrecedenceExplicit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewString
	}

	meter := cfg.Telemetry.Meter(instrumentationName)
	executions, err := meter.Int64Counter("speckit.phase.executions",
		metric.WithDescription("Phase executions by result."))
	if err != nil {
		return nil, fmt.Errorf("create executions counter: %w", err)
	}
	duration, err := meter.Float64Histogram("speckit.phase.duration",
		metric.WithDescription("Phase wall clock duration."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return &Orchestrator{
		cfg:        cfg,
		handlers:   make(map[registry.Phase]phases.Handler),
		gates:      make(map[registry.Phase][]Gate),
		tracer:     cfg.Telemetry.Tracer(instrumentationName),
		executions: executions,
		duration:   duration,
	}, nil
}

// RegisterHandler registers h for its phase, replacing any previous one.
func (o *Orchestrator) RegisterHandler(h phases.Handler) {
	o.handlers[h.Phase()] = h
}

// RegisterGate adds a gate checked after phase succeeds.
func (o *Orchestrator) RegisterGate(phase registry.Phase, g Gate) {
	o.gates[phase] = append(o.gates[phase], g)
}

// OnProgress sets the progress callback.
func (o *Orchestrator) OnProgress(cb ProgressCallback) {
	o.progress = cb
}

// ResolveOrder returns the phases a run with opts would execute.
func (o *Orchestrator) ResolveOrder(opts Options) ([]registry.Phase, error) {
	explicit := len(opts.Phases) > 0
	useResume := opts.ResumeFrom != "" && (!explicit || o.cfg.Precedence == PrecedenceResume)

	var order []registry.Phase
	switch {
	case useResume:
		from, err := registry.ParsePhase(opts.ResumeFrom)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("Unknown resume phase: %s", opts.ResumeFrom)}
		}
		canonical := registry.DefaultOrder(o.cfg.IncludeVerify || from == registry.PhaseVerify)
		order = canonical[slices.Index(canonical, from):]
	case explicit:
		for _, name := range opts.Phases {
			p, err := registry.ParsePhase(name)
			if err != nil {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("Unsupported phase: %s", name)}
			}
			order = append(order, p)
		}
	default:
		order = registry.DefaultOrder(o.cfg.IncludeVerify)
	}

	for _, p := range order {
		if _, ok := registry.Lookup(p); !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("Missing registry entry for phase %s", p)}
		}
		if _, ok := o.handlers[p]; !ok {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("Unsupported phase: %s", p)}
		}
	}
	return order, nil
}

// Run executes the phases selected by opts. Results of completed phases are
// returned even when a later phase fails; the error is the handler's,
// unchanged.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (results []phases.Result, err error) {
	order, err := o.ResolveOrder(opts)
	if err != nil {
		return nil, err
	}

	feature := opts.Feature
	if feature == "" {
		feature = DefaultFeature
	}
	root, err := o.workspaceRoot(opts.WorkspaceRoot)
	if err != nil {
		return nil, err
	}
	runID := o.cfg.NewRunID()
	logger := o.cfg.Logger

	ctx = logging.WithFeature(ctx, feature)
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := o.tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("feature", feature),
		attribute.String("run.id", runID),
		attribute.Bool("dry_run", opts.DryRun),
	))
	defer span.End()

	rc := newRunContexts(o.cfg.Store, logger, feature, opts.RebuildContext)
	start := o.cfg.Now()
	success := false
	if !opts.DryRun {
		defer func() {
			o.recordRun(ctx, runSummary{
				feature: feature,
				root:    root,
				runID:   runID,
				opts:    opts,
				results: results,
				success: success,
				runtime: o.cfg.Now().Sub(start),
				spec:    rc.spec(),
				tasks:   rc.tasks(),
			})
		}()
	}

	for _, phase := range order {
		o.report(runID, phase, StatusPending, order, len(results))
	}

	base := phases.RunOptions{
		Feature:       feature,
		FeatureDir:    filepath.Join(root, "specs", feature),
		WorkspaceRoot: root,
		Brief:         opts.Brief,
		ResumeTask:    opts.ResumeTask,
	}

	for _, phase := range order {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}

		if opts.DryRun {
			results = append(results, phases.Result{
				Phase:      phase,
				OutputPath: "dry-run",
				Details:    map[string]any{"skipped": true},
			})
			o.report(runID, phase, StatusSkipped, order, len(results))
			continue
		}

		rc.resolve(ctx, phase)
		runOpts := base
		runOpts.Spec, runOpts.Plan, runOpts.Tasks = rc.spec(), rc.plan(), rc.tasks()

		o.report(runID, phase, StatusRunning, order, len(results))
		result, err := o.runPhase(ctx, phase, runOpts, runID)
		if err != nil {
			o.report(runID, phase, StatusFailed, order, len(results))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}
		results = append(results, *result)
		o.report(runID, phase, StatusCompleted, order, len(results))

		rc.refresh(ctx, phase)

		if err := o.checkGates(ctx, GateState{
			Feature:       feature,
			FeatureDir:    base.FeatureDir,
			WorkspaceRoot: root,
			Phase:         phase,
			Result:        result,
		}); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}
	}

	success = true
	logger.Info(ctx, "workflow completed", zap.Int("phases", len(results)))
	return results, nil
}

func (o *Orchestrator) workspaceRoot(root string) (string, error) {
	if root == "" && o.cfg.Store != nil {
		root = o.cfg.Store.Root()
	}
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", &ConfigurationError{Reason: fmt.Sprintf("invalid workspace root %q: %v", root, err)}
	}
	if o.cfg.Store != nil {
		storeRoot, _ := filepath.Abs(o.cfg.Store.Root())
		if storeRoot != abs {
			return "", &ConfigurationError{Reason: fmt.Sprintf("workspace root %s does not match context store root %s", abs, storeRoot)}
		}
	}
	return abs, nil
}

// runPhase times one handler call and appends its telemetry entry.
func (o *Orchestrator) runPhase(ctx context.Context, phase registry.Phase, opts phases.RunOptions, runID string) (*phases.Result, error) {
	entry, _ := registry.Lookup(phase)
	ctx = logging.WithPhase(ctx, string(phase))
	ctx, span := o.tracer.Start(ctx, "phase."+string(phase), trace.WithAttributes(
		attribute.String("phase", string(phase)),
		attribute.String("agent", entry.Agent),
	))
	defer span.End()

	o.cfg.Logger.Info(ctx, "starting phase", zap.String("agent", entry.Agent))
	started := o.cfg.Now()
	result, err := o.handlers[phase].Execute(ctx, opts)
	ended := o.cfg.Now()

	outcome := ResultSuccess
	if err != nil {
		outcome = ResultFailure
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	AppendTelemetry(ctx, mirror.StatusPath(opts.WorkspaceRoot),
		NewTelemetryEntry(string(phase), started, ended, outcome, runID), o.cfg.Logger)

	attrs := metric.WithAttributes(attribute.String("phase", string(phase)), attribute.String("result", outcome))
	o.executions.Add(ctx, 1, attrs)
	o.duration.Record(ctx, ended.Sub(started).Seconds(), attrs)

	if err != nil {
		o.cfg.Logger.Error(ctx, "phase failed", zap.Error(err))
		return nil, err
	}
	o.cfg.Logger.Info(ctx, "phase complete", zap.String("output", result.OutputPath))
	return result, nil
}

func (o *Orchestrator) checkGates(ctx context.Context, state GateState) error {
	var blocking []Violation
	for _, g := range o.gates[state.Phase] {
		violations, err := g.Check(ctx, state)
		if err != nil {
			return fmt.Errorf("gate %s check failed: %w", g.Name(), err)
		}
		for _, v := range violations {
			if v.Severity == SeverityError {
				blocking = append(blocking, v)
				continue
			}
			o.cfg.Logger.Warn(ctx, "gate warning",
				zap.String("gate", v.Gate),
				zap.String("description", v.Description))
		}
	}
	if len(blocking) > 0 {
		return &GateError{Phase: state.Phase, Violations: blocking}
	}
	return nil
}

func (o *Orchestrator) report(runID string, phase registry.Phase, status PhaseStatus, order []registry.Phase, done int) {
	if o.progress == nil {
		return
	}
	o.progress(PhaseProgress{
		RunID:      runID,
		Phase:      phase,
		Status:     status,
		Message:    fmt.Sprintf("%s: %s", phase, status),
		Percentage: done * 100 / len(order),
	})
}

type runSummary struct {
	feature string
	root    string
	runID   string
	opts    Options
	results []phases.Result
	success bool
	runtime time.Duration
	spec    *contextstore.SpecContext
	tasks   *contextstore.TaskContext
}

// Coverage returns the task completion ratio when tasks exist, else the
// requirement completion ratio, else 0. Values are percentages.
func Coverage(spec *contextstore.SpecContext, tasks *contextstore.TaskContext) float64 {
	if tasks != nil && len(tasks.Tasks) > 0 {
		return float64(tasks.Completed()) / float64(len(tasks.Tasks)) * 100
	}
	if spec != nil && len(spec.Requirements) > 0 {
		return float64(spec.Completed()) / float64(len(spec.Requirements)) * 100
	}
	return 0
}

func (o *Orchestrator) recordRun(ctx context.Context, s runSummary) {
	if o.cfg.Metrics == nil {
		return
	}

	var completedTasks, taskCount, completedReqs, reqCount int
	if s.tasks != nil {
		completedTasks, taskCount = s.tasks.Completed(), len(s.tasks.Tasks)
	}
	if s.spec != nil {
		completedReqs, reqCount = s.spec.Completed(), len(s.spec.Requirements)
	}

	ran := make([]string, len(s.results))
	for i, r := range s.results {
		ran[i] = string(r.Phase)
	}
	details := map[string]any{
		"phases":                ran,
		"resumeFrom":            nullable(s.opts.ResumeFrom),
		"resumeTask":            nullable(s.opts.ResumeTask),
		"completedTasks":        completedTasks,
		"taskCount":             taskCount,
		"completedRequirements": completedReqs,
		"requirementCount":      reqCount,
		"runId":                 s.runID,
	}
	if o.cfg.GitInfo != nil {
		if info, err := o.cfg.GitInfo(s.root); err == nil {
			details["git"] = info.Map()
		}
	}

	o.cfg.Metrics.Record(ctx, analytics.Metrics{
		CoveragePct: Coverage(s.spec, s.tasks),
		RuntimeMs:   s.runtime.Milliseconds(),
		Success:     s.success,
		Details:     details,
	}, s.feature, "workflow")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
