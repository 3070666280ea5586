package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/agent"
	"github.com/epieczko/claude-code-riskexec/internal/analytics"
	"github.com/epieczko/claude-code-riskexec/internal/gitmeta"
	"github.com/epieczko/claude-code-riskexec/internal/mcpsync"
	"github.com/epieczko/claude-code-riskexec/internal/mirror"
	"github.com/epieczko/claude-code-riskexec/internal/orchestrator"
	"github.com/epieczko/claude-code-riskexec/internal/phases"
	"github.com/epieczko/claude-code-riskexec/internal/secrets"
)

type runFlags struct {
	feature        string
	brief          string
	phases         []string
	resumeFrom     string
	resumeTask     string
	dryRun         bool
	rebuildContext bool
	includeVerify  bool
	validate       bool
	strict         bool
	jsonOutput     bool
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run workflow phases for a feature",
		Long: `Run the workflow phases for a feature, in registry order unless --phases
is given. A failing phase halts the run; its telemetry is still recorded in
.agent-os/product/status.json.

Examples:
  # Default order: specify, plan, tasks, implement
  speckit run --feature checkout --brief "One-page checkout"

  # Only regenerate the plan and tasks
  speckit run --feature checkout --phases plan,tasks

  # Resume implementation at the task mentioning "payment"
  speckit run --feature checkout --resume-from implement --resume-task payment

  # Check artifacts with the validators after each phase
  speckit run --feature checkout --validate --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkflow(cmd, a, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.feature, "feature", "f", "", "feature name (default from the git branch, else workflow.feature)")
	fl.StringVar(&f.brief, "brief", "", "feature brief for specify (default specs/<feature>/idea.md)")
	fl.StringSliceVar(&f.phases, "phases", nil, "explicit phase list, comma separated")
	fl.StringVar(&f.resumeFrom, "resume-from", "", "start from this phase")
	fl.StringVar(&f.resumeTask, "resume-task", "", "resume implement at the first task containing this text")
	fl.BoolVar(&f.dryRun, "dry-run", false, "report the phases without running them")
	fl.BoolVar(&f.rebuildContext, "rebuild-context", false, "rebuild contexts from Markdown instead of stored snapshots")
	fl.BoolVar(&f.includeVerify, "include-verify", false, "append verify to the default order")
	fl.BoolVar(&f.validate, "validate", false, "run artifact and secret gates after each phase")
	fl.BoolVar(&f.strict, "strict", false, "treat validator errors as gate failures")
	fl.BoolVar(&f.jsonOutput, "json", false, "print results as JSON")
	return cmd
}

func runWorkflow(cmd *cobra.Command, a *app, f *runFlags) error {
	ctx := cmd.Context()
	cfg := a.cfg

	feature, err := a.feature(ctx, f.feature)
	if err != nil {
		return err
	}

	var scrubber secrets.Scrubber = secrets.Noop{}
	if cfg.Agent.ScrubSecrets || f.validate {
		s, err := secrets.NewForWorkspace(a.root)
		if err != nil {
			a.logger.Warn(ctx, "secret scanning disabled", zap.Error(err))
		} else {
			scrubber = s
		}
	}

	invoker, err := agent.New(agent.Config{
		Executor:  cfg.Agent.Executor,
		Binary:    cfg.Agent.Binary,
		Timeout:   cfg.Agent.Timeout.Duration(),
		RateLimit: cfg.Agent.RateLimit,
		Burst:     cfg.Agent.Burst,
		Scrubber:  agentScrubber(cfg.Agent.ScrubSecrets, scrubber),
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	store, err := a.store()
	if err != nil {
		return err
	}
	defer store.Close()

	recorder, err := a.recorder()
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			a.logger.Warn(ctx, "failed to close analytics sinks", zap.Error(err))
		}
	}()

	precedence, err := orchestrator.ParsePrecedence(cfg.Workflow.Precedence)
	if err != nil {
		return err
	}
	o, err := orchestrator.New(orchestrator.Config{
		Store:         store,
		Metrics:       recorder,
		Telemetry:     a.tel,
		Logger:        a.logger,
		IncludeVerify: cfg.Workflow.IncludeVerify || f.includeVerify,
		Precedence:    precedence,
		GitInfo:       gitmeta.Describe,
	})
	if err != nil {
		return err
	}

	deps := &phases.Deps{
		Invoker:     invoker,
		Store:       store,
		Mirror:      mirror.New(a.root, a.logger),
		Logger:      a.logger,
		TestCommand: cfg.Implement.TestCommand,
	}
	for _, h := range phases.Handlers(deps) {
		o.RegisterHandler(h)
	}
	if f.validate || cfg.Workflow.Validate {
		var gateScrubber secrets.Scrubber
		if scrubber.IsEnabled() {
			gateScrubber = scrubber
		}
		orchestrator.DefaultGates(o, f.strict, gateScrubber)
	}
	o.OnProgress(func(p orchestrator.PhaseProgress) {
		a.logger.Debug(ctx, "phase progress",
			zap.String("phase", string(p.Phase)),
			zap.String("status", string(p.Status)))
	})

	results, runErr := o.Run(ctx, orchestrator.Options{
		Feature:        feature,
		Brief:          f.brief,
		Phases:         f.phases,
		ResumeFrom:     f.resumeFrom,
		ResumeTask:     f.resumeTask,
		DryRun:         f.dryRun,
		RebuildContext: cfg.Workflow.RebuildContext || f.rebuildContext,
		WorkspaceRoot:  a.root,
	})
	if err := printResults(cmd.OutOrStdout(), results, f.jsonOutput); err != nil {
		return err
	}
	if runErr != nil {
		a.logger.Error(ctx, "workflow failed", zap.String("feature", feature), zap.Error(runErr))
		return runErr
	}
	return nil
}

// agentScrubber returns s when prompt scrubbing is on.
func agentScrubber(enabled bool, s secrets.Scrubber) secrets.Scrubber {
	if !enabled {
		return secrets.Noop{}
	}
	return s
}

// recorder builds the analytics recorder: MCP push plus the optional
// pushgateway and SQLite history sinks.
func (a *app) recorder() (*analytics.Recorder, error) {
	ac := a.cfg.Analytics
	runner, err := mcpsync.New(mcpsync.Settings{
		Transport:     ac.Transport,
		Endpoint:      ac.Endpoint,
		Token:         ac.Token.Value(),
		NATSURL:       ac.NATSURL,
		SubjectPrefix: a.cfg.Memory.SubjectPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("analytics sync: %w", err)
	}

	var sinks []analytics.Sink
	if ac.PushgatewayURL != "" {
		sinks = append(sinks, analytics.NewPushgatewaySink(ac.PushgatewayURL, ac.Job))
	}
	path, err := a.historyPath()
	if err != nil {
		_ = mcpsync.Close(runner)
		return nil, err
	}
	if path != "" {
		h, err := analytics.OpenHistory(path)
		if err != nil {
			_ = mcpsync.Close(runner)
			return nil, err
		}
		sinks = append(sinks, h)
	}
	return analytics.NewRecorder(analytics.Options{
		Command: ac.Command,
		Runner:  runner,
		Sinks:   sinks,
		Logger:  a.logger,
	}), nil
}

func printResults(w io.Writer, results []phases.Result, asJSON bool) error {
	if asJSON {
		if results == nil {
			results = []phases.Result{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		line := fmt.Sprintf("%-10s %s", r.Phase, r.OutputPath)
		if skipped, _ := r.Details["skipped"].(bool); skipped {
			line += " (skipped)"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
