// Package main implements the speckit CLI: it runs the spec-driven workflow
// phases and inspects the artifacts, contexts and telemetry they leave behind.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/config"
	"github.com/epieczko/claude-code-riskexec/internal/contextstore"
	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/gitmeta"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/mcpsync"
	"github.com/epieczko/claude-code-riskexec/internal/sanitize"
	"github.com/epieczko/claude-code-riskexec/internal/telemetry"
)

// version information
var version = "dev"

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// execute runs the command line in args and releases telemetry and logging
// whether or not the command failed.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd, a := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	defer a.teardown(ctx)
	return cmd.ExecuteContext(ctx)
}

// app holds what every command needs once the global flags are parsed.
type app struct {
	configPath string
	workspace  string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	root   string
	logger *logging.Logger
	tel    *telemetry.Telemetry
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "speckit",
		Short: "Spec-driven development workflow runner",
		Long: `speckit drives a feature through the specify, plan, tasks, implement and
verify phases. Each phase invokes an agent, writes a Markdown artifact under
specs/<feature>/, mirrors it into .agent-os/product/ and saves a structured
context snapshot for the phases that follow.

Examples:
  # Run the default workflow for the feature derived from the current branch
  speckit run --brief "Add a checkout page"

  # Resume from the plan phase, rebuilding contexts from Markdown
  speckit run --feature checkout --resume-from plan --rebuild-context

  # Show the telemetry log as a table
  speckit status`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default .speckit.yaml in the workspace)")
	flags.StringVarP(&a.workspace, "workspace", "w", "", "workspace root (default from config, else the working directory)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: console or json")

	cmd.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newContextsCmd(a),
		newRegistryCmd(a),
		newMirrorCmd(a),
		newStatusCmd(a),
		newDashboardCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
	)
	return cmd, a
}

// setup loads configuration and builds the logger and telemetry.
func (a *app) setup(ctx context.Context) error {
	path := a.configPath
	if path != "" {
		if _, err := sanitize.ValidatePath(path, ""); err != nil {
			return fmt.Errorf("invalid --config: %w", err)
		}
	}
	if path == "" && a.workspace != "" {
		if candidate := filepath.Join(a.workspace, config.DefaultFileName); files.Exists(candidate) {
			path = candidate
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	root := a.workspace
	if root == "" {
		root = cfg.Workspace
	}
	if a.root, err = sanitize.ValidatePath(root, ""); err != nil {
		return fmt.Errorf("invalid workspace %q: %w", root, err)
	}

	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.Protocol = cfg.Telemetry.Protocol
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.SampleRate = cfg.Telemetry.SampleRate
	tcfg.ServiceVersion = version
	if a.tel, err = telemetry.New(ctx, tcfg); err != nil {
		return err
	}

	level, format := cfg.Logging.Level, cfg.Logging.Format
	if a.logLevel != "" {
		level = a.logLevel
	}
	if a.logFormat != "" {
		format = a.logFormat
	}
	lcfg, err := logging.FromSettings(level, format)
	if err != nil {
		return err
	}
	lcfg.Output.OTEL = cfg.Telemetry.Enabled
	if a.logger, err = logging.NewLogger(lcfg, a.tel.LoggerProvider()); err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if h := a.tel.Health(); h.Degraded {
		a.logger.Warn(ctx, "telemetry degraded", zap.String("error", h.Error))
	}
	return nil
}

func (a *app) teardown(ctx context.Context) {
	if a.tel != nil {
		ctx := context.WithoutCancel(ctx)
		if err := a.tel.ForceFlush(ctx); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "telemetry flush failed", zap.Error(err))
		}
		if err := a.tel.Shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// store opens the context store. Memory sync follows the config.
func (a *app) store() (*contextstore.Store, error) {
	m := a.cfg.Memory
	var runner mcpsync.Runner = mcpsync.Nop{}
	if m.Enabled {
		var err error
		runner, err = mcpsync.New(mcpsync.Settings{
			Transport:     m.Transport,
			Endpoint:      m.Endpoint,
			Token:         m.Token.Value(),
			NATSURL:       m.NATSURL,
			SubjectPrefix: m.SubjectPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("memory sync: %w", err)
		}
	}
	return contextstore.New(contextstore.Options{
		Root:          a.root,
		SyncToMemory:  m.Enabled,
		MemoryCommand: m.Command,
		Runner:        runner,
		Logger:        a.logger,
	}), nil
}

var errNoFeature = errors.New("feature name is required")

// feature resolves the feature to operate on: the flag, then the current
// branch, then workflow.feature.
func (a *app) feature(ctx context.Context, flag string) (string, error) {
	name := flag
	if name == "" {
		if info, err := gitmeta.Describe(a.root); err == nil {
			name = sanitize.FeatureSlug(gitmeta.FeatureFromBranch(info.Branch))
		} else if !errors.Is(err, gitmeta.ErrNotRepository) {
			a.logger.Debug(ctx, "could not read git branch", zap.Error(err))
		}
	}
	if name == "" {
		name = a.cfg.Workflow.Feature
	}
	if name == "" {
		return "", errNoFeature
	}
	if err := sanitize.ValidateFeature(name); err != nil {
		return "", err
	}
	return name, nil
}

// historyPath resolves analytics.history_db against the workspace; "" disables
// it. A relative path must stay inside the workspace.
func (a *app) historyPath() (string, error) {
	p := a.cfg.Analytics.HistoryDB
	if p == "" {
		return "", nil
	}
	root := ""
	if !filepath.IsAbs(p) {
		root = a.root
		p = filepath.Join(a.root, p)
	}
	abs, err := sanitize.ValidatePath(p, root)
	if err != nil {
		return "", fmt.Errorf("invalid analytics.history_db: %w", err)
	}
	return abs, nil
}
