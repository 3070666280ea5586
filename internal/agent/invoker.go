package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/secrets"
)

// DefaultBinary is the agent CLI used when none is configured.
const DefaultBinary = "claude"

// Config configures a Client.
type Config struct {
	Executor string
	Binary   string
	// Timeout bounds a single cli invocation. Zero means no limit.
	Timeout time.Duration
	// RateLimit is invocations per second; zero disables throttling.
	RateLimit float64
	Burst     int
	// Scrubber redacts the prompt before it is handed to the agent.
	Scrubber secrets.Scrubber
	Logger   *logging.Logger
}

// Client is the default Invoker.
type Client struct {
	executor string
	binary   string
	timeout  time.Duration
	limiter  *rate.Limiter
	scrubber secrets.Scrubber
	logger   *logging.Logger
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	executor := strings.ToLower(cfg.Executor)
	if executor == "" {
		executor = ExecutorCLI
	}
	switch executor {
	case ExecutorCLI, ExecutorMock, ExecutorNoop:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, cfg.Executor)
	}

	c := &Client{
		executor: executor,
		binary:   cfg.Binary,
		timeout:  cfg.Timeout,
		scrubber: cfg.Scrubber,
		logger:   cfg.Logger,
	}
	if c.binary == "" {
		c.binary = DefaultBinary
	}
	if c.scrubber == nil {
		c.scrubber = secrets.Noop{}
	}
	if c.logger == nil {
		c.logger = logging.Nop()
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// Invoke implements Invoker.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	sections, err := ReadContextFiles(ctx, req.ContextFiles)
	if err != nil {
		return nil, err
	}
	prompt := BuildPrompt(req.Feature, req.Metadata, sections, req.Prompt)

	if res := c.scrubber.Scrub(prompt); res.HasFindings() {
		c.logger.Warn(ctx, "redacted secrets from agent prompt",
			zap.String("agent", req.Agent),
			zap.Int("findings", len(res.Findings)),
			zap.Any("by_rule", res.ByRule))
		prompt = res.Scrubbed
	}

	switch c.executor {
	case ExecutorNoop:
		return &Response{Output: prompt, Prompt: prompt, Command: ExecutorNoop}, nil
	case ExecutorMock:
		out := fmt.Sprintf("# Mock response from %s\n\n%s", req.Agent, prompt)
		return &Response{Output: out, Prompt: prompt, Command: ExecutorMock}, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}
	}
	return c.runCLI(ctx, req.Agent, prompt)
}

func (c *Client) runCLI(ctx context.Context, agentName, prompt string) (*Response, error) {
	tmp, err := os.CreateTemp("", "spec-kit-*.md")
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(prompt); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write prompt file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close prompt file: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{"--agent", agentName, "--input-file", tmp.Name(), "--quiet"}
	command := c.binary + " " + strings.Join(args, " ")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	c.logger.Debug(ctx, "agent invocation finished",
		zap.String("agent", agentName),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &InvocationError{Agent: agentName, Err: ctxErr}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &InvocationError{Agent: agentName, Status: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, &InvocationError{Agent: agentName, Err: err}
	}

	return &Response{
		Output:  strings.TrimSpace(stdout.String()),
		Prompt:  prompt,
		Command: command,
	}, nil
}
