// Package agent is the boundary to the external AI agent process: it turns a
// prompt plus context files into Markdown text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Executor names.
const (
	ExecutorCLI  = "cli"
	ExecutorMock = "mock"
	ExecutorNoop = "noop"
)

// ErrUnknownExecutor is returned by New for an unsupported executor.
var ErrUnknownExecutor = errors.New("unknown agent executor")

// ContextFile is a file whose content is embedded in the prompt.
type ContextFile struct {
	Path     string
	Label    string
	Optional bool
}

// Request describes one agent call.
type Request struct {
	Agent        string
	Feature      string
	Prompt       string
	ContextFiles []ContextFile
	Metadata     map[string]string
}

// Response is the agent output.
type Response struct {
	Output string
	// Prompt is the full prompt that was sent.
	Prompt string
	// Command identifies how the agent was run.
	Command string
}

// Invoker runs agents.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (*Response, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// InvocationError reports a failed agent run.
type InvocationError struct {
	Agent  string
	Status int
	Stderr string
	Err    error
}

func (e *InvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s invocation failed: %v", e.Agent, e.Err)
	}
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		stderr = "unknown error"
	}
	return fmt.Sprintf("Agent invocation failed (%d): %s", e.Status, stderr)
}

func (e *InvocationError) Unwrap() error { return e.Err }
