package phases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// TestRunner runs the post-task test command in dir.
type TestRunner func(ctx context.Context, dir, command string) error

// TestCommandError reports a failing test command.
type TestCommandError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *TestCommandError) Error() string {
	return fmt.Sprintf("test command %q failed with exit code %d", e.Command, e.ExitCode)
}

// ShellTestRunner runs command through sh -c.
func ShellTestRunner(ctx context.Context, dir, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &TestCommandError{
			Command:  command,
			ExitCode: exitErr.ExitCode(),
			Output:   strings.TrimSpace(out.String()),
		}
	}
	return fmt.Errorf("failed to run test command %q: %w", command, err)
}
