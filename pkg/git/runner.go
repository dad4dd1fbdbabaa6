package git

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	felerrors "thoreinstein.com/fel/pkg/errors"
)

// CommandRunner abstracts command execution so repository operations can be
// tested without a real git binary.
type CommandRunner interface {
	// Run executes a command and discards its output.
	Run(ctx context.Context, dir string, name string, args ...string) error
	// Output executes a command and returns its stdout. On failure the
	// stdout captured so far is still returned alongside the error.
	Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
	// OutputWithInput is Output with stdin and extra environment variables.
	OutputWithInput(ctx context.Context, dir string, input Input, name string, args ...string) ([]byte, error)
}

// Input carries stdin and environment overrides for a command.
type Input struct {
	Stdin string
	Env   []string
}

// ExitError is returned by a CommandRunner when the command ran but exited
// with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return fmt.Sprintf("exit status %d: %s", e.Code, s)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// RealCommandRunner executes commands with os/exec.
type RealCommandRunner struct {
	Verbose bool
	Logger  *slog.Logger
}

// Run implements CommandRunner.
func (r *RealCommandRunner) Run(ctx context.Context, dir string, name string, args ...string) error {
	_, err := r.OutputWithInput(ctx, dir, Input{}, name, args...)
	return err
}

// Output implements CommandRunner.
func (r *RealCommandRunner) Output(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	return r.OutputWithInput(ctx, dir, Input{}, name, args...)
}

// OutputWithInput implements CommandRunner.
func (r *RealCommandRunner) OutputWithInput(ctx context.Context, dir string, input Input, name string, args ...string) ([]byte, error) {
	if r.Verbose {
		r.logger().Debug("exec", "dir", dir, "cmd", name, "args", strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(input.Env) > 0 {
		cmd.Env = append(os.Environ(), input.Env...)
	}
	if input.Stdin != "" {
		cmd.Stdin = strings.NewReader(input.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if felerrors.As(err, &exitErr) && ctx.Err() == nil {
			return stdout.Bytes(), &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		if ctx.Err() != nil {
			return stdout.Bytes(), felerrors.Wrapf(ctx.Err(), "%s %s", name, firstArg(args))
		}
		return stdout.Bytes(), felerrors.Wrapf(err, "failed to run %s", name)
	}
	return stdout.Bytes(), nil
}

func (r *RealCommandRunner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// exitCode returns the exit status carried by err, or -1.
func exitCode(err error) int {
	var exitErr *ExitError
	if felerrors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

func stderrOf(err error) string {
	var exitErr *ExitError
	if felerrors.As(err, &exitErr) {
		return exitErr.Stderr
	}
	return ""
}
