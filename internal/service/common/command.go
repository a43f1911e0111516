//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/oshokin/super-release/internal/logger"
)

// Command describes one external process invocation.
type Command struct {
	// Name is the executable looked up in PATH.
	Name string
	// Args are passed verbatim; no shell expansion happens unless Name is a shell.
	Args []string
	// Dir is the working directory; the current one when empty.
	Dir string
	// Env holds KEY=VALUE pairs appended to the inherited environment.
	Env []string
	// Secrets are masked whenever the command is rendered for logs.
	Secrets []string
}

// String renders the command line with secrets masked.
func (c Command) String() string {
	rendered := strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
	for _, secret := range c.Secrets {
		if secret != "" {
			rendered = strings.ReplaceAll(rendered, secret, "***")
		}
	}

	return rendered
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) error

// Run calls f(ctx, cmd).
func (f RunnerFunc) Run(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// exitCodeNotFound mirrors the shell status for a missing executable.
const exitCodeNotFound = 127

// ExitError reports a command that could not run or exited non-zero.
type ExitError struct {
	// Command is the rendered (masked) command line.
	Command string
	// Code is the exit status to propagate to the caller's process.
	Code int
	// Err is the underlying exec error.
	Err error
}

// Error implements error.
func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Command, e.Code)
}

// Unwrap exposes the exec error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error to a process exit status: 0 for nil, the command's
// status for ExitError and 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}

	return 1
}

// ExecRunner runs commands with os/exec, streaming their output.
type ExecRunner struct {
	// Stdout receives the command's standard output.
	Stdout io.Writer
	// Stderr receives the command's standard error.
	Stderr io.Writer
}

// NewExecRunner returns a runner attached to the process' stdout and stderr.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the command and waits for it.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	logger.InfoKV(ctx, "Running command", "command", c.String(), "dir", c.Dir)

	//nolint:gosec // Running build toolchains is the purpose of this runner.
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Command: c.String(), Code: exitErr.ExitCode(), Err: err}
	}

	if errors.Is(err, exec.ErrNotFound) {
		return &ExitError{Command: c.String(), Code: exitCodeNotFound, Err: err}
	}

	return fmt.Errorf("run %s: %w", c.Name, err)
}

// RunChain runs the commands in order and stops at the first failure.
func RunChain(ctx context.Context, runner Runner, commands ...Command) error {
	for _, c := range commands {
		if err := runner.Run(ctx, c); err != nil {
			return err
		}
	}

	return nil
}
