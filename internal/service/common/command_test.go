//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errTestStep = errors.New("step failed")

// TestCommand_String masks secrets and trims empty argument lists.
func TestCommand_String(t *testing.T) {
	t.Parallel()

	c := Command{
		Name:    "sh",
		Args:    []string{"-c", "upload -t s3cr3t"},
		Secrets: []string{"s3cr3t", ""},
	}
	require.Equal(t, "sh -c upload -t ***", c.String())
	require.Equal(t, "cargo", Command{Name: "cargo"}.String())
}

// TestExecRunner_Success captures stdout of a successful command.
func TestExecRunner_Success(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer

	r := &ExecRunner{Stdout: &stdout, Stderr: &stderr}

	err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo $SUPER_RELEASE_TEST"},
		Env:  []string{"SUPER_RELEASE_TEST=hello"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello\n", stdout.String())
}

// TestExecRunner_ExitStatus propagates a non-zero exit status.
func TestExecRunner_ExitStatus(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	r := &ExecRunner{Stdout: &out, Stderr: &out}

	err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 3"}})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.Code)
	require.Equal(t, 3, ExitCode(fmt.Errorf("wrapped: %w", err)))
}

// TestExecRunner_NotFound maps a missing executable to status 127.
func TestExecRunner_NotFound(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	r := &ExecRunner{Stdout: &out, Stderr: &out}

	err := r.Run(context.Background(), Command{Name: "super-release-definitely-missing-tool"})
	require.Equal(t, exitCodeNotFound, ExitCode(err))
}

// TestExitCode covers nil and generic errors.
func TestExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(errTestStep))
}

// TestRunChain_StopsAtFirstFailure verifies fail-fast semantics.
func TestRunChain_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	var ran []string

	runner := RunnerFunc(func(_ context.Context, c Command) error {
		ran = append(ran, c.Name)
		if c.Name == "second" {
			return errTestStep
		}

		return nil
	})

	err := RunChain(context.Background(), runner,
		Command{Name: "first"},
		Command{Name: "second"},
		Command{Name: "third"},
	)
	require.ErrorIs(t, err, errTestStep)
	require.Equal(t, []string{"first", "second"}, ran)
}
