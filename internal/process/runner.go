// Package process runs external commands for complyscan.
// Commands are always executed from a structured argument list and never
// through a shell, so profile ids and paths cannot be reinterpreted.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command describes one external program invocation.
type Command struct {
	Name string
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string
}

// String renders the command for logging.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Output   string
}

//go:generate mockgen -source=runner.go -destination=mocks/mock_runner.go -package=mocks

// Runner executes commands. A non-zero exit code is reported in Result and
// is not an error; err is only set when the command could not be run.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes cmd and captures combined stdout and stderr.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Name == "" {
		return Result{ExitCode: -1}, fmt.Errorf("empty command")
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...) //nolint:gosec // argv is built by callers from trusted inputs
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	err := c.Run()
	if err == nil {
		return Result{ExitCode: 0, Output: out.String()}, nil
	}

	if ctx.Err() != nil {
		return Result{ExitCode: -1, Output: out.String()}, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{ExitCode: exitCode(exitErr), Output: out.String()}, nil
	}
	return Result{ExitCode: -1, Output: out.String()}, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
}
