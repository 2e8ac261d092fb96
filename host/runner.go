// Package host adapts the managed machine: its package manager, service
// manager, filesystem and kernel tuning knobs.
package host

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

// Command is an external command invocation.
type Command struct {
	Name string
	Args []string
	// Env is appended to the inherited environment.
	Env []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner runs external commands and returns their combined output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExitError is returned when a command ran and exited non-zero. Output
// holds what it printed.
type ExitError struct {
	Command string
	Code    int
	Output  []byte
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("error running %q: exit status %d: %q", e.Command, e.Code, bytes.TrimSpace(e.Output))
}

// ExitOutput returns the output of a command that exited non-zero, and
// false for any other error.
func ExitOutput(err error) ([]byte, bool) {
	exitErr, ok := errors.Cause(err).(*ExitError)
	if !ok {
		return nil, false
	}
	return exitErr.Output, true
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Logger log15.Logger
}

func (r *ExecRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	if r.Logger != nil {
		r.Logger.Debug("running command", "cmd", c.String())
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return out, &ExitError{Command: c.String(), Code: exitErr.ExitCode(), Output: out}
		}
		return out, errors.Wrapf(err, "error running %q", c.String())
	}
	return out, nil
}
