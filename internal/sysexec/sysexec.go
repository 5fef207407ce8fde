// Package sysexec runs the external tools the orchestrators delegate to.
// Everything flows through the Runner interface so tests can substitute a
// scripted fake for the real process table.
package sysexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
)

// ErrMissingDependency marks a required external tool that is not installed.
var ErrMissingDependency = errors.New("missing dependency")

// Cmd describes one external tool invocation. Env entries are appended to
// the inherited environment; secrets ride in Env, never in Args.
type Cmd struct {
	Name   string
	Args   []string
	Env    []string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Line renders the invocation as a shell-quoted command line for logging.
// Env is deliberately excluded.
func (c Cmd) Line() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Runner abstracts process execution. Look resolves a tool name to a path,
// Run executes with streaming output, Output executes and captures stdout.
type Runner interface {
	Look(name string) (string, error)
	Run(ctx context.Context, c Cmd) error
	Output(ctx context.Context, c Cmd) ([]byte, error)
}

// System is the Runner backed by os/exec.
type System struct {
	logger zerolog.Logger
}

// NewSystem creates a System runner.
func NewSystem(logger zerolog.Logger) *System {
	return &System{
		logger: logger.With().Str("component", "sysexec").Logger(),
	}
}

// Look resolves name via PATH and wraps absence in ErrMissingDependency.
func (s *System) Look(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not installed", ErrMissingDependency, name)
	}
	return path, nil
}

// Run executes the command, streaming output to the writers in c.
func (s *System) Run(ctx context.Context, c Cmd) error {
	cmd := s.build(ctx, c)
	s.logger.Debug().Str("cmd", c.Line()).Msg("executing")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	return nil
}

// Output executes the command and returns its stdout. Stderr is captured
// separately and embedded in the returned error on nonzero exit.
func (s *System) Output(ctx context.Context, c Cmd) ([]byte, error) {
	cmd := s.build(ctx, c)
	s.logger.Debug().Str("cmd", c.Line()).Msg("executing")
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s: %s: %w", c.Name, strings.TrimSpace(string(exitErr.Stderr)), err)
		}
		return out, fmt.Errorf("%s: %w", c.Name, err)
	}
	return out, nil
}

func (s *System) build(ctx context.Context, c Cmd) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	return cmd
}

// ExitCode extracts the child exit status carried by err: 0 for nil, the
// child's own code for process failures, 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
