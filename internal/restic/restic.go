// Package restic wraps the backup engine binary. Every invocation uses a
// fixed flag set; the repository password reaches the engine through its
// environment and never through argv.
package restic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivar/backstop/internal/config"
	"github.com/ivar/backstop/internal/sysexec"
)

// ErrMissingCredential marks a required environment value that is unset.
var ErrMissingCredential = errors.New("missing credential")

// requiredEnv are the values every remote operation needs before any
// external tool runs.
var requiredEnv = []string{"RESTIC_REPOSITORY", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"}

// CheckEnv verifies the remote-repository environment is complete.
func CheckEnv() error {
	var missing []string
	for _, key := range requiredEnv {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

// SetupInstructions explains how to provide the remote-repository
// environment; printed alongside ErrMissingCredential.
func SetupInstructions() string {
	return `The remote repository is configured through the environment:

  export RESTIC_REPOSITORY='s3:https://<endpoint>/<bucket>'
  export AWS_ACCESS_KEY_ID='<access key>'
  export AWS_SECRET_ACCESS_KEY='<secret key>'

Put these in the systemd user environment (systemctl --user set-environment)
or an EnvironmentFile when running from the installed timer.`
}

// Snapshot is one entry of `snapshots --json`.
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Username string    `json:"username"`
	Paths    []string  `json:"paths"`
	Tags     []string  `json:"tags"`
}

// Engine invokes the restic binary.
type Engine struct {
	logger zerolog.Logger
	runner sysexec.Runner
	out    io.Writer
}

// NewEngine creates an Engine streaming tool output to out.
func NewEngine(logger zerolog.Logger, runner sysexec.Runner, out io.Writer) *Engine {
	return &Engine{
		logger: logger.With().Str("component", "restic").Logger(),
		runner: runner,
		out:    out,
	}
}

func (e *Engine) run(ctx context.Context, password string, args ...string) error {
	err := e.runner.Run(ctx, sysexec.Cmd{
		Name:   "restic",
		Args:   args,
		Env:    []string{"RESTIC_PASSWORD=" + password},
		Stdout: e.out,
		Stderr: e.out,
	})
	if err != nil {
		return fmt.Errorf("restic %s: %w", args[0], err)
	}
	return nil
}

// Init initializes the remote repository.
func (e *Engine) Init(ctx context.Context, password string) error {
	return e.run(ctx, password, "init")
}

// BackupOptions scope one backup invocation.
type BackupOptions struct {
	Sources     []string
	ExcludeFile string
	Tag         string
}

// Backup snapshots the sources. The exclude file is passed through only
// when it exists so a fresh install works before one is written.
func (e *Engine) Backup(ctx context.Context, password string, opts BackupOptions) error {
	args := []string{"backup", "--one-file-system", "--tag", opts.Tag}
	if opts.ExcludeFile != "" {
		if _, err := os.Stat(opts.ExcludeFile); err == nil {
			args = append(args, "--exclude-file", opts.ExcludeFile)
		}
	}
	args = append(args, opts.Sources...)
	return e.run(ctx, password, args...)
}

// Forget applies the retention policy and prunes unreferenced data.
func (e *Engine) Forget(ctx context.Context, password string, r config.Retention) error {
	return e.run(ctx, password, "forget", "--prune",
		"--keep-daily", strconv.Itoa(r.Daily),
		"--keep-weekly", strconv.Itoa(r.Weekly),
		"--keep-monthly", strconv.Itoa(r.Monthly),
		"--keep-yearly", strconv.Itoa(r.Yearly),
	)
}

// Check verifies repository integrity.
func (e *Engine) Check(ctx context.Context, password string) error {
	return e.run(ctx, password, "check")
}

// Stats prints repository statistics.
func (e *Engine) Stats(ctx context.Context, password string) error {
	return e.run(ctx, password, "stats")
}

// Unlock clears stale repository locks. The engine treats a lock-free
// repository as success, which keeps this idempotent.
func (e *Engine) Unlock(ctx context.Context, password string) error {
	return e.run(ctx, password, "unlock")
}

// Snapshots lists repository snapshots.
func (e *Engine) Snapshots(ctx context.Context, password string) ([]Snapshot, error) {
	out, err := e.runner.Output(ctx, sysexec.Cmd{
		Name: "restic",
		Args: []string{"snapshots", "--json"},
		Env:  []string{"RESTIC_PASSWORD=" + password},
	})
	if err != nil {
		return nil, fmt.Errorf("restic snapshots: %w", err)
	}
	var snaps []Snapshot
	if err := json.Unmarshal(out, &snaps); err != nil {
		return nil, fmt.Errorf("parse snapshots: %w", err)
	}
	return snaps, nil
}

// Restore extracts snapshotID into target.
func (e *Engine) Restore(ctx context.Context, password, snapshotID, target string) error {
	if err := os.MkdirAll(target, 0o700); err != nil {
		return fmt.Errorf("create restore target: %w", err)
	}
	return e.run(ctx, password, "restore", snapshotID, "--target", target)
}

// Mount exposes the repository as a filesystem at mountpoint. Blocks until
// the engine is unmounted or the run is interrupted.
func (e *Engine) Mount(ctx context.Context, password, mountpoint string) error {
	if err := os.MkdirAll(mountpoint, 0o700); err != nil {
		return fmt.Errorf("create mountpoint: %w", err)
	}
	e.logger.Info().Str("mountpoint", mountpoint).Msg("mounting repository, ctrl-c to unmount")
	return e.run(ctx, password, "mount", mountpoint)
}
