// Package backup orchestrates engine runs against the remote repository:
// tool and credential preflight, secret recovery, vpn bypass, destination
// probe, then the engine operation itself.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ivar/backstop/internal/config"
	"github.com/ivar/backstop/internal/netbypass"
	"github.com/ivar/backstop/internal/restic"
	"github.com/ivar/backstop/internal/run"
	"github.com/ivar/backstop/internal/secret"
	"github.com/ivar/backstop/internal/sysexec"
)

// Orchestrator sequences one backstop operation end to end.
type Orchestrator struct {
	logger  zerolog.Logger
	cfg     *config.Config
	runner  sysexec.Runner
	secrets *secret.Provider
	bypass  *netbypass.Manager
	engine  *restic.Engine

	out     io.Writer
	confirm func(prompt string) error
}

// NewOrchestrator wires an Orchestrator from its parts. Output goes to
// stdout and confirmations to the terminal.
func NewOrchestrator(logger zerolog.Logger, cfg *config.Config, runner sysexec.Runner,
	secrets *secret.Provider, bypass *netbypass.Manager, engine *restic.Engine) *Orchestrator {
	return &Orchestrator{
		logger:  logger.With().Str("component", "backup").Logger(),
		cfg:     cfg,
		runner:  runner,
		secrets: secrets,
		bypass:  bypass,
		engine:  engine,
		out:     os.Stdout,
		confirm: func(prompt string) error {
			return run.Confirm(os.Stdin, os.Stderr, prompt)
		},
	}
}

func (o *Orchestrator) checkTools() error {
	for _, tool := range []string{"restic", "gpg"} {
		if _, err := o.runner.Look(tool); err != nil {
			return err
		}
	}
	return nil
}

// preflight verifies tools and credentials before any external call and
// recovers the repository password.
func (o *Orchestrator) preflight(ctx context.Context) (string, error) {
	if err := o.checkTools(); err != nil {
		return "", err
	}
	if err := restic.CheckEnv(); err != nil {
		fmt.Fprintln(o.out, restic.SetupInstructions())
		return "", err
	}
	return o.secrets.Decrypt(ctx)
}

// remote runs op with the bypass engaged and the destination probed. The
// bypass is released before remote returns, whatever op does.
func (o *Orchestrator) remote(ctx context.Context, op func(ctx context.Context, password string) error) error {
	password, err := o.preflight(ctx)
	if err != nil {
		return err
	}
	bypass := o.bypass.Engage(ctx)
	defer bypass.Release()
	if err := o.engine.ProbeRemote(ctx); err != nil {
		return err
	}
	return op(ctx, password)
}

// Init provisions the repository: create the encrypted secret when absent,
// prove it decrypts, then initialize the remote repository with it. force
// regenerates an existing secret after an explicit confirmation.
func (o *Orchestrator) Init(ctx context.Context, force bool) error {
	if err := o.checkTools(); err != nil {
		return err
	}
	if err := restic.CheckEnv(); err != nil {
		fmt.Fprintln(o.out, restic.SetupInstructions())
		return err
	}

	switch {
	case o.secrets.Exists() && !force:
		o.logger.Info().Str("path", o.secrets.Path()).Msg("reusing existing secret")
	default:
		if o.secrets.Exists() {
			prompt := fmt.Sprintf("Overwrite %s? Snapshots made with the old secret become unreadable", o.secrets.Path())
			if err := o.confirm(prompt); err != nil {
				return err
			}
		}
		if err := o.secrets.Create(ctx, o.cfg.GPGRecipient, force); err != nil {
			return err
		}
	}

	// Round-trip through gpg so a bad recipient key surfaces now, not at
	// the first scheduled backup.
	password, err := o.secrets.Decrypt(ctx)
	if err != nil {
		return err
	}

	bypass := o.bypass.Engage(ctx)
	defer bypass.Release()
	if err := o.engine.ProbeRemote(ctx); err != nil {
		return err
	}
	if err := o.engine.Init(ctx, password); err != nil {
		return fmt.Errorf("repository init: %w", err)
	}
	fmt.Fprintf(o.out, "repository initialized, secret at %s\n", o.secrets.Path())
	return nil
}

// Backup snapshots the configured sources.
func (o *Orchestrator) Backup(ctx context.Context) error {
	return o.remote(ctx, func(ctx context.Context, password string) error {
		return o.engine.Backup(ctx, password, restic.BackupOptions{
			Sources:     o.cfg.Sources,
			ExcludeFile: o.cfg.ExcludeFile,
			Tag:         o.cfg.Tag,
		})
	})
}

// Prune applies the retention policy and drops unreferenced data.
func (o *Orchestrator) Prune(ctx context.Context) error {
	return o.remote(ctx, func(ctx context.Context, password string) error {
		return o.engine.Forget(ctx, password, o.cfg.Retention)
	})
}

// Check verifies repository integrity.
func (o *Orchestrator) Check(ctx context.Context) error {
	return o.remote(ctx, o.engine.Check)
}

// Stats prints repository statistics.
func (o *Orchestrator) Stats(ctx context.Context) error {
	return o.remote(ctx, o.engine.Stats)
}

// Unlock clears stale repository locks left by interrupted runs.
func (o *Orchestrator) Unlock(ctx context.Context) error {
	return o.remote(ctx, o.engine.Unlock)
}

// Snapshots prints the snapshot table.
func (o *Orchestrator) Snapshots(ctx context.Context) error {
	return o.remote(ctx, func(ctx context.Context, password string) error {
		snaps, err := o.engine.Snapshots(ctx, password)
		if err != nil {
			return err
		}
		o.printSnapshots(snaps)
		return nil
	})
}

func (o *Orchestrator) printSnapshots(snaps []restic.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(o.out, "repository holds no snapshots")
		return
	}
	fmt.Fprintf(o.out, "%-10s %-17s %-14s %-16s %s\n", "ID", "TIME", "HOST", "TAGS", "PATHS")
	for _, s := range snaps {
		fmt.Fprintf(o.out, "%-10s %-17s %-14s %-16s %s\n",
			s.ShortID,
			s.Time.Local().Format("2006-01-02 15:04"),
			s.Hostname,
			strings.Join(s.Tags, ","),
			strings.Join(s.Paths, " "),
		)
	}
	fmt.Fprintf(o.out, "%d snapshots\n", len(snaps))
}

// RestoreOptions scope one restore run. Zero values mean the latest
// snapshot and the configured restore directory.
type RestoreOptions struct {
	SnapshotID string
	Target     string
	Yes        bool
}

// Restore extracts a snapshot into the target directory. It asks for
// confirmation first unless opts.Yes is set.
func (o *Orchestrator) Restore(ctx context.Context, opts RestoreOptions) error {
	if opts.SnapshotID == "" {
		opts.SnapshotID = "latest"
	}
	if opts.Target == "" {
		opts.Target = o.cfg.RestoreDir
	}
	if !opts.Yes {
		prompt := fmt.Sprintf("Restore snapshot %s into %s?", opts.SnapshotID, opts.Target)
		if err := o.confirm(prompt); err != nil {
			return err
		}
	}
	return o.remote(ctx, func(ctx context.Context, password string) error {
		return o.engine.Restore(ctx, password, opts.SnapshotID, opts.Target)
	})
}

// Mount exposes the repository at mountpoint until interrupted. An empty
// mountpoint means the configured mount directory.
func (o *Orchestrator) Mount(ctx context.Context, mountpoint string) error {
	if mountpoint == "" {
		mountpoint = o.cfg.MountDir
	}
	return o.remote(ctx, func(ctx context.Context, password string) error {
		return o.engine.Mount(ctx, password, mountpoint)
	})
}
