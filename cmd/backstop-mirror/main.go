// Command backstop-mirror keeps fast local copies of the working tree on
// one or more attached volumes with rsync. It complements backstop: the
// remote repository survives disasters, the mirror makes yesterday's file
// a ten-second copy away.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ivar/backstop/internal/config"
	"github.com/ivar/backstop/internal/logging"
	"github.com/ivar/backstop/internal/mirror"
	"github.com/ivar/backstop/internal/notify"
	"github.com/ivar/backstop/internal/run"
	"github.com/ivar/backstop/internal/sysexec"
	"github.com/ivar/backstop/internal/sysinstall"
)

var version = "dev" // set by the linker

var flags struct {
	cfgFile     string
	restore     bool
	restoreFrom string
	del         bool
	dryRun      bool
	status      bool
	journal     bool
	install     bool
	lines       int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(sysexec.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "backstop-mirror",
		Short: "Mirror the working tree to attached volumes with rsync",
		Long: `Without flags, backstop-mirror syncs the configured source to every
destination that is currently available, mounting labelled removable
volumes on demand. Unavailable destinations are skipped; the run fails
only when no destination can be reached at all.`,
		Version:       version,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return dispatch(cmd)
		},
	}

	root.Flags().StringVar(&flags.cfgFile, "config", "",
		"config file (default ~/.config/backstop/config.yaml)")
	root.Flags().BoolVar(&flags.restore, "restore", false,
		"copy the mirror back over the source")
	root.Flags().StringVar(&flags.restoreFrom, "restore-from", "",
		"restore from this destination (implies --restore)")
	root.Flags().BoolVar(&flags.del, "delete", false,
		"with --restore, also remove files the mirror does not have")
	root.Flags().BoolVar(&flags.dryRun, "dry-run", false,
		"show what a mirror run would transfer")
	root.Flags().BoolVar(&flags.status, "status", false,
		"list destinations with availability and capacity")
	root.Flags().BoolVar(&flags.journal, "journal", false,
		"show recent mirror runs")
	root.Flags().BoolVar(&flags.install, "install", false,
		"install the systemd user timer")
	root.Flags().IntVarP(&flags.lines, "lines", "n", 50,
		"number of journal entries to show")

	root.MarkFlagsMutuallyExclusive("restore", "status", "journal", "install", "dry-run")
	root.MarkFlagsMutuallyExclusive("restore-from", "status", "journal", "install", "dry-run")
	return root
}

func dispatch(cmd *cobra.Command) error {
	cfg, err := config.Load(flags.cfgFile)
	if err != nil {
		return err
	}
	logger, toolOut := logging.NewLogger(cfg, "backstop-mirror")
	runner := sysexec.NewSystem(logger)
	mgr := mirror.NewManager(logger, runner, cfg, toolOut)
	ctx := cmd.Context()

	switch {
	case flags.journal:
		return run.Journal(ctx, runner, os.Stdout,
			"backstop-mirror.service", logging.LogFile(cfg, "backstop-mirror"), flags.lines)
	case flags.status:
		mgr.Status(ctx, os.Stdout)
		return nil
	case flags.install:
		return install(ctx, logger, runner, cfg)
	case flags.restore || flags.restoreFrom != "":
		return restoreRun(ctx, logger, cfg, mgr)
	default:
		return mirrorRun(ctx, logger, runner, mgr)
	}
}

func mirrorRun(ctx context.Context, logger zerolog.Logger, runner sysexec.Runner, mgr *mirror.Manager) error {
	r := run.New(logger, "mirror")
	err := mgr.RunAll(ctx, flags.dryRun)
	r.Finish(err)

	notifier := notify.NewNotifier(logger, runner)
	if err != nil {
		notifier.Failure(context.Background(), "backstop-mirror failed", err.Error())
		return err
	}
	if !flags.dryRun {
		notifier.Success(context.Background(), "backstop-mirror", "mirror completed")
	}
	return nil
}

func restoreRun(ctx context.Context, logger zerolog.Logger, cfg *config.Config, mgr *mirror.Manager) error {
	r := run.New(logger, "mirror-restore")
	err := func() error {
		if flags.del {
			prompt := fmt.Sprintf("Restore into %s INCLUDING deletions? Files missing from the mirror are removed", cfg.MirrorSource)
			if err := run.Confirm(os.Stdin, os.Stderr, prompt); err != nil {
				return err
			}
		}
		return mgr.Restore(ctx, flags.restoreFrom, flags.del)
	}()
	r.Finish(err)

	if errors.Is(err, run.ErrAborted) {
		fmt.Fprintln(os.Stderr, "aborted")
		return nil
	}
	return err
}

func install(ctx context.Context, logger zerolog.Logger, runner sysexec.Runner, cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	command := exe
	if flags.cfgFile != "" {
		command += " --config " + flags.cfgFile
	}

	inst := sysinstall.NewInstaller(logger, runner)
	err = inst.Install(ctx, sysinstall.Unit{
		Name:        "backstop-mirror",
		Description: "backstop local mirror",
		Command:     command,
		Interval:    cfg.MirrorInterval,
	})
	if err != nil {
		return err
	}
	fmt.Printf("backstop-mirror.timer enabled, runs every %s\n", cfg.MirrorInterval)
	return nil
}
