// Command backstop drives encrypted remote backups: a restic repository on
// S3-compatible storage, a gpg-encrypted repository password, and temporary
// host routes that keep backup traffic off an active VPN tunnel.
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

	"github.com/ivar/backstop/internal/backup"
	"github.com/ivar/backstop/internal/config"
	"github.com/ivar/backstop/internal/logging"
	"github.com/ivar/backstop/internal/netbypass"
	"github.com/ivar/backstop/internal/notify"
	"github.com/ivar/backstop/internal/restic"
	"github.com/ivar/backstop/internal/run"
	"github.com/ivar/backstop/internal/secret"
	"github.com/ivar/backstop/internal/sysexec"
)

var version = "dev" // set by the linker

var (
	cfgFile string

	app struct {
		cfg      *config.Config
		logger   zerolog.Logger
		runner   sysexec.Runner
		orc      *backup.Orchestrator
		notifier *notify.Notifier
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(sysexec.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "backstop",
		Short: "Encrypted remote backups that route around an active VPN",
		Long: `Backstop wraps the restic engine for a single-user machine. The
repository password lives gpg-encrypted next to the config, credentials
come from the environment, and when a VPN owns the default route the
backup traffic gets temporary host routes through the real gateway.`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ~/.config/backstop/config.yaml)")

	root.AddCommand(
		initCmd, installCmd,
		backupCmd, pruneCmd, unlockCmd,
		snapshotsCmd, statsCmd, checkCmd, journalCmd,
		restoreCmd, mountCmd,
	)
	return root
}

// setup builds the component graph every command runs against.
func setup() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, toolOut := logging.NewLogger(cfg, "backstop")
	runner := sysexec.NewSystem(logger)

	hosts := append([]string{}, cfg.BypassHosts...)
	if repo, ok := restic.RepoFromEnv(); ok {
		hosts = append(hosts, repo.Host)
	}
	bypass, err := netbypass.NewManager(logger, runner, cfg.TunnelPattern, hosts)
	if err != nil {
		return err
	}

	app.cfg = cfg
	app.logger = logger
	app.runner = runner
	app.notifier = notify.NewNotifier(logger, runner)
	app.orc = backup.NewOrchestrator(logger, cfg, runner,
		secret.NewProvider(logger, runner, cfg.SecretFile),
		bypass,
		restic.NewEngine(logger, runner, toolOut))
	return nil
}

// runOp wraps one operation with the run record and failure notification.
// A declined confirmation ends the run cleanly with a zero exit.
func runOp(cmd *cobra.Command, name string, op func(ctx context.Context) error) error {
	r := run.New(app.logger, name)
	err := op(cmd.Context())
	r.Finish(err)
	switch {
	case errors.Is(err, run.ErrAborted):
		fmt.Fprintln(os.Stderr, "aborted")
		return nil
	case err != nil:
		// Notification delivery must survive a cancelled run context.
		app.notifier.Failure(context.Background(), "backstop "+name+" failed", err.Error())
		return err
	}
	return nil
}
