package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ivar/backstop/internal/config"
	"github.com/ivar/backstop/internal/sysinstall"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the encrypted secret and initialize the repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd, "init", func(ctx context.Context) error {
			return app.orc.Init(ctx, initForce)
		})
	},
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the systemd user timer and the polkit rule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd, "install", func(ctx context.Context) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			command := exe + " backup"
			if cfgFile != "" {
				command += " --config " + cfgFile
			}

			inst := sysinstall.NewInstaller(app.logger, app.runner)
			err = inst.Install(ctx, sysinstall.Unit{
				Name:        "backstop",
				Description: "backstop remote backup",
				Command:     command,
				Interval:    app.cfg.BackupInterval,
			})
			if err != nil {
				return err
			}
			fmt.Printf("backstop.timer enabled, runs every %s\n", app.cfg.BackupInterval)

			rulePath, err := inst.WritePolkitRule(
				filepath.Dir(config.DefaultPath()),
				sysinstall.PolkitRule{Account: app.cfg.RouteAccount},
			)
			if err != nil {
				return err
			}
			fmt.Printf(`polkit rule written to %s
The rules directory is root-owned; activate the rule with:

  sudo install -m 644 %s /etc/polkit-1/rules.d/

Remote credentials are read from the systemd user environment:

  systemctl --user import-environment RESTIC_REPOSITORY AWS_ACCESS_KEY_ID AWS_SECRET_ACCESS_KEY
`, rulePath, rulePath)
			return nil
		})
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false,
		"regenerate an existing secret (snapshots made with the old one become unreadable)")
}
