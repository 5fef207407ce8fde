package main

import (
	"context"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the configured sources into the repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd, "backup", func(ctx context.Context) error {
			if err := app.orc.Backup(ctx); err != nil {
				return err
			}
			app.notifier.Success(context.Background(), "backstop backup", "snapshot completed")
			return nil
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy and drop unreferenced data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd, "prune", func(ctx context.Context) error {
			return app.orc.Prune(ctx)
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Clear stale repository locks left by interrupted runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd, "unlock", func(ctx context.Context) error {
			return app.orc.Unlock(ctx)
		})
	},
}
