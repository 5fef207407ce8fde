package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ivar/backstop/internal/backup"
)

var restoreOpts struct {
	target string
	yes    bool
}

var restoreCmd = &cobra.Command{
	Use:   "restore [snapshot-id]",
	Short: "Extract a snapshot into the restore directory",
	Long: `Extract a snapshot into a separate directory, never over the live
files. Without a snapshot id the latest one is restored.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, "restore", func(ctx context.Context) error {
			opts := backup.RestoreOptions{Target: restoreOpts.target, Yes: restoreOpts.yes}
			if len(args) == 1 {
				opts.SnapshotID = args[0]
			}
			return app.orc.Restore(ctx, opts)
		})
	},
}

var mountCmd = &cobra.Command{
	Use:   "mount [dir]",
	Short: "Mount the repository as a read-only filesystem",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp(cmd, "mount", func(ctx context.Context) error {
			var dir string
			if len(args) == 1 {
				dir = args[0]
			}
			return app.orc.Mount(ctx, dir)
		})
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreOpts.target, "target", "",
		"restore into this directory instead of restore_dir")
	restoreCmd.Flags().BoolVar(&restoreOpts.yes, "yes", false,
		"skip the confirmation prompt")
}
