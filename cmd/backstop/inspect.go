package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ivar/backstop/internal/logging"
	"github.com/ivar/backstop/internal/run"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List repository snapshots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd, "snapshots", func(ctx context.Context) error {
			return app.orc.Snapshots(ctx)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show repository size statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd, "stats", func(ctx context.Context) error {
			return app.orc.Stats(ctx)
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify repository integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOp(cmd, "check", func(ctx context.Context) error {
			return app.orc.Check(ctx)
		})
	},
}

var journalLines int

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent backup runs from the user journal or the log file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run.Journal(cmd.Context(), app.runner, os.Stdout,
			"backstop.service", logging.LogFile(app.cfg, "backstop"), journalLines)
	},
}

func init() {
	journalCmd.Flags().IntVarP(&journalLines, "lines", "n", 50, "number of entries to show")
}
