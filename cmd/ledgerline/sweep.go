package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/ledgerline/internal/sweep"
)

func newSweepCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
		daemon     bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete abandoned runs past the retention window",
		Long: `Hard-deletes runs that were never submitted and have been inactive past
retention.max_age. A job's only run and cancelled runs are kept. With
--daemon the sweep repeats on the configured cron schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath, dryRun, daemon)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report candidates without deleting")
	cmd.Flags().BoolVar(&daemon, "daemon", false, "keep running on the configured schedule")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string, dryRun, daemon bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	maxAge, err := time.ParseDuration(cfg.Retention.MaxAge)
	if err != nil {
		return fmt.Errorf("parse retention.max_age %q: %w", cfg.Retention.MaxAge, err)
	}

	out := cmd.OutOrStdout()

	if daemon {
		if dryRun {
			return fmt.Errorf("--dry-run and --daemon are mutually exclusive")
		}
		s, err := sweep.NewScheduler(gormDB, cfg.Retention.Schedule, maxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Sweeping on schedule %q (max age %s)\n", cfg.Retention.Schedule, maxAge)
		s.Start()
		return nil
	}

	res, err := sweep.Run(gormDB, sweep.Opts{MaxAge: maxAge, DryRun: dryRun})
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(out, "Would delete %d abandoned runs:\n", len(res.Candidates))
		for _, id := range res.Candidates {
			fmt.Fprintf(out, "  %s\n", id)
		}
		return nil
	}
	fmt.Fprintf(out, "Deleted %d abandoned runs\n", res.Deleted)
	return nil
}
