package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerline/ledgerline/internal/job"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/planner"
	"github.com/ledgerline/ledgerline/internal/quota"
	"github.com/ledgerline/ledgerline/internal/run"
	"github.com/ledgerline/ledgerline/internal/worker"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run lifecycle commands",
	}

	cmd.AddCommand(newRunNewCmd())
	cmd.AddCommand(newRunStepCmd())
	cmd.AddCommand(newRunPlanCmd())
	cmd.AddCommand(newRunSubmitCmd())
	cmd.AddCommand(newRunCancelCmd())
	cmd.AddCommand(newRunStatusCmd())
	return cmd
}

func newRunNewCmd() *cobra.Command {
	var (
		configPath string
		cloneFrom  string
		appendTo   bool
	)

	cmd := &cobra.Command{
		Use:   "new <job-id>",
		Short: "Start a new run under a job",
		Long: `Starts a new run, cloning the field configuration from the job's latest
run (or --clone-from). With --append the new run's results continue the
source run's output; only one append run per source is ever created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunNew(cmd, configPath, args[0], cloneFrom, appendTo)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	cmd.Flags().StringVar(&cloneFrom, "clone-from", "", "run ID to clone field configuration from")
	cmd.Flags().BoolVar(&appendTo, "append", false, "append results to the clone source run")
	return cmd
}

func runRunNew(cmd *cobra.Command, configPath, jobID, cloneFrom string, appendTo bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	r, err := job.CreateRun(gormDB, jobID, job.CreateRunOpts{
		CloneFromRunID: cloneFrom,
		AppendResults:  appendTo,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created run %s (step %s)\n", r.ID, r.ConfigStep)
	if r.AppendFromRunID != nil {
		fmt.Fprintf(out, "Appending results to run %s\n", *r.AppendFromRunID)
	}
	return nil
}

func newRunStepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "step <run-id> <upload|fields|review>",
		Short: "Advance the run's configuration step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunStep(cmd, configPath, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	return cmd
}

func runRunStep(cmd *cobra.Command, configPath, runID, step string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := run.AdvanceStep(gormDB, runID, step); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s advanced to %s\n", runID, step)
	return nil
}

func newRunPlanCmd() *cobra.Command {
	var (
		configPath   string
		modes        []string
		hierarchical bool
		replan       bool
	)

	cmd := &cobra.Command{
		Use:   "plan <run-id>",
		Short: "Plan extraction tasks from the run's files",
		Long: `Replaces the run's task set from its processable files and the folder
mode mapping. Modes are given as folder=mode pairs, e.g. "/=individual"
or "invoices=combined".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunPlan(cmd, configPath, args[0], modes, hierarchical, replan)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	cmd.Flags().StringArrayVar(&modes, "mode", nil, "folder=mode pair (repeatable)")
	cmd.Flags().BoolVar(&hierarchical, "hierarchical", false, "match folder modes by prefix")
	cmd.Flags().BoolVar(&replan, "replan", false, "allow replanning a submitted run")
	return cmd
}

func runRunPlan(cmd *cobra.Command, configPath, runID string, modes []string, hierarchical, replan bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	modeMap := make(map[string]string, len(modes))
	for _, m := range modes {
		folder, mode, ok := strings.Cut(m, "=")
		if !ok {
			return fmt.Errorf("invalid --mode %q, want folder=mode", m)
		}
		modeMap[folder] = mode
	}

	res, err := planner.Plan(gormDB, runID, planner.PlanOpts{
		Modes:        modeMap,
		Hierarchical: hierarchical,
		AllowReplan:  replan,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Planned %d tasks for run %s\n", res.TasksCreated, runID)
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

func newRunSubmitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "submit <run-id>",
		Short: "Submit the run for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunSubmit(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	return cmd
}

func runRunSubmit(cmd *cobra.Command, configPath, runID string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	err = run.Submit(gormDB, runID, run.SubmitOpts{
		Guard:      quota.PlanGuard{DefaultPageLimit: cfg.Quota.DefaultPageLimit},
		Dispatcher: worker.LogDispatcher{},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s submitted\n", runID)
	return nil
}

func newRunCancelCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunCancel(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	return cmd
}

func runRunCancel(cmd *cobra.Command, configPath, runID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := run.Cancel(gormDB, runID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s cancelled\n", runID)
	return nil
}

func newRunStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunStatus(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	return cmd
}

func runRunStatus(cmd *cobra.Command, configPath, runID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var r models.Run
	if err := gormDB.First(&r, "id = ?", runID).Error; err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", r.ID)
	fmt.Fprintf(out, "Job:      %s\n", r.JobID)
	fmt.Fprintf(out, "Step:     %s\n", r.ConfigStep)
	fmt.Fprintf(out, "Status:   %s\n", r.Status)
	fmt.Fprintf(out, "Progress: %.0f%%\n", run.Progress(&r))
	fmt.Fprintf(out, "Tasks:    %d completed, %d failed of %d\n",
		r.TasksCompleted, r.TasksFailed, r.TasksTotal)
	if r.AppendFromRunID != nil {
		fmt.Fprintf(out, "Appends:  %s\n", *r.AppendFromRunID)
	}
	return nil
}
