package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/internal/config"
	"github.com/ledgerline/ledgerline/internal/db"
	"github.com/ledgerline/ledgerline/internal/job"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/run"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Job management commands",
	}

	cmd.AddCommand(newJobCreateCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobShowCmd())
	cmd.AddCommand(newJobDeleteCmd())
	return cmd
}

func newJobCreateCmd() *cobra.Command {
	var (
		configPath string
		name       string
		kind       string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new job",
		Long:  "Creates a job together with its first run, owned by the configured owner.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobCreate(cmd, configPath, name, kind)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	cmd.Flags().StringVar(&name, "name", "", "job name (required)")
	cmd.Flags().StringVar(&kind, "kind", models.JobKindExtraction, "job kind (extraction, tracker)")
	cmd.MarkFlagRequired("name")
	return cmd
}

func runJobCreate(cmd *cobra.Command, configPath, name, kind string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	j, err := job.Create(gormDB, job.CreateOpts{UserID: cfg.Owner, Name: name, Kind: kind})
	if err != nil {
		return err
	}

	first, err := job.Latest(gormDB, j.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created job %s\n", j.ID)
	fmt.Fprintf(out, "First run: %s (step %s)\n", first.ID, first.ConfigStep)
	return nil
}

func newJobListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	return cmd
}

func runJobList(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	jobs, err := job.List(gormDB, cfg.Owner)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.ID, j.Name, j.Kind,
			j.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func newJobShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	return cmd
}

func runJobShow(cmd *cobra.Command, configPath, jobID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	j, err := job.Get(gormDB, jobID)
	if err != nil {
		return err
	}

	var runs []models.Run
	if err := gormDB.Where("job_id = ?", j.ID).
		Order("created_at DESC, id DESC").Find(&runs).Error; err != nil {
		return fmt.Errorf("list runs of %s: %w", j.ID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:  %s\n", j.ID)
	fmt.Fprintf(out, "Name: %s\n", j.Name)
	fmt.Fprintf(out, "Kind: %s\n\n", j.Kind)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTEP\tSTATUS\tPROGRESS\tTASKS")
	for i := range runs {
		r := &runs[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d/%d\n",
			r.ID, r.ConfigStep, r.Status, run.Progress(r),
			r.TasksCompleted, r.TasksTotal)
	}
	return w.Flush()
}

func newJobDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobDelete(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	return cmd
}

func runJobDelete(cmd *cobra.Command, configPath, jobID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := job.Delete(gormDB, jobID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", jobID)
	return nil
}

// connectFromConfig loads config and returns a GORM DB connection.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database.User, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.Database.Database, err)
	}

	return cfg, gormDB, nil
}
