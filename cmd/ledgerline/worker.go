package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/ledgerline/internal/dispatcher"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/tracker"
	"github.com/ledgerline/ledgerline/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		configPath string
		workerID   string
		once       bool
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a local extraction worker loop",
		Long: `Claims pending tasks and reports results. The built-in extractor is a
loopback that emits one row per input file; real extraction backends
report over the completion API instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath, workerID, once, interval)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	cmd.Flags().StringVar(&workerID, "id", "local-1", "worker identifier")
	cmd.Flags().BoolVar(&once, "once", false, "process a single task and exit")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval when the pool is drained")
	return cmd
}

func runWorker(cmd *cobra.Command, configPath, workerID string, once bool, interval time.Duration) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	d := dispatcher.New(dispatcher.LogEnqueuer{})
	hooks := []tracker.FinishHook{d.RunFinished}
	ex := loopbackExtractor{}

	for {
		outcome, err := worker.ProcessOne(gormDB, workerID, ex, hooks)
		if errors.Is(err, worker.ErrNoPendingTasks) {
			if once {
				fmt.Fprintln(out, "No pending tasks.")
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return nil
			case <-time.After(interval):
			}
			continue
		}
		if err != nil {
			return err
		}
		if outcome.Finished {
			fmt.Fprintf(out, "Run finished: %s\n", outcome.FinalStatus)
		}
		if once {
			return nil
		}
	}
}

// loopbackExtractor emits one placeholder row per input file. It exists so
// the full pipeline can be exercised without an extraction backend.
type loopbackExtractor struct{}

func (loopbackExtractor) Extract(task *models.ExtractionTask, files []models.SourceFile, fields []models.RunField) (string, error) {
	rows := make([]map[string]string, 0, len(files))
	for _, f := range files {
		row := map[string]string{"source_path": f.Path}
		for _, field := range fields {
			row[field.Name] = ""
		}
		rows = append(rows, row)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("marshal rows for task %s: %w", task.ID, err)
	}
	return string(data), nil
}
