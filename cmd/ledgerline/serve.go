package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/internal/api"
	"github.com/ledgerline/ledgerline/internal/config"
	"github.com/ledgerline/ledgerline/internal/dispatcher"
	"github.com/ledgerline/ledgerline/internal/ingest/drive"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/notify"
	notifydiscord "github.com/ledgerline/ledgerline/internal/notify/discord"
	notifyslack "github.com/ledgerline/ledgerline/internal/notify/slack"
	"github.com/ledgerline/ledgerline/internal/quota"
	"github.com/ledgerline/ledgerline/internal/tracker"
	"github.com/ledgerline/ledgerline/internal/worker"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Ledgerline API server",
		Long: `Starts the HTTP API with the full pipeline wired in: quota guard on
submit, run-finish export dispatch, and chat notifications.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ledgerline.yaml", "path to Ledgerline config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port <= 0 {
		port = cfg.Server.Port
	}

	hooks := buildFinishHooks(cfg)

	var connector *drive.Connector
	if cfg.Drive.ClientID != "" {
		connector, err = drive.New(cfg.Drive.ClientID, cfg.Drive.ClientSecret, cfg.Drive.RedirectURL)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return api.Start(ctx, api.StartOpts{
		DB:          gormDB,
		Port:        port,
		Out:         cmd.OutOrStdout(),
		Guard:       quota.PlanGuard{DefaultPageLimit: cfg.Quota.DefaultPageLimit},
		Dispatcher:  worker.LogDispatcher{},
		FinishHooks: hooks,
		Drive:       connector,
	})
}

// buildFinishHooks assembles the run-finish pipeline from config: export
// dispatch first, then chat announcements.
func buildFinishHooks(cfg *config.Config) []tracker.FinishHook {
	d := dispatcher.New(dispatcher.LogEnqueuer{})
	hooks := []tracker.FinishHook{d.RunFinished}

	var backends []notify.Notifier
	if cfg.Notify.Slack.BotToken != "" {
		n, err := notifyslack.New(notifyslack.Opts{
			BotToken:  cfg.Notify.Slack.BotToken,
			ChannelID: cfg.Notify.Slack.ChannelID,
		})
		if err != nil {
			log.Printf("serve: slack notifier disabled: %v", err)
		} else {
			backends = append(backends, n)
		}
	}
	if cfg.Notify.Discord.BotToken != "" {
		n, err := notifydiscord.New(notifydiscord.Opts{
			BotToken:  cfg.Notify.Discord.BotToken,
			ChannelID: cfg.Notify.Discord.ChannelID,
		})
		if err != nil {
			log.Printf("serve: discord notifier disabled: %v", err)
		} else {
			backends = append(backends, n)
		}
	}
	if len(backends) == 0 {
		return hooks
	}

	multi := notify.NewMulti(backends...)
	hooks = append(hooks, func(db *gorm.DB, r *models.Run) error {
		var j models.Job
		if err := db.First(&j, "id = ?", r.JobID).Error; err != nil {
			return fmt.Errorf("load job %s: %w", r.JobID, err)
		}
		return multi.RunFinished(&j, r)
	})
	return hooks
}
