// Package api exposes the Ledgerline JSON API: run lifecycle, task
// completion signals, and a progress event stream.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/internal/ingest/drive"
	"github.com/ledgerline/ledgerline/internal/quota"
	"github.com/ledgerline/ledgerline/internal/run"
	"github.com/ledgerline/ledgerline/internal/tracker"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB   *gorm.DB
	Port int
	Out  io.Writer

	// Guard checks page quota on submit. Defaults to quota.AllowAll.
	Guard quota.Guard

	// Dispatcher receives task IDs on submit. Nil means tasks wait for
	// pull-based workers.
	Dispatcher run.Dispatcher

	// FinishHooks fire when a completion signal finishes a run.
	FinishHooks []tracker.FinishHook

	// Drive enables the Google Drive OAuth endpoints when set.
	Drive *drive.Connector
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.Guard == nil {
		opts.Guard = quota.AllowAll{}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, opts)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
