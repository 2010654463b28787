package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/internal/job"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/run"
	"github.com/ledgerline/ledgerline/internal/worker"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	db := opts.DB

	router.GET("/api/jobs", handleJobList(db))
	router.POST("/api/jobs", handleJobCreate(db))
	router.GET("/api/jobs/:id", handleJobDetail(db))
	router.POST("/api/jobs/:id/runs", handleRunCreate(db))

	router.GET("/api/runs/:id", handleRunDetail(db))
	router.GET("/api/runs/:id/events", handleRunEvents(db))
	router.POST("/api/runs/:id/submit", handleRunSubmit(opts))
	router.POST("/api/runs/:id/cancel", handleRunCancel(db))

	router.POST("/api/tasks/:id/completion", handleTaskCompletion(opts))

	if opts.Drive != nil {
		router.GET("/api/drive/auth", handleDriveAuth(opts))
	}
}

func handleDriveAuth(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := c.Query("state")
		if state == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "state is required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"auth_url": opts.Drive.AuthURL(state)})
	}
}

func handleJobList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		jobs, err := job.List(db, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

func handleJobCreate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id"`
			Name   string `json:"name"`
			Kind   string `json:"kind"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		j, err := job.Create(db, job.CreateOpts{UserID: req.UserID, Name: req.Name, Kind: req.Kind})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, j)
	}
}

func handleJobDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		j, err := job.Get(db, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		summary, err := RunStatusSummary(db, j.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"job": j, "runs": summary})
	}
}

func handleRunCreate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			CloneFromRunID string `json:"clone_from_run_id"`
			AppendResults  bool   `json:"append_results"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		r, err := job.CreateRun(db, c.Param("id"), job.CreateRunOpts{
			CloneFromRunID: req.CloneFromRunID,
			AppendResults:  req.AppendResults,
		})
		switch {
		case errors.Is(err, job.ErrAppendConflict):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusCreated, r)
		}
	}
}

func handleRunDetail(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var r models.Run
		if err := db.First(&r, "id = ?", c.Param("id")).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, runView(&r))
	}
}

func handleRunSubmit(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := run.Submit(opts.DB, c.Param("id"), run.SubmitOpts{
			Guard:      opts.Guard,
			Dispatcher: opts.Dispatcher,
		})
		switch {
		case errors.Is(err, run.ErrQuotaExceeded):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
		case errors.Is(err, run.ErrAlreadySubmitted), errors.Is(err, run.ErrInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, run.ErrNoTasks):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			var r models.Run
			opts.DB.First(&r, "id = ?", c.Param("id"))
			c.JSON(http.StatusOK, runView(&r))
		}
	}
}

func handleRunCancel(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := run.Cancel(db, c.Param("id"))
		switch {
		case errors.Is(err, run.ErrTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"status": models.RunCancelled})
		}
	}
}

func handleTaskCompletion(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Success      bool   `json:"success"`
			Rows         string `json:"rows"`
			ErrorMessage string `json:"error_message"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		outcome, err := worker.ReportResult(opts.DB, c.Param("id"),
			req.Rows, req.Success, req.ErrorMessage, opts.FinishHooks)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"duplicate":    outcome.Duplicate,
			"run_finished": outcome.Finished,
			"final_status": outcome.FinalStatus,
		})
	}
}

// runView shapes a run for API responses.
func runView(r *models.Run) gin.H {
	return gin.H{
		"id":              r.ID,
		"job_id":          r.JobID,
		"config_step":     r.ConfigStep,
		"status":          r.Status,
		"tasks_total":     r.TasksTotal,
		"tasks_completed": r.TasksCompleted,
		"tasks_failed":    r.TasksFailed,
		"progress":        run.Progress(r),
		"resumable":       run.IsResumable(r),
	}
}
