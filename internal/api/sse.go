package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/run"
)

// progressEvent holds data for a run progress SSE event.
type progressEvent struct {
	RunID          string  `json:"run_id"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	TasksTotal     int     `json:"tasks_total"`
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
}

// handleRunEvents streams run progress over SSE, polling until the run
// reaches a terminal status or the client disconnects.
func handleRunEvents(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		runID := c.Param("id")
		var r models.Run
		if err := db.First(&r, "id = ?", runID).Error; err != nil {
			writeSSE(c.Writer, "error", map[string]string{"error": "run not found"})
			c.Writer.Flush()
			return
		}

		last := emitProgress(c.Writer, &r)
		c.Writer.Flush()
		if models.IsTerminalRunStatus(r.Status) {
			return
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(2 * time.Second)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				var cur models.Run
				if err := db.First(&cur, "id = ?", runID).Error; err != nil {
					return
				}
				evt := progressEvent{
					RunID:          cur.ID,
					Status:         cur.Status,
					Progress:       run.Progress(&cur),
					TasksTotal:     cur.TasksTotal,
					TasksCompleted: cur.TasksCompleted,
					TasksFailed:    cur.TasksFailed,
				}
				if evt != last {
					writeSSE(c.Writer, "progress", evt)
					c.Writer.Flush()
					last = evt
				}
				if models.IsTerminalRunStatus(cur.Status) {
					return
				}
			}
		}
	}
}

func emitProgress(w http.ResponseWriter, r *models.Run) progressEvent {
	evt := progressEvent{
		RunID:          r.ID,
		Status:         r.Status,
		Progress:       run.Progress(r),
		TasksTotal:     r.TasksTotal,
		TasksCompleted: r.TasksCompleted,
		TasksFailed:    r.TasksFailed,
	}
	writeSSE(w, "progress", evt)
	return evt
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
