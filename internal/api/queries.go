package api

import (
	"github.com/ledgerline/ledgerline/internal/models"
	"gorm.io/gorm"
)

// RunStatusCount holds per-status run counts for a job.
type RunStatusCount struct {
	Pending            int `json:"pending"`
	InProgress         int `json:"in_progress"`
	PartiallyCompleted int `json:"partially_completed"`
	Completed          int `json:"completed"`
	Failed             int `json:"failed"`
	Cancelled          int `json:"cancelled"`
	Total              int `json:"total"`
}

// RunStatusSummary returns the job's run counts grouped by status.
func RunStatusSummary(db *gorm.DB, jobID string) (*RunStatusCount, error) {
	type row struct {
		Status string
		Count  int
	}
	var rows []row
	if err := db.Model(&models.Run{}).
		Select("status, count(*) as count").
		Where("job_id = ?", jobID).
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	summary := &RunStatusCount{}
	for _, r := range rows {
		summary.Total += r.Count
		switch r.Status {
		case models.RunPending:
			summary.Pending += r.Count
		case models.RunInProgress:
			summary.InProgress += r.Count
		case models.RunPartiallyCompleted:
			summary.PartiallyCompleted += r.Count
		case models.RunCompleted:
			summary.Completed += r.Count
		case models.RunFailed:
			summary.Failed += r.Count
		case models.RunCancelled:
			summary.Cancelled += r.Count
		}
	}
	return summary, nil
}
