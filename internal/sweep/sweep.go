// Package sweep hard-deletes abandoned runs on a cron schedule.
package sweep

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/ledgerline/ledgerline/internal/models"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Opts configures a sweep pass.
type Opts struct {
	MaxAge time.Duration // inactivity window before an unsubmitted run is abandoned
	DryRun bool          // report candidates without deleting
}

// Result summarizes one sweep pass.
type Result struct {
	Candidates []string // run IDs considered abandoned
	Deleted    int
}

// Run deletes runs that were never submitted and have been inactive past
// the window. A job's only run is kept so the job stays openable, and
// cancelled runs are kept as the user's explicit record.
func Run(db *gorm.DB, opts Opts) (*Result, error) {
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("sweep: max age must be positive")
	}
	cutoff := time.Now().Add(-opts.MaxAge)

	var stale []models.Run
	if err := db.Where("config_step <> ? AND status <> ? AND last_activity < ?",
		models.StepSubmitted, models.RunCancelled, cutoff).
		Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("sweep: list stale runs: %w", err)
	}

	res := &Result{}
	for _, r := range stale {
		var siblings int64
		if err := db.Model(&models.Run{}).Where("job_id = ? AND id <> ?", r.JobID, r.ID).
			Count(&siblings).Error; err != nil {
			return nil, fmt.Errorf("sweep: count runs of job %s: %w", r.JobID, err)
		}
		if siblings == 0 {
			continue
		}
		res.Candidates = append(res.Candidates, r.ID)
		if opts.DryRun {
			continue
		}
		if err := deleteRun(db, r.ID); err != nil {
			return nil, err
		}
		res.Deleted++
	}
	return res, nil
}

// deleteRun removes a run and its dependent rows in one transaction.
func deleteRun(db *gorm.DB, runID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var taskIDs []string
		if err := tx.Model(&models.ExtractionTask{}).Where("run_id = ?", runID).
			Pluck("id", &taskIDs).Error; err != nil {
			return fmt.Errorf("sweep: list tasks of run %s: %w", runID, err)
		}
		if len(taskIDs) > 0 {
			if err := tx.Where("task_id IN ?", taskIDs).Delete(&models.ExtractionResult{}).Error; err != nil {
				return fmt.Errorf("sweep: delete results of run %s: %w", runID, err)
			}
			if err := tx.Where("task_id IN ?", taskIDs).Delete(&models.TaskFile{}).Error; err != nil {
				return fmt.Errorf("sweep: delete task files of run %s: %w", runID, err)
			}
		}
		for _, m := range []interface{}{
			&models.ExtractionTask{}, &models.SourceFile{}, &models.RunField{},
			&models.AutomationRun{},
		} {
			if err := tx.Where("run_id = ?", runID).Delete(m).Error; err != nil {
				return fmt.Errorf("sweep: delete dependents of run %s: %w", runID, err)
			}
		}
		if err := tx.Delete(&models.Run{}, "id = ?", runID).Error; err != nil {
			return fmt.Errorf("sweep: delete run %s: %w", runID, err)
		}
		return nil
	})
}

// Scheduler runs sweeps on a 5-field cron schedule until stopped.
type Scheduler struct {
	db     *gorm.DB
	sched  cron.Schedule
	maxAge time.Duration
	stop   chan struct{}
}

// NewScheduler parses the cron expression and prepares a scheduler.
func NewScheduler(db *gorm.DB, expr string, maxAge time.Duration) (*Scheduler, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("sweep: parse schedule %q: %w", expr, err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("sweep: max age must be positive")
	}
	return &Scheduler{db: db, sched: sched, maxAge: maxAge, stop: make(chan struct{})}, nil
}

// Start blocks, sweeping at each scheduled fire time until Stop is called.
func (s *Scheduler) Start() {
	for {
		next := s.sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			res, err := Run(s.db, Opts{MaxAge: s.maxAge})
			if err != nil {
				log.Printf("sweep: pass failed: %v", err)
				continue
			}
			if res.Deleted > 0 {
				log.Printf("sweep: deleted %d abandoned runs", res.Deleted)
			}
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

// Stop ends the scheduler loop.
func (s *Scheduler) Stop() {
	close(s.stop)
}
