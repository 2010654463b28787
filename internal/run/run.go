// Package run owns the lifecycle of a single extraction run: wizard
// progression, submission, cancellation, and derived progress.
package run

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/quota"
	"gorm.io/gorm"
)

// Submission failure reasons surfaced to the caller.
var (
	ErrAlreadySubmitted = errors.New("run already submitted")
	ErrInProgress       = errors.New("run already in progress")
	ErrNoTasks          = errors.New("no extraction tasks found")
	ErrQuotaExceeded    = errors.New("plan limit exceeded")
	ErrTerminal         = errors.New("run already in a terminal state")
)

// Dispatcher hands a task to the external worker pool. Fire-and-forget: the
// core never waits for execution.
type Dispatcher interface {
	EnqueueTask(taskID string) error
}

// stepIndex orders the wizard positions. Moves may only increase the index.
var stepIndex = map[string]int{
	models.StepUpload:    0,
	models.StepFields:    1,
	models.StepReview:    2,
	models.StepSubmitted: 3,
}

// AdvanceStep moves the run's wizard position forward. Backward moves and
// moves on submitted runs are rejected.
func AdvanceStep(db *gorm.DB, runID, next string) error {
	nextIdx, ok := stepIndex[next]
	if !ok {
		return fmt.Errorf("run: unknown wizard step %q", next)
	}

	var r models.Run
	if err := db.Where("id = ?", runID).First(&r).Error; err != nil {
		return fmt.Errorf("run: load %s: %w", runID, err)
	}
	if r.ConfigStep == models.StepSubmitted {
		return fmt.Errorf("run: advance %s: %w", runID, ErrAlreadySubmitted)
	}
	// A cancelled run keeps its wizard step; it must not be walked forward.
	if models.IsTerminalRunStatus(r.Status) {
		return fmt.Errorf("run: advance %s: %w", runID, ErrTerminal)
	}
	if nextIdx < stepIndex[r.ConfigStep] {
		return fmt.Errorf("run: cannot move %s back from %q to %q", runID, r.ConfigStep, next)
	}

	if err := db.Model(&models.Run{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"config_step":   next,
		"last_activity": time.Now(),
	}).Error; err != nil {
		return fmt.Errorf("run: advance %s: %w", runID, err)
	}
	return nil
}

// SubmitOpts holds collaborators for run submission.
type SubmitOpts struct {
	Guard      quota.Guard
	Dispatcher Dispatcher
}

// Submit transitions a configured run into processing: completed tasks from
// a prior pass are deleted, the remaining task set is validated non-empty,
// the quota guard is consulted, and the run atomically flips to
// submitted/in_progress with tasks_total fixed to the current task count.
// All pending tasks are then dispatched; enqueue failures are logged and do
// not roll back the transition.
func Submit(db *gorm.DB, runID string, opts SubmitOpts) error {
	if opts.Guard == nil {
		return fmt.Errorf("run: quota guard is required")
	}

	var r models.Run
	if err := db.Preload("Job").Where("id = ?", runID).First(&r).Error; err != nil {
		return fmt.Errorf("run: load %s: %w", runID, err)
	}
	if r.ConfigStep == models.StepSubmitted {
		return fmt.Errorf("run: submit %s: %w", runID, ErrAlreadySubmitted)
	}
	if r.Status == models.RunInProgress {
		return fmt.Errorf("run: submit %s: %w", runID, ErrInProgress)
	}
	// Cancellation before submission leaves the wizard step untouched; the
	// run stays dead regardless.
	if models.IsTerminalRunStatus(r.Status) {
		return fmt.Errorf("run: submit %s: %w", runID, ErrTerminal)
	}

	pages, err := ProjectedPages(db, runID)
	if err != nil {
		return err
	}
	ok, err := opts.Guard.CanProcess(db, r.Job.UserID, pages)
	if err != nil {
		return fmt.Errorf("run: quota check for %s: %w", runID, err)
	}
	if !ok {
		return fmt.Errorf("run: submit %s: %w", runID, ErrQuotaExceeded)
	}

	var taskIDs []string
	err = db.Transaction(func(tx *gorm.DB) error {
		// Completed tasks from a prior attempt at this run are replaced by
		// the re-run; pending ones are kept as planned.
		if err := deleteCompletedTasks(tx, runID); err != nil {
			return err
		}

		if err := tx.Model(&models.ExtractionTask{}).
			Where("run_id = ? AND status = ?", runID, models.TaskPending).
			Pluck("id", &taskIDs).Error; err != nil {
			return fmt.Errorf("run: list pending tasks for %s: %w", runID, err)
		}
		if len(taskIDs) == 0 {
			return fmt.Errorf("run: submit %s: %w", runID, ErrNoTasks)
		}

		if err := tx.Model(&models.Run{}).Where("id = ?", runID).Updates(map[string]interface{}{
			"config_step":     models.StepSubmitted,
			"status":          models.RunInProgress,
			"tasks_total":     len(taskIDs),
			"tasks_completed": 0,
			"tasks_failed":    0,
			"last_activity":   time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("run: submit %s: %w", runID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := quota.RecordUsage(db, r.Job.UserID, pages); err != nil {
		log.Printf("run: record usage for %s: %v", runID, err)
	}

	if opts.Dispatcher != nil {
		for _, taskID := range taskIDs {
			if err := opts.Dispatcher.EnqueueTask(taskID); err != nil {
				log.Printf("run: enqueue task %s: %v", taskID, err)
			}
		}
	}
	return nil
}

// Cancel soft-cancels a run from any non-terminal state. Data is kept; only
// the status flag flips. The compare-and-set keeps a cancel that races a
// finishing completion signal from overwriting the terminal status.
func Cancel(db *gorm.DB, runID string) error {
	result := db.Model(&models.Run{}).
		Where("id = ? AND status NOT IN ?", runID, models.TerminalRunStatuses).
		Updates(map[string]interface{}{
			"status":        models.RunCancelled,
			"last_activity": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("run: cancel %s: %w", runID, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&models.Run{}).Where("id = ?", runID).Count(&count).Error; err != nil {
			return fmt.Errorf("run: cancel %s: %w", runID, err)
		}
		if count == 0 {
			return fmt.Errorf("run: not found: %s", runID)
		}
		return fmt.Errorf("run: cancel %s: %w", runID, ErrTerminal)
	}
	return nil
}

// deleteCompletedTasks removes tasks that finished in a prior pass at this
// run, along with their file links and results.
func deleteCompletedTasks(tx *gorm.DB, runID string) error {
	var taskIDs []string
	if err := tx.Model(&models.ExtractionTask{}).
		Where("run_id = ? AND status = ?", runID, models.TaskCompleted).
		Pluck("id", &taskIDs).Error; err != nil {
		return fmt.Errorf("run: list completed tasks for %s: %w", runID, err)
	}
	if len(taskIDs) == 0 {
		return nil
	}
	if err := tx.Where("task_id IN ?", taskIDs).Delete(&models.ExtractionResult{}).Error; err != nil {
		return fmt.Errorf("run: delete results for %s: %w", runID, err)
	}
	if err := tx.Where("task_id IN ?", taskIDs).Delete(&models.TaskFile{}).Error; err != nil {
		return fmt.Errorf("run: delete task files for %s: %w", runID, err)
	}
	if err := tx.Where("id IN ?", taskIDs).Delete(&models.ExtractionTask{}).Error; err != nil {
		return fmt.Errorf("run: delete completed tasks for %s: %w", runID, err)
	}
	return nil
}

// ProjectedPages sums the page counts of the run's processable files. Files
// without a counted page count are projected as one page each.
func ProjectedPages(db *gorm.DB, runID string) (int, error) {
	var files []models.SourceFile
	if err := db.Where("run_id = ? AND status IN ?", runID,
		[]string{models.FileUploaded, models.FileReady}).
		Find(&files).Error; err != nil {
		return 0, fmt.Errorf("run: load files for %s: %w", runID, err)
	}

	pages := 0
	for _, f := range files {
		if f.PageCount != nil {
			pages += *f.PageCount
		} else {
			pages++
		}
	}
	return pages, nil
}
