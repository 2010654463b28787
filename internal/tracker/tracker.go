// Package tracker folds asynchronous task-completion signals from external
// workers into run counters, detecting run completion exactly once.
package tracker

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ledgerline/ledgerline/internal/models"
	"gorm.io/gorm"
)

// FinishHook runs after a run's finishing transition. Invoked at most once
// per run, only by the caller that won the finishing compare-and-set. Hook
// failures are logged and isolated; they never unwind the counter update.
type FinishHook func(db *gorm.DB, run *models.Run) error

// CompletionOpts holds parameters for recording a task completion.
type CompletionOpts struct {
	// ErrorMessage is stored on the task for failed completions.
	ErrorMessage string

	// OnFinish hooks fire on the finishing transition only, never on
	// intermediate increments.
	OnFinish []FinishHook
}

// Outcome reports what a completion signal did.
type Outcome struct {
	// Duplicate is set when the task was already terminal: the signal was
	// delivered more than once and this delivery changed nothing.
	Duplicate bool

	// Finished is set when this signal completed the run.
	Finished bool

	// FinalStatus holds the run's terminal status when Finished is set.
	FinalStatus string
}

// RecordTaskCompletion records that a worker finished the task. Safe to call
// concurrently from any number of workers and against at-least-once queue
// delivery:
//
//  1. The task's own pending/processing → terminal transition is a
//     compare-and-set; only the first delivery passes, duplicates no-op.
//  2. The run counter moves by atomic arithmetic at the storage layer, never
//     an application-level read-modify-write.
//  3. The finishing branch is gated by a second compare-and-set on the run's
//     status, so two signals straddling the threshold can both see
//     completed+failed >= total yet only one performs the transition.
//     Cancelled counts as terminal there: late signals after a cancel still
//     update counters but never re-finish the run.
func RecordTaskCompletion(db *gorm.DB, taskID string, success bool, opts CompletionOpts) (*Outcome, error) {
	if taskID == "" {
		return nil, fmt.Errorf("tracker: taskID is required")
	}

	var task models.ExtractionTask
	if err := db.Where("id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("tracker: task not found: %s: %w", taskID, err)
		}
		return nil, fmt.Errorf("tracker: load task %s: %w", taskID, err)
	}

	outcome := &Outcome{}
	var finishedRun models.Run

	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		taskStatus := models.TaskCompleted
		if !success {
			taskStatus = models.TaskFailed
		}
		flip := tx.Model(&models.ExtractionTask{}).
			Where("id = ? AND status NOT IN ?", taskID,
				[]string{models.TaskCompleted, models.TaskFailed}).
			Updates(map[string]interface{}{
				"status":        taskStatus,
				"error_message": opts.ErrorMessage,
				"completed_at":  now,
			})
		if flip.Error != nil {
			return fmt.Errorf("tracker: flip task %s: %w", taskID, flip.Error)
		}
		if flip.RowsAffected == 0 {
			outcome.Duplicate = true
			return nil
		}

		counter := "tasks_completed"
		if !success {
			counter = "tasks_failed"
		}
		if err := tx.Model(&models.Run{}).Where("id = ?", task.RunID).Updates(map[string]interface{}{
			counter:         gorm.Expr(counter + " + 1"),
			"last_activity": now,
		}).Error; err != nil {
			return fmt.Errorf("tracker: increment %s for run %s: %w", counter, task.RunID, err)
		}

		var r models.Run
		if err := tx.Where("id = ?", task.RunID).First(&r).Error; err != nil {
			return fmt.Errorf("tracker: reload run %s: %w", task.RunID, err)
		}
		if r.TasksCompleted+r.TasksFailed < r.TasksTotal {
			return nil
		}

		final := finalStatus(&r)
		updates := map[string]interface{}{"status": final}
		if final == models.RunCompleted {
			updates["completed_at"] = now
		}
		gate := tx.Model(&models.Run{}).
			Where("id = ? AND status NOT IN ?", r.ID, models.TerminalRunStatuses).
			Updates(updates)
		if gate.Error != nil {
			return fmt.Errorf("tracker: finish run %s: %w", r.ID, gate.Error)
		}
		if gate.RowsAffected == 0 {
			// Another caller won the finishing transition, or the run was
			// cancelled; the increment above still stands.
			return nil
		}

		outcome.Finished = true
		outcome.FinalStatus = final
		finishedRun = r
		finishedRun.Status = final
		if final == models.RunCompleted {
			finishedRun.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome.Finished {
		for _, hook := range opts.OnFinish {
			if err := hook(db, &finishedRun); err != nil {
				log.Printf("tracker: finish hook for run %s: %v", finishedRun.ID, err)
			}
		}
	}
	return outcome, nil
}

// finalStatus derives the run's terminal status from its counters: completed
// when nothing failed, failed when nothing succeeded, partially_completed
// for any mix.
func finalStatus(r *models.Run) string {
	switch {
	case r.TasksFailed == 0:
		return models.RunCompleted
	case r.TasksCompleted == 0:
		return models.RunFailed
	default:
		return models.RunPartiallyCompleted
	}
}
