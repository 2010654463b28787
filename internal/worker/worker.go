// Package worker is the boundary to the extraction worker pool: task
// queueing, claiming, and result reporting.
package worker

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ledgerline/ledgerline/internal/ids"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/tracker"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoPendingTasks is returned by Claim when the pool has nothing to do.
var ErrNoPendingTasks = errors.New("no pending tasks")

// Extractor is the opaque AI extraction call: files plus field config in,
// structured rows (JSON array) out.
type Extractor interface {
	Extract(task *models.ExtractionTask, files []models.SourceFile, fields []models.RunField) (string, error)
}

// Queue is an in-process task queue satisfying the run.Dispatcher contract.
// Production deployments put a real broker here; the semantics the core
// relies on (fire-and-forget, at-least-once) are the same.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue buffering up to size task IDs.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan string, size)}
}

// EnqueueTask queues a task for the worker pool without blocking.
func (q *Queue) EnqueueTask(taskID string) error {
	select {
	case q.ch <- taskID:
		return nil
	default:
		return fmt.Errorf("worker: queue full, task %s not enqueued", taskID)
	}
}

// Tasks exposes the consumption side of the queue.
func (q *Queue) Tasks() <-chan string {
	return q.ch
}

// LogDispatcher logs enqueue requests instead of queueing. Used by CLI
// flows that dispatch to an external broker out of band.
type LogDispatcher struct{}

// EnqueueTask logs the dispatch.
func (LogDispatcher) EnqueueTask(taskID string) error {
	log.Printf("worker: dispatch task %s", taskID)
	return nil
}

// Claim atomically takes the oldest pending task for a worker, flipping it
// to processing. It uses SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// workers never claim the same task.
func Claim(db *gorm.DB, workerID string) (*models.ExtractionTask, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker: workerID is required")
	}

	var claimed models.ExtractionTask
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("status = ?", models.TaskPending).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("created_at ASC, id ASC").
			Limit(1).
			Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("worker: find pending task: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNoPendingTasks
		}

		now := time.Now()
		if err := tx.Model(&models.ExtractionTask{}).Where("id = ?", claimed.ID).Updates(map[string]interface{}{
			"status":     models.TaskProcessing,
			"claimed_at": now,
		}).Error; err != nil {
			return fmt.Errorf("worker: claim task %s: %w", claimed.ID, err)
		}
		claimed.Status = models.TaskProcessing
		claimed.ClaimedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// ReportResult records a worker's outcome for a task. The extraction result
// is persisted before the completion signal goes through the tracker's dedup
// gate, so when this delivery finishes the run the finish hooks already see
// the full result set. A row written for a delivery the gate rejects is
// removed again.
func ReportResult(db *gorm.DB, taskID string, rowsJSON string, success bool, errMsg string, hooks []tracker.FinishHook) (*tracker.Outcome, error) {
	var createdID string
	if success {
		resultID, err := ids.Unique(db, &models.ExtractionResult{}, ids.ResultPrefix)
		if err != nil {
			return nil, err
		}
		// The task_id unique index absorbs redelivered signals whose first
		// delivery already persisted a row.
		create := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ExtractionResult{
			ID:     resultID,
			TaskID: taskID,
			Rows:   rowsJSON,
		})
		if create.Error != nil {
			return nil, fmt.Errorf("worker: persist result for task %s: %w", taskID, create.Error)
		}
		if create.RowsAffected > 0 {
			createdID = resultID
		}
	}

	outcome, err := tracker.RecordTaskCompletion(db, taskID, success, tracker.CompletionOpts{
		ErrorMessage: errMsg,
		OnFinish:     hooks,
	})
	if err != nil || outcome.Duplicate {
		if createdID != "" {
			if delErr := db.Delete(&models.ExtractionResult{}, "id = ?", createdID).Error; delErr != nil {
				log.Printf("worker: remove stale result %s for task %s: %v", createdID, taskID, delErr)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

// ProcessOne claims a task, runs the extractor over its files and field
// configuration, and reports the outcome. Returns ErrNoPendingTasks when
// the pool is drained.
func ProcessOne(db *gorm.DB, workerID string, ex Extractor, hooks []tracker.FinishHook) (*tracker.Outcome, error) {
	task, err := Claim(db, workerID)
	if err != nil {
		return nil, err
	}

	files, fields, err := taskInputs(db, task)
	if err != nil {
		return nil, err
	}

	rows, exErr := ex.Extract(task, files, fields)
	if exErr != nil {
		return ReportResult(db, task.ID, "", false, exErr.Error(), hooks)
	}
	return ReportResult(db, task.ID, rows, true, "", hooks)
}

// taskInputs loads the task's member files and its run's field snapshot.
func taskInputs(db *gorm.DB, task *models.ExtractionTask) ([]models.SourceFile, []models.RunField, error) {
	var fileIDs []string
	if err := db.Model(&models.TaskFile{}).Where("task_id = ?", task.ID).
		Pluck("file_id", &fileIDs).Error; err != nil {
		return nil, nil, fmt.Errorf("worker: list files of task %s: %w", task.ID, err)
	}
	var files []models.SourceFile
	if len(fileIDs) > 0 {
		if err := db.Where("id IN ?", fileIDs).Order("path ASC").Find(&files).Error; err != nil {
			return nil, nil, fmt.Errorf("worker: load files of task %s: %w", task.ID, err)
		}
	}

	var fields []models.RunField
	if err := db.Where("run_id = ?", task.RunID).Order("display_order ASC, id ASC").
		Find(&fields).Error; err != nil {
		return nil, nil, fmt.Errorf("worker: load fields of run %s: %w", task.RunID, err)
	}
	return files, fields, nil
}
