// Package dispatcher fires downstream automation effects when a run
// finishes: export enqueueing and automation-run bookkeeping.
package dispatcher

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ledgerline/ledgerline/internal/models"
	"gorm.io/gorm"
)

// ExportEnqueuer hands a completed run to the external export pipeline.
type ExportEnqueuer interface {
	EnqueueExport(runID, destinationConfig string) error
}

// LogEnqueuer is an ExportEnqueuer that only logs. Used when no export
// pipeline is wired, and in local development.
type LogEnqueuer struct{}

// EnqueueExport logs the export request.
func (LogEnqueuer) EnqueueExport(runID, destinationConfig string) error {
	log.Printf("dispatcher: export requested for run %s", runID)
	return nil
}

// Dispatcher decides what downstream effect a finished run triggers.
type Dispatcher struct {
	Exports ExportEnqueuer
}

// New returns a dispatcher using the given export pipeline, defaulting to
// LogEnqueuer when nil.
func New(exports ExportEnqueuer) *Dispatcher {
	if exports == nil {
		exports = LogEnqueuer{}
	}
	return &Dispatcher{Exports: exports}
}

// RunFinished handles a run's finishing transition. Runs that did not finish
// as completed, and runs without an automation, are no-ops. With an export
// destination configured the automation-run stays running until the export
// pipeline reports back; without one it completes immediately. Enqueue
// failures are recorded against the automation-run and never surface into
// the run's own terminal state.
func (d *Dispatcher) RunFinished(db *gorm.DB, r *models.Run) error {
	if r.Status != models.RunCompleted {
		return nil
	}

	var auto models.Automation
	err := db.Where("job_id = ? AND active = ?", r.JobID, true).First(&auto).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatcher: load automation for job %s: %w", r.JobID, err)
	}

	autoRun, err := ensureAutomationRun(db, auto.ID, r.ID)
	if err != nil {
		return err
	}

	if auto.ExportConfig == "" {
		now := time.Now()
		if err := db.Model(&models.AutomationRun{}).Where("id = ?", autoRun.ID).
			Updates(map[string]interface{}{
				"status":       models.AutomationCompleted,
				"completed_at": now,
			}).Error; err != nil {
			return fmt.Errorf("dispatcher: complete automation run %d: %w", autoRun.ID, err)
		}
		return nil
	}

	if err := d.Exports.EnqueueExport(r.ID, auto.ExportConfig); err != nil {
		if uerr := db.Model(&models.AutomationRun{}).Where("id = ?", autoRun.ID).
			Updates(map[string]interface{}{
				"status":        models.AutomationFailed,
				"error_message": err.Error(),
			}).Error; uerr != nil {
			return fmt.Errorf("dispatcher: record export failure for run %s: %w", r.ID, uerr)
		}
		return fmt.Errorf("dispatcher: enqueue export for run %s: %w", r.ID, err)
	}
	// Export enqueued: the automation-run stays running until the export
	// pipeline reports completion.
	return nil
}

// MarkExportCompleted is called by the export pipeline when a run's export
// delivery finishes, closing out the automation-run.
func MarkExportCompleted(db *gorm.DB, runID string) error {
	now := time.Now()
	result := db.Model(&models.AutomationRun{}).
		Where("run_id = ? AND status = ?", runID, models.AutomationRunning).
		Updates(map[string]interface{}{
			"status":       models.AutomationCompleted,
			"completed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("dispatcher: mark export completed for run %s: %w", runID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("dispatcher: no running automation run for %s", runID)
	}
	return nil
}

// ensureAutomationRun finds the automation-run tracking this run, creating
// one when the run was triggered outside the automation scheduler.
func ensureAutomationRun(db *gorm.DB, automationID, runID string) (*models.AutomationRun, error) {
	var ar models.AutomationRun
	err := db.Where("automation_id = ? AND run_id = ?", automationID, runID).First(&ar).Error
	if err == nil {
		return &ar, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("dispatcher: load automation run for %s: %w", runID, err)
	}

	ar = models.AutomationRun{
		AutomationID: automationID,
		RunID:        &runID,
		Status:       models.AutomationRunning,
	}
	if err := db.Create(&ar).Error; err != nil {
		return nil, fmt.Errorf("dispatcher: create automation run for %s: %w", runID, err)
	}
	return &ar, nil
}
