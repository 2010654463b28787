// Package job provides the job aggregate: the ordered set of runs belonging
// to a named unit of recurring extraction work.
package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/ledgerline/ledgerline/internal/ids"
	"github.com/ledgerline/ledgerline/internal/models"
	"gorm.io/gorm"
)

// ErrAppendConflict is returned when a second append-run is chained off the
// same source run. Expected under concurrent automation triggers: the loser
// of the race receives this, the winner proceeds.
var ErrAppendConflict = errors.New("append run already exists for source run")

// CreateOpts holds parameters for creating a new job.
type CreateOpts struct {
	UserID string
	Name   string
	Kind   string // extraction (default) or tracker
}

// Create creates a job together with its first run, so a job always has at
// least one run.
func Create(db *gorm.DB, opts CreateOpts) (*models.Job, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("job: userID is required")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("job: name is required")
	}
	if opts.Kind == "" {
		opts.Kind = models.JobKindExtraction
	}
	if opts.Kind != models.JobKindExtraction && opts.Kind != models.JobKindTracker {
		return nil, fmt.Errorf("job: unknown kind %q", opts.Kind)
	}

	var j models.Job
	err := db.Transaction(func(tx *gorm.DB) error {
		jobID, err := ids.Unique(tx, &models.Job{}, ids.JobPrefix)
		if err != nil {
			return err
		}
		j = models.Job{
			ID:     jobID,
			UserID: opts.UserID,
			Name:   opts.Name,
			Kind:   opts.Kind,
		}
		if err := tx.Create(&j).Error; err != nil {
			return fmt.Errorf("job: create: %w", err)
		}

		runID, err := ids.Unique(tx, &models.Run{}, ids.RunPrefix)
		if err != nil {
			return err
		}
		first := models.Run{
			ID:           runID,
			JobID:        jobID,
			ConfigStep:   models.StepUpload,
			Status:       models.RunPending,
			PersistData:  true,
			LastActivity: time.Now(),
		}
		if err := tx.Create(&first).Error; err != nil {
			return fmt.Errorf("job: create first run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Get retrieves a job by ID.
func Get(db *gorm.DB, id string) (*models.Job, error) {
	var j models.Job
	if err := db.Where("id = ?", id).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job: not found: %s", id)
		}
		return nil, fmt.Errorf("job: get %s: %w", id, err)
	}
	return &j, nil
}

// List returns a user's jobs, newest first.
func List(db *gorm.DB, userID string) ([]models.Job, error) {
	var jobs []models.Job
	if err := db.Where("user_id = ?", userID).Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("job: list for %s: %w", userID, err)
	}
	return jobs, nil
}

// Rename changes a job's display name, the only mutable job attribute.
func Rename(db *gorm.DB, id, name string) error {
	if name == "" {
		return fmt.Errorf("job: name is required")
	}
	result := db.Model(&models.Job{}).Where("id = ?", id).Update("name", name)
	if result.Error != nil {
		return fmt.Errorf("job: rename %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("job: not found: %s", id)
	}
	return nil
}

// Delete removes a job and everything under it: runs, field snapshots,
// files, tasks, results, and automations.
func Delete(db *gorm.DB, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var runIDs []string
		if err := tx.Model(&models.Run{}).Where("job_id = ?", id).Pluck("id", &runIDs).Error; err != nil {
			return fmt.Errorf("job: list runs of %s: %w", id, err)
		}

		if len(runIDs) > 0 {
			var taskIDs []string
			if err := tx.Model(&models.ExtractionTask{}).Where("run_id IN ?", runIDs).
				Pluck("id", &taskIDs).Error; err != nil {
				return fmt.Errorf("job: list tasks of %s: %w", id, err)
			}
			if len(taskIDs) > 0 {
				if err := tx.Where("task_id IN ?", taskIDs).Delete(&models.ExtractionResult{}).Error; err != nil {
					return fmt.Errorf("job: delete results of %s: %w", id, err)
				}
				if err := tx.Where("task_id IN ?", taskIDs).Delete(&models.TaskFile{}).Error; err != nil {
					return fmt.Errorf("job: delete task files of %s: %w", id, err)
				}
				if err := tx.Where("id IN ?", taskIDs).Delete(&models.ExtractionTask{}).Error; err != nil {
					return fmt.Errorf("job: delete tasks of %s: %w", id, err)
				}
			}
			if err := tx.Where("run_id IN ?", runIDs).Delete(&models.SourceFile{}).Error; err != nil {
				return fmt.Errorf("job: delete files of %s: %w", id, err)
			}
			if err := tx.Where("run_id IN ?", runIDs).Delete(&models.RunField{}).Error; err != nil {
				return fmt.Errorf("job: delete fields of %s: %w", id, err)
			}
			if err := tx.Where("id IN ?", runIDs).Delete(&models.Run{}).Error; err != nil {
				return fmt.Errorf("job: delete runs of %s: %w", id, err)
			}
		}

		var automationIDs []string
		if err := tx.Model(&models.Automation{}).Where("job_id = ?", id).
			Pluck("id", &automationIDs).Error; err != nil {
			return fmt.Errorf("job: list automations of %s: %w", id, err)
		}
		if len(automationIDs) > 0 {
			if err := tx.Where("automation_id IN ?", automationIDs).Delete(&models.AutomationRun{}).Error; err != nil {
				return fmt.Errorf("job: delete automation runs of %s: %w", id, err)
			}
			if err := tx.Where("id IN ?", automationIDs).Delete(&models.Automation{}).Error; err != nil {
				return fmt.Errorf("job: delete automations of %s: %w", id, err)
			}
		}

		result := tx.Where("id = ?", id).Delete(&models.Job{})
		if result.Error != nil {
			return fmt.Errorf("job: delete %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("job: not found: %s", id)
		}
		return nil
	})
}

// Latest returns the job's most recently created run. Run-scoped operations
// default to this when no explicit run ID is supplied.
func Latest(db *gorm.DB, jobID string) (*models.Run, error) {
	var r models.Run
	if err := db.Where("job_id = ?", jobID).Order("created_at DESC, id DESC").
		First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job: no runs for %s", jobID)
		}
		return nil, fmt.Errorf("job: latest run of %s: %w", jobID, err)
	}
	return &r, nil
}

// CreateRunOpts holds parameters for starting a new run under a job.
type CreateRunOpts struct {
	// CloneFromRunID names the run whose field configuration is copied.
	// Empty means the job's latest run.
	CloneFromRunID string

	// TemplateID overrides the template reference instead of cloning it.
	TemplateID *string

	// AppendResults chains the new run off the clone source, so its results
	// continue the source run's output.
	AppendResults bool
}

// CreateRun starts a new run under the job, cloning the field-configuration
// snapshot from the clone source (explicit, or the latest run). The new run
// always starts at the upload step in pending status.
//
// With AppendResults set, the (job, append-source) uniqueness constraint
// decides races between concurrent triggers: the loser gets
// ErrAppendConflict and no duplicate run is ever persisted.
func CreateRun(db *gorm.DB, jobID string, opts CreateRunOpts) (*models.Run, error) {
	if _, err := Get(db, jobID); err != nil {
		return nil, err
	}

	var source *models.Run
	if opts.CloneFromRunID != "" {
		var s models.Run
		if err := db.Where("id = ? AND job_id = ?", opts.CloneFromRunID, jobID).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("job: clone source %s not found in %s", opts.CloneFromRunID, jobID)
			}
			return nil, fmt.Errorf("job: load clone source %s: %w", opts.CloneFromRunID, err)
		}
		source = &s
	} else if latest, err := Latest(db, jobID); err == nil {
		source = latest
	}

	var newRun models.Run
	err := db.Transaction(func(tx *gorm.DB) error {
		runID, err := ids.Unique(tx, &models.Run{}, ids.RunPrefix)
		if err != nil {
			return err
		}
		newRun = models.Run{
			ID:           runID,
			JobID:        jobID,
			ConfigStep:   models.StepUpload,
			Status:       models.RunPending,
			PersistData:  true,
			LastActivity: time.Now(),
		}
		if source != nil {
			newRun.TemplateID = source.TemplateID
			if opts.AppendResults {
				newRun.AppendFromRunID = &source.ID
			}
		}
		if opts.TemplateID != nil {
			newRun.TemplateID = opts.TemplateID
		}

		if err := tx.Create(&newRun).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("job: create run for %s: %w", jobID, ErrAppendConflict)
			}
			return fmt.Errorf("job: create run for %s: %w", jobID, err)
		}

		if source != nil {
			if err := cloneFields(tx, source.ID, runID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &newRun, nil
}

// cloneFields copies the field-configuration snapshot between runs.
func cloneFields(tx *gorm.DB, fromRunID, toRunID string) error {
	var fields []models.RunField
	if err := tx.Where("run_id = ?", fromRunID).Order("display_order ASC, id ASC").
		Find(&fields).Error; err != nil {
		return fmt.Errorf("job: load fields of %s: %w", fromRunID, err)
	}
	for _, f := range fields {
		clone := models.RunField{
			RunID:        toRunID,
			Name:         f.Name,
			DataType:     f.DataType,
			Prompt:       f.Prompt,
			DisplayOrder: f.DisplayOrder,
		}
		if err := tx.Create(&clone).Error; err != nil {
			return fmt.Errorf("job: clone field %q to %s: %w", f.Name, toRunID, err)
		}
	}
	return nil
}

// isDuplicateKey reports whether err is a unique-constraint violation, for
// MySQL (error 1062) and SQLite (used in tests).
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
