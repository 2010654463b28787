// Package ingest manages source files attached to a run: registration,
// upload status transitions, and archive unpacking bookkeeping.
package ingest

import (
	"fmt"
	"time"

	"github.com/ledgerline/ledgerline/internal/ids"
	"github.com/ledgerline/ledgerline/internal/models"
	"github.com/ledgerline/ledgerline/internal/planner"
	"gorm.io/gorm"
)

// RegisterOpts describes a file being attached to a run.
type RegisterOpts struct {
	Path      string
	SizeBytes int64
	PageCount *int
	Source    string // models.SourceUpload when empty
}

// Register creates a source file row in the uploading state. The caller
// streams the bytes elsewhere and flips the row with MarkUploaded once the
// content is durable.
func Register(db *gorm.DB, runID string, opts RegisterOpts) (*models.SourceFile, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("ingest: path is required")
	}
	var run models.Run
	if err := db.First(&run, "id = ?", runID).Error; err != nil {
		return nil, fmt.Errorf("ingest: find run %s: %w", runID, err)
	}
	if run.ConfigStep == models.StepSubmitted {
		return nil, fmt.Errorf("ingest: run %s already submitted", runID)
	}

	source := opts.Source
	if source == "" {
		source = models.SourceUpload
	}
	id, err := ids.Unique(db, &models.SourceFile{}, ids.FilePrefix)
	if err != nil {
		return nil, err
	}
	f := models.SourceFile{
		ID:        id,
		RunID:     runID,
		Path:      opts.Path,
		SizeBytes: opts.SizeBytes,
		PageCount: opts.PageCount,
		Status:    models.FileUploading,
		Source:    source,
	}
	if err := db.Create(&f).Error; err != nil {
		return nil, fmt.Errorf("ingest: create file for run %s: %w", runID, err)
	}
	touchRun(db, runID)
	return &f, nil
}

// MarkUploaded flips a file from uploading to uploaded, or to unpacking when
// it is an archive awaiting the unpack pipeline.
func MarkUploaded(db *gorm.DB, fileID string) error {
	var f models.SourceFile
	if err := db.First(&f, "id = ?", fileID).Error; err != nil {
		return fmt.Errorf("ingest: find file %s: %w", fileID, err)
	}
	next := models.FileUploaded
	if planner.IsArchive(f.Path) {
		next = models.FileUnpacking
	}
	result := db.Model(&models.SourceFile{}).
		Where("id = ? AND status = ?", fileID, models.FileUploading).
		Update("status", next)
	if result.Error != nil {
		return fmt.Errorf("ingest: mark file %s uploaded: %w", fileID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ingest: file %s is %s, not uploading", fileID, f.Status)
	}
	touchRun(db, f.RunID)
	return nil
}

// MarkFailed records an upload or unpack failure on the file row.
func MarkFailed(db *gorm.DB, fileID string) error {
	if err := db.Model(&models.SourceFile{}).Where("id = ?", fileID).
		Update("status", models.FileFailed).Error; err != nil {
		return fmt.Errorf("ingest: mark file %s failed: %w", fileID, err)
	}
	return nil
}

// UnpackedFile is one child extracted from an archive.
type UnpackedFile struct {
	Path      string
	SizeBytes int64
	PageCount *int
}

// AddUnpacked records the children produced by unpacking an archive and
// retires the parent to unpacked. Children land directly in ready: their
// bytes already exist on disk, there is no upload phase to wait for.
func AddUnpacked(db *gorm.DB, parentID string, children []UnpackedFile) error {
	var parent models.SourceFile
	if err := db.First(&parent, "id = ?", parentID).Error; err != nil {
		return fmt.Errorf("ingest: find archive %s: %w", parentID, err)
	}
	if !planner.IsArchive(parent.Path) {
		return fmt.Errorf("ingest: file %s (%s) is not an archive", parentID, parent.Path)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, c := range children {
			id, err := ids.Unique(tx, &models.SourceFile{}, ids.FilePrefix)
			if err != nil {
				return err
			}
			f := models.SourceFile{
				ID:        id,
				RunID:     parent.RunID,
				Path:      c.Path,
				SizeBytes: c.SizeBytes,
				PageCount: c.PageCount,
				Status:    models.FileReady,
				Source:    parent.Source,
			}
			if err := tx.Create(&f).Error; err != nil {
				return fmt.Errorf("ingest: create unpacked file %s: %w", c.Path, err)
			}
		}
		if err := tx.Model(&models.SourceFile{}).Where("id = ?", parentID).
			Update("status", models.FileUnpacked).Error; err != nil {
			return fmt.Errorf("ingest: retire archive %s: %w", parentID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	touchRun(db, parent.RunID)
	return nil
}

// Processable lists the run's files eligible for task planning: uploaded or
// ready, archives excluded.
func Processable(db *gorm.DB, runID string) ([]models.SourceFile, error) {
	var files []models.SourceFile
	if err := db.Where("run_id = ? AND status IN ?", runID,
		[]string{models.FileUploaded, models.FileReady}).
		Order("path ASC").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("ingest: list files of run %s: %w", runID, err)
	}
	out := files[:0]
	for _, f := range files {
		if !planner.IsArchive(f.Path) {
			out = append(out, f)
		}
	}
	return out, nil
}

func touchRun(db *gorm.DB, runID string) {
	db.Model(&models.Run{}).Where("id = ?", runID).
		Update("last_activity", time.Now())
}
