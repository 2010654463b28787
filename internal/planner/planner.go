// Package planner translates a run's ingested files and per-folder
// processing modes into concrete extraction tasks.
package planner

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ledgerline/ledgerline/internal/ids"
	"github.com/ledgerline/ledgerline/internal/models"
	"gorm.io/gorm"
)

// PlanOpts holds parameters for planning a run's task set.
type PlanOpts struct {
	// Modes maps a folder path to "individual" or "combined". Files whose
	// folder has no entry are skipped with a warning.
	Modes map[string]string

	// AllowReplan permits replanning a run that has already been submitted.
	// Used by automation-driven flows only; interactive flows never set it.
	AllowReplan bool

	// Hierarchical enables prefix matching: a file under /invoices/2026
	// matches a mode entry for /invoices when no exact entry exists.
	Hierarchical bool
}

// Result reports the outcome of a planning pass.
type Result struct {
	TasksCreated int
	Warnings     []string
}

// archiveExts are file extensions handled by the unpack pipeline, never by
// extraction tasks directly.
var archiveExts = map[string]bool{
	".zip": true,
	".7z":  true,
	".rar": true,
}

// IsArchive reports whether the file at p is an archive container.
func IsArchive(p string) bool {
	return archiveExts[strings.ToLower(path.Ext(p))]
}

// FolderOf returns the folder path of a file path, with "/" for root-level
// files.
func FolderOf(p string) string {
	dir := path.Dir(strings.TrimSuffix("/"+strings.TrimPrefix(p, "/"), "/"))
	if dir == "." || dir == "" {
		return "/"
	}
	return dir
}

// Plan replaces the run's task set according to the folder-mode mapping.
// Pre-existing tasks are deleted first so replanning an unsubmitted run is
// idempotent. Planning a submitted run is an error unless AllowReplan is set.
func Plan(db *gorm.DB, runID string, opts PlanOpts) (*Result, error) {
	if runID == "" {
		return nil, fmt.Errorf("planner: runID is required")
	}
	for folder, mode := range opts.Modes {
		if mode != models.ModeIndividual && mode != models.ModeCombined {
			return nil, fmt.Errorf("planner: invalid mode %q for folder %q", mode, folder)
		}
	}

	var run models.Run
	if err := db.Where("id = ?", runID).First(&run).Error; err != nil {
		return nil, fmt.Errorf("planner: load run %s: %w", runID, err)
	}
	if run.ConfigStep == models.StepSubmitted && !opts.AllowReplan {
		return nil, fmt.Errorf("planner: run %s is already submitted", runID)
	}

	files, err := processableFiles(db, runID)
	if err != nil {
		return nil, err
	}

	groups, warnings := groupFiles(files, opts)

	result := &Result{Warnings: warnings}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := deleteTasks(tx, runID); err != nil {
			return err
		}
		for _, g := range groups {
			taskID, err := ids.Unique(tx, &models.ExtractionTask{}, ids.TaskPrefix)
			if err != nil {
				return err
			}
			task := models.ExtractionTask{
				ID:     taskID,
				RunID:  runID,
				Mode:   g.mode,
				Status: models.TaskPending,
			}
			if err := tx.Create(&task).Error; err != nil {
				return fmt.Errorf("planner: create task: %w", err)
			}
			for _, f := range g.files {
				if err := tx.Create(&models.TaskFile{TaskID: taskID, FileID: f.ID}).Error; err != nil {
					return fmt.Errorf("planner: link file %s to task %s: %w", f.ID, taskID, err)
				}
			}
			result.TasksCreated++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// taskGroup is one planned task: its mode and member files.
type taskGroup struct {
	mode  string
	files []models.SourceFile
}

// processableFiles returns the run's files eligible for planning: uploaded
// or ready, and not archive containers.
func processableFiles(db *gorm.DB, runID string) ([]models.SourceFile, error) {
	var files []models.SourceFile
	if err := db.Where("run_id = ? AND status IN ?", runID,
		[]string{models.FileUploaded, models.FileReady}).
		Order("path ASC").
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("planner: load files for run %s: %w", runID, err)
	}

	eligible := files[:0]
	for _, f := range files {
		if !IsArchive(f.Path) {
			eligible = append(eligible, f)
		}
	}
	return eligible, nil
}

// groupFiles assigns each file to a task group by its folder's mode.
func groupFiles(files []models.SourceFile, opts PlanOpts) ([]taskGroup, []string) {
	var individual []taskGroup
	combined := make(map[string]*taskGroup)
	skipped := make(map[string]int)

	for _, f := range files {
		folder := FolderOf(f.Path)
		key, mode, ok := resolveMode(folder, opts)
		if !ok {
			skipped[folder]++
			continue
		}

		switch mode {
		case models.ModeIndividual:
			individual = append(individual, taskGroup{mode: mode, files: []models.SourceFile{f}})
		case models.ModeCombined:
			g, exists := combined[key]
			if !exists {
				g = &taskGroup{mode: mode}
				combined[key] = g
			}
			g.files = append(g.files, f)
		}
	}

	// Individual groups in file order, then combined groups in folder-key
	// order for deterministic task creation.
	final := make([]taskGroup, 0, len(individual)+len(combined))
	final = append(final, individual...)
	keys := make([]string, 0, len(combined))
	for k := range combined {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		final = append(final, *combined[k])
	}

	var warnings []string
	folders := make([]string, 0, len(skipped))
	for f := range skipped {
		folders = append(folders, f)
	}
	sort.Strings(folders)
	for _, f := range folders {
		warnings = append(warnings, fmt.Sprintf("no processing mode for folder %q; skipped %d file(s)", f, skipped[f]))
	}
	return final, warnings
}

// resolveMode finds the mode entry for a folder: exact match first, then the
// longest prefix entry when hierarchical matching is enabled. The returned
// key identifies the combined-task grouping.
func resolveMode(folder string, opts PlanOpts) (key, mode string, ok bool) {
	if m, exists := opts.Modes[folder]; exists {
		return folder, m, true
	}
	if !opts.Hierarchical {
		return "", "", false
	}

	best := ""
	for candidate := range opts.Modes {
		if candidate == "/" {
			if best == "" {
				best = candidate
			}
			continue
		}
		if strings.HasPrefix(folder, candidate+"/") && len(candidate) > len(best) {
			best = candidate
		}
	}
	if best == "" {
		return "", "", false
	}
	return best, opts.Modes[best], true
}

// deleteTasks removes the run's existing tasks and their file links.
func deleteTasks(tx *gorm.DB, runID string) error {
	var taskIDs []string
	if err := tx.Model(&models.ExtractionTask{}).Where("run_id = ?", runID).
		Pluck("id", &taskIDs).Error; err != nil {
		return fmt.Errorf("planner: list tasks for run %s: %w", runID, err)
	}
	if len(taskIDs) == 0 {
		return nil
	}
	if err := tx.Where("task_id IN ?", taskIDs).Delete(&models.TaskFile{}).Error; err != nil {
		return fmt.Errorf("planner: delete task files for run %s: %w", runID, err)
	}
	if err := tx.Where("run_id = ?", runID).Delete(&models.ExtractionTask{}).Error; err != nil {
		return fmt.Errorf("planner: delete tasks for run %s: %w", runID, err)
	}
	return nil
}
