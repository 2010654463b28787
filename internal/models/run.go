package models

import "time"

// Wizard positions for a run's configuration phase.
const (
	StepUpload    = "upload"
	StepFields    = "fields"
	StepReview    = "review"
	StepSubmitted = "submitted"
)

// Run processing statuses.
const (
	RunPending            = "pending"
	RunInProgress         = "in_progress"
	RunPartiallyCompleted = "partially_completed"
	RunCompleted          = "completed"
	RunFailed             = "failed"
	RunCancelled          = "cancelled"
)

// Run is one execution attempt of a job's configuration. The wizard axis
// (ConfigStep) and the processing axis (Status) are independent; processing
// only leaves pending once the wizard reaches submitted.
//
// The composite unique index on (job_id, append_from_run_id) is what
// prevents two concurrent triggers from chaining duplicate append-runs off
// the same source run.
type Run struct {
	ID              string  `gorm:"primaryKey;size:32"`
	JobID           string  `gorm:"size:32;not null;index;uniqueIndex:idx_job_append"`
	TemplateID      *string `gorm:"size:32"`
	ConfigStep      string  `gorm:"size:16;default:upload"`
	Status          string  `gorm:"size:24;default:pending;index"`
	TasksTotal      int     `gorm:"default:0"`
	TasksCompleted  int     `gorm:"default:0"`
	TasksFailed     int     `gorm:"default:0"`
	PersistData     bool    `gorm:"default:true"`
	AppendFromRunID *string `gorm:"size:32;uniqueIndex:idx_job_append"`
	LastActivity    time.Time
	CreatedAt       time.Time
	CompletedAt     *time.Time

	Job    Job              `gorm:"foreignKey:JobID"`
	Fields []RunField       `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	Files  []SourceFile     `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	Tasks  []ExtractionTask `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// RunField is one row of a run's field-configuration snapshot: the column
// name, expected data type, and AI prompt the extraction uses. Snapshots are
// cloned row-by-row when a new run chains off a prior one.
type RunField struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	RunID        string `gorm:"size:32;not null;index"`
	Name         string `gorm:"size:128;not null"`
	DataType     string `gorm:"size:32;default:string"`
	Prompt       string `gorm:"type:text"`
	DisplayOrder int    `gorm:"default:0"`
	CreatedAt    time.Time
}

// TerminalRunStatuses are the statuses after which no further status
// transition is permitted. Counter increments from late worker signals are
// still accepted; the finishing gate is not.
var TerminalRunStatuses = []string{
	RunCompleted,
	RunPartiallyCompleted,
	RunFailed,
	RunCancelled,
}

// IsTerminalRunStatus reports whether status is terminal for a run.
func IsTerminalRunStatus(status string) bool {
	for _, s := range TerminalRunStatuses {
		if s == status {
			return true
		}
	}
	return false
}
