package models

import "time"

// Extraction task statuses.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Task processing modes.
const (
	ModeIndividual = "individual"
	ModeCombined   = "combined"
)

// ExtractionTask is one dispatchable unit of extraction work: a single file
// in individual mode, or every file of one folder in combined mode. The file
// membership is fixed at creation and never mutated afterwards.
type ExtractionTask struct {
	ID           string `gorm:"primaryKey;size:32"`
	RunID        string `gorm:"size:32;not null;index"`
	Mode         string `gorm:"size:16;default:individual"`
	Status       string `gorm:"size:16;default:pending;index"`
	ErrorMessage string `gorm:"type:text"`
	CreatedAt    time.Time
	ClaimedAt    *time.Time
	CompletedAt  *time.Time

	Run   Run        `gorm:"foreignKey:RunID"`
	Files []TaskFile `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
}

// TaskFile joins an extraction task to one of its source files.
type TaskFile struct {
	TaskID string `gorm:"primaryKey;size:32"`
	FileID string `gorm:"primaryKey;size:32"`

	Task ExtractionTask `gorm:"foreignKey:TaskID"`
	File SourceFile     `gorm:"foreignKey:FileID"`
}

// ExtractionResult is the structured output of exactly one completed task.
// Rows holds the extracted records as a JSON array.
type ExtractionResult struct {
	ID        string `gorm:"primaryKey;size:32"`
	TaskID    string `gorm:"size:32;not null;uniqueIndex"`
	Rows      string `gorm:"type:mediumtext"`
	CreatedAt time.Time

	Task ExtractionTask `gorm:"foreignKey:TaskID"`
}

// IsTerminalTaskStatus reports whether status is terminal for a task.
func IsTerminalTaskStatus(status string) bool {
	return status == TaskCompleted || status == TaskFailed
}
