package models

import "time"

// Automation run statuses.
const (
	AutomationRunning   = "running"
	AutomationCompleted = "completed"
	AutomationFailed    = "failed"
)

// Automation links a job to a recurring trigger and an optional export
// destination. ExportConfig is a JSON blob describing where completed run
// results are delivered; when empty, completion needs no export step.
type Automation struct {
	ID           string `gorm:"primaryKey;size:32"`
	JobID        string `gorm:"size:32;not null;index"`
	Name         string `gorm:"size:255;not null"`
	ExportConfig string `gorm:"type:text"`
	Active       bool   `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Job  Job             `gorm:"foreignKey:JobID"`
	Runs []AutomationRun `gorm:"foreignKey:AutomationID;constraint:OnDelete:CASCADE"`
}

// AutomationRun tracks one triggered pass of an automation. It stays in
// running while an export is pending; export completion (reported by the
// external export pipeline) is what finally marks it completed.
type AutomationRun struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	AutomationID string  `gorm:"size:32;not null;index"`
	RunID        *string `gorm:"size:32;index"`
	Status       string  `gorm:"size:16;default:running;index"`
	ErrorMessage string  `gorm:"type:text"`
	CreatedAt    time.Time
	CompletedAt  *time.Time

	Automation Automation `gorm:"foreignKey:AutomationID"`
}
