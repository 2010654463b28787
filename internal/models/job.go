package models

import "time"

// Job kinds.
const (
	JobKindExtraction = "extraction"
	JobKindTracker    = "tracker"
)

// Job is a user-owned, named unit of recurring extraction work. A job always
// has at least one run; deleting a job cascades to its runs.
type Job struct {
	ID        string `gorm:"primaryKey;size:32"`
	UserID    string `gorm:"size:64;not null;index"`
	Name      string `gorm:"size:255;not null"`
	Kind      string `gorm:"size:16;default:extraction"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Runs        []Run        `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
	Automations []Automation `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}
