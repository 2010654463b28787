package models

import "time"

// Source file ingestion statuses.
const (
	FileUploading = "uploading"
	FileUploaded  = "uploaded"
	FileUnpacking = "unpacking"
	FileUnpacked  = "unpacked"
	FileFailed    = "failed"
	FileReady     = "ready"
)

// Source file origins.
const (
	SourceUpload = "upload"
	SourceDrive  = "drive"
	SourceGmail  = "gmail"
)

// SourceFile is an ingested input file belonging to a run. Files relate to
// extraction tasks through TaskFile join rows, never by direct ownership.
// Archive files (zip, 7z, rar) exist only to be unpacked into further
// source files and are never planned into tasks themselves.
type SourceFile struct {
	ID        string `gorm:"primaryKey;size:32"`
	RunID     string `gorm:"size:32;not null;index"`
	Path      string `gorm:"size:1024;not null"`
	SizeBytes int64  `gorm:"default:0"`
	PageCount *int
	Status    string `gorm:"size:16;default:uploading;index"`
	Source    string `gorm:"size:16;default:upload"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Run Run `gorm:"foreignKey:RunID"`
}
