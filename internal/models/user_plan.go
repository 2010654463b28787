package models

import "time"

// UserPlan holds a user's page allowance for the current billing period.
// PagesUsed is advanced by atomic increments only; the quota guard compares
// it against PageLimit before a run is submitted.
type UserPlan struct {
	UserID    string `gorm:"primaryKey;size:64"`
	PageLimit int    `gorm:"default:0"`
	PagesUsed int    `gorm:"default:0"`
	UpdatedAt time.Time
}
