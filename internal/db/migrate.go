package db

import (
	"fmt"

	"github.com/ledgerline/ledgerline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Job{},
		&models.Run{},
		&models.RunField{},
		&models.SourceFile{},
		&models.ExtractionTask{},
		&models.TaskFile{},
		&models.ExtractionResult{},
		&models.Automation{},
		&models.AutomationRun{},
		&models.UserPlan{},
	}
}

// AutoMigrate creates or updates all Ledgerline tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedPlan upserts a user's page allowance, preserving pages already used.
func SeedPlan(db *gorm.DB, userID string, pageLimit int) error {
	plan := models.UserPlan{
		UserID:    userID,
		PageLimit: pageLimit,
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"page_limit"}),
	}).Create(&plan)
	if result.Error != nil {
		return fmt.Errorf("db: seed plan for %q: %w", userID, result.Error)
	}
	return nil
}
