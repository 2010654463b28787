// Package quota guards page consumption against a user's plan allowance.
package quota

import (
	"errors"
	"fmt"

	"github.com/ledgerline/ledgerline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Guard decides whether a user may consume additional pages. Consulted
// before a run is submitted; a false result aborts the submission.
type Guard interface {
	CanProcess(db *gorm.DB, userID string, additionalPages int) (bool, error)
}

// PlanGuard checks consumption against stored UserPlan rows. Users without
// a row get DefaultPageLimit.
type PlanGuard struct {
	DefaultPageLimit int
}

// CanProcess reports whether the user's plan allows additionalPages more.
func (g PlanGuard) CanProcess(db *gorm.DB, userID string, additionalPages int) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("quota: userID is required")
	}
	limit := g.DefaultPageLimit
	used := 0

	var plan models.UserPlan
	err := db.Where("user_id = ?", userID).First(&plan).Error
	switch {
	case err == nil:
		// Rows created by RecordUsage carry a zero limit; only an explicit
		// plan limit overrides the default.
		if plan.PageLimit > 0 {
			limit = plan.PageLimit
		}
		used = plan.PagesUsed
	case errors.Is(err, gorm.ErrRecordNotFound):
		// No plan row yet; the default allowance applies.
	default:
		return false, fmt.Errorf("quota: load plan for %s: %w", userID, err)
	}

	return used+additionalPages <= limit, nil
}

// AllowAll is a guard that never rejects. Used in tests and offline CLI runs.
type AllowAll struct{}

// CanProcess always returns true.
func (AllowAll) CanProcess(*gorm.DB, string, int) (bool, error) { return true, nil }

// RecordUsage adds pages to the user's consumption counter. The increment is
// atomic arithmetic at the storage layer; concurrent submissions never lose
// updates.
func RecordUsage(db *gorm.DB, userID string, pages int) error {
	if userID == "" {
		return fmt.Errorf("quota: userID is required")
	}
	if pages <= 0 {
		return nil
	}

	// Ensure the row exists, then increment in place.
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.UserPlan{UserID: userID}).Error; err != nil {
		return fmt.Errorf("quota: ensure plan row for %s: %w", userID, err)
	}
	if err := db.Model(&models.UserPlan{}).Where("user_id = ?", userID).
		Update("pages_used", gorm.Expr("pages_used + ?", pages)).Error; err != nil {
		return fmt.Errorf("quota: record usage for %s: %w", userID, err)
	}
	return nil
}
