// Package ids generates short random identifiers for Ledgerline records.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"gorm.io/gorm"
)

// ID prefixes by record type.
const (
	JobPrefix    = "job"
	RunPrefix    = "run"
	FilePrefix   = "file"
	TaskPrefix   = "task"
	ResultPrefix = "res"
)

// Generate creates an ID in prefix-xxxxx format (5-char hex).
func Generate(prefix string) (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ids: generate: %w", err)
	}
	return prefix + "-" + hex.EncodeToString(b)[:5], nil
}

// Unique generates an ID for model and retries once on collision.
func Unique(db *gorm.DB, model interface{}, prefix string) (string, error) {
	for range 2 {
		id, err := Generate(prefix)
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("ids: check uniqueness: %w", err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("ids: could not generate unique ID with prefix %q", prefix)
}
