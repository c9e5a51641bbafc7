package database

import (
	"fmt"

	"gorm.io/gorm"
)

// createIndexes creates database indexes
func createIndexes(db *gorm.DB) error {
	// Duplicate-insert guard for indexed events; partial so legacy rows
	// without a source ordinal are exempt
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_case_events_ordinal
		ON case_events(case_id, event_index)
		WHERE event_index IS NOT NULL AND deleted_at IS NULL
	`).Error; err != nil {
		return fmt.Errorf("failed to create ordinal index: %w", err)
	}

	// Signature guard for legacy events carried without an ordinal
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_case_events_signature
		ON case_events(case_id, event_date, event_type)
		WHERE event_index IS NULL AND deleted_at IS NULL
	`).Error; err != nil {
		return fmt.Errorf("failed to create signature index: %w", err)
	}

	// Index for the scheduler's candidate scan
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cases_monitoring
		ON cases(finalized, status)
	`).Error; err != nil {
		return err
	}

	// Index for monitor cycle history
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_monitor_logs_time
		ON monitor_logs(started_at)
	`).Error; err != nil {
		return err
	}

	return nil
}
