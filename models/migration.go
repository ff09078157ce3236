package models

import (
	"fmt"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}
	err := db.AutoMigrate(
		&DonationRequest{},
		&CachedCharity{},
		&ReconcileRun{}, &ReconcileError{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
