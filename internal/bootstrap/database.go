package bootstrap

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reportd/internal/models"
)

// QueueNames lists the queues whose state rows are seeded at startup.
var QueueNames = []string{"generation", "mail", "cron"}

// MigrateAndSeed ensures required tables exist and inserts baseline rows for singleton tables.
func MigrateAndSeed(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if err := seedDefaults(db); err != nil {
		return fmt.Errorf("seed defaults failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		// Core entities
		&models.Task{},
		&models.HistoryEntry{},
		&models.Institution{},
		// Queue-backed jobs
		&models.QueueJob{},
		&models.QueueState{},
	}
}

func seedDefaults(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, name := range QueueNames {
			row := models.QueueState{Name: name}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
