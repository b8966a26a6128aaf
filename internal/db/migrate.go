package db

import (
	"fmt"

	"github.com/autocommitor/autocommitor/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the tables used by the scheduler.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Automation{},
		&models.CommitLog{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
