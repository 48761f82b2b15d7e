package database

import (
	"fmt"
	"time"

	"discuno-payments/internal/domain/billing"
	"discuno-payments/internal/domain/workflows"
	"discuno-payments/internal/logging"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to postgres and sizes the pool.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logging.GormLogger()})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := TunePool(db); err != nil {
		return nil, err
	}
	return db, nil
}

func TunePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(60 * time.Second)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)
	return nil
}

// Migrate creates or updates the payment and workflow tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&billing.Payment{},
		&workflows.WorkflowRun{},
		&workflows.WorkflowStep{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	logging.For("database").Info("connected and migrated")
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
