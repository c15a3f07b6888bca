package database

import (
	"fmt"
	"time"

	"promptforge/internal/domain/accounts"
	"promptforge/internal/domain/billing"
	"promptforge/internal/domain/generation"
	"promptforge/internal/domain/ledger"
	"promptforge/internal/infra/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func InitDB(dsn string, log *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DB_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLogger(log, gormlogger.Warn, 200*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("database connected and migrated")
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// balance store
		&accounts.Account{},
		&ledger.Entry{},

		// billing
		&billing.Payment{},

		// generations
		&generation.Request{},
		&generation.SlotConfig{},
		&generation.Generation{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
