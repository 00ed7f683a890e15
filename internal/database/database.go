package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wnt/lotkeeper/internal/config"
	"github.com/wnt/lotkeeper/internal/models"
)

// DSN builds the postgres connection string from configuration
func DSN(cfg config.Config) string {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		sslMode,
	)
}

// Connect opens the ledger database and migrates its schema
func Connect(cfg config.Config) (*gorm.DB, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure GORM with optimized settings
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		PrepareStmt:    true,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(DSN(cfg)), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	// One import at a time per wallet keeps the pool small
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Migrate database schema
	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the ledger tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Wallet{},
		&models.Holding{},
		&models.Lot{},
		&models.ImportRun{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_import_runs_wallet_started ON import_runs(wallet_address, started_at)").Error; err != nil {
		return fmt.Errorf("failed to create import run index: %w", err)
	}

	return nil
}
