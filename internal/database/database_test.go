package database

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnt/lotkeeper/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.Config{
		DBHost:     "localhost",
		DBPort:     "5432",
		DBUser:     "lotkeeper",
		DBPassword: "secret",
		DBName:     "ledger",
	})
	assert.Equal(t, "host=localhost user=lotkeeper password=secret dbname=ledger port=5432 sslmode=disable TimeZone=UTC", dsn)
}

// TestConnectWithMissingSettings tests that Connect returns an error when the database is not configured
func TestConnectWithMissingSettings(t *testing.T) {
	db, err := Connect(config.Config{DBHost: "localhost", DBPort: "5432"})
	assert.Error(t, err)
	assert.Nil(t, db)
}

// TestConnectWithInvalidCredentials tests that Connect returns an error with invalid credentials
func TestConnectWithInvalidCredentials(t *testing.T) {
	// Skip in CI environment or when not explicitly enabled
	if os.Getenv("RUN_DB_TESTS") != "true" {
		t.Skip("Skipping database connection test. Set RUN_DB_TESTS=true to enable.")
	}

	db, err := Connect(config.Config{
		DBHost:     "localhost",
		DBPort:     "5432",
		DBUser:     "nonexistentuser",
		DBPassword: "wrongpassword",
		DBName:     "nonexistentdb",
	})
	assert.Error(t, err)
	assert.Nil(t, db)
}

// TestConnectSuccessful only runs when explicitly enabled and when the
// database is properly configured
func TestConnectSuccessful(t *testing.T) {
	if os.Getenv("RUN_DB_TESTS") != "true" {
		t.Skip("Skipping database connection test. Set RUN_DB_TESTS=true to enable.")
	}

	cfg := config.Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  os.Getenv("DB_SSL_MODE"),
	}
	for name, value := range map[string]string{"DB_HOST": cfg.DBHost, "DB_USER": cfg.DBUser, "DB_NAME": cfg.DBName, "DB_PORT": cfg.DBPort} {
		if value == "" {
			t.Skipf("Skipping test because %s environment variable is not set", name)
		}
	}

	db, err := Connect(cfg)
	require.NoError(t, err)
	require.NotNil(t, db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
	assert.True(t, db.Migrator().HasTable("lots"))
	assert.True(t, db.Migrator().HasIndex("lots", "idx_lots_holding_order"))
	assert.True(t, db.Migrator().HasIndex("import_runs", "idx_import_runs_wallet_started"))

	// migrating an up to date schema is a no-op
	assert.NoError(t, Migrate(db))
}
