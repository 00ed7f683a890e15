package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	maxPriceConcurrency = 8
	maxRequestTimeout   = 10 * time.Second
)

// Config holds all configuration for lotkeeper
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis configuration, empty disables the shared cache and lock
	RedisURL string

	// Explorer configuration
	ExplorerEndpoints []string
	ExplorerAPIKey    string
	ExplorerChainID   string
	ExplorerRateLimit float64

	// Price provider configuration
	PriceAPIURL      string
	PriceAPIKey      string
	PricePlatform    string
	NativeAssetID    string
	NativeSymbol     string
	PriceConcurrency int

	// Timeouts
	RequestTimeout time.Duration
	ImportTimeout  time.Duration

	// Logging configuration
	LogLevel string

	// Metrics configuration
	MetricsPort string
}

// Load reads configuration from environment variables and validates it
func Load() (Config, error) {
	cfg := Config{
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", ""),
		DBPassword:      getEnv("DB_PASSWORD", ""),
		DBName:          getEnv("DB_NAME", ""),
		DBSSLMode:       getEnv("DB_SSL_MODE", "disable"),
		RedisURL:        getEnv("REDIS_URL", ""),
		ExplorerAPIKey:  getEnv("EXPLORER_API_KEY", ""),
		ExplorerChainID: getEnv("EXPLORER_CHAIN_ID", ""),
		PriceAPIURL:     getEnv("PRICE_API_URL", "https://api.coingecko.com/api/v3"),
		PriceAPIKey:     getEnv("PRICE_API_KEY", ""),
		PricePlatform:   getEnv("PRICE_PLATFORM", "ethereum"),
		NativeAssetID:   getEnv("NATIVE_ASSET_ID", "ethereum"),
		NativeSymbol:    getEnv("NATIVE_SYMBOL", "ETH"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		MetricsPort:     getEnv("METRICS_PORT", "9100"),
	}

	// Parse explorer endpoints
	endpointsStr := getEnv("EXPLORER_ENDPOINTS", "")
	if endpointsStr == "" {
		return cfg, fmt.Errorf("EXPLORER_ENDPOINTS environment variable is required")
	}
	for _, endpoint := range strings.Split(endpointsStr, ",") {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			cfg.ExplorerEndpoints = append(cfg.ExplorerEndpoints, endpoint)
		}
	}

	var err error
	cfg.ExplorerRateLimit, err = parseFloatEnv("EXPLORER_RATE_LIMIT", 4)
	if err != nil {
		return cfg, fmt.Errorf("invalid EXPLORER_RATE_LIMIT: %w", err)
	}

	cfg.PriceConcurrency, err = parseIntEnv("PRICE_CONCURRENCY", 4)
	if err != nil {
		return cfg, fmt.Errorf("invalid PRICE_CONCURRENCY: %w", err)
	}

	cfg.RequestTimeout, err = parseDurationEnv("REQUEST_TIMEOUT", 8*time.Second)
	if err != nil {
		return cfg, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}

	cfg.ImportTimeout, err = parseDurationEnv("IMPORT_TIMEOUT", 2*time.Minute)
	if err != nil {
		return cfg, fmt.Errorf("invalid IMPORT_TIMEOUT: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks that the configuration is valid
func (c Config) validate() error {
	if len(c.ExplorerEndpoints) == 0 {
		return fmt.Errorf("at least one explorer endpoint is required")
	}

	if c.ExplorerRateLimit <= 0 {
		return fmt.Errorf("EXPLORER_RATE_LIMIT must be positive")
	}

	if c.PriceConcurrency < 1 || c.PriceConcurrency > maxPriceConcurrency {
		return fmt.Errorf("PRICE_CONCURRENCY must be between 1 and %d", maxPriceConcurrency)
	}

	if c.RequestTimeout <= 0 || c.RequestTimeout >= maxRequestTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive and below %s", maxRequestTimeout)
	}

	if c.ImportTimeout <= c.RequestTimeout {
		return fmt.Errorf("IMPORT_TIMEOUT must be greater than REQUEST_TIMEOUT")
	}

	validLogLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
		"panic": true,
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.LogLevel)
	}

	return nil
}

// RequireDatabase checks the settings needed to open the ledger database
func (c Config) RequireDatabase() error {
	if c.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.DBUser == "" {
		return fmt.Errorf("DB_USER is required")
	}
	return nil
}

// getEnv retrieves an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv parses an integer environment variable with a default value
func parseIntEnv(key string, defaultValue int) (int, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(str)
}

// parseFloatEnv parses a float environment variable with a default value
func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(str, 64)
}

// parseDurationEnv parses a duration such as "8s" with a default value
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(str)
}
