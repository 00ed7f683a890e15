package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New creates and configures a new zerolog logger
func New(logLevel string) zerolog.Logger {
	return NewWithWriter(logLevel, os.Stdout)
}

// NewWithWriter creates a logger writing to out
func NewWithWriter(logLevel string, out io.Writer) zerolog.Logger {
	// Set global log level
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure console writer for human-readable output in development
	if os.Getenv("API_ENV") == "development" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	// Create structured logger with common fields
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "lotkeeper").
		Logger()
}

// WithWallet adds wallet address to logger context
func WithWallet(logger zerolog.Logger, wallet string) zerolog.Logger {
	return logger.With().Str("wallet", wallet).Logger()
}

// WithRun adds the import run id to logger context
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithAsset adds an asset identifier to logger context
func WithAsset(logger zerolog.Logger, assetID string) zerolog.Logger {
	return logger.With().Str("asset", assetID).Logger()
}
