package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecute_Usage(t *testing.T) {
	assert.Equal(t, 2, execute(nil))
	assert.Equal(t, 2, execute([]string{"-unknown-flag"}))
}

func TestExecute_InvalidConfiguration(t *testing.T) {
	t.Setenv("EXPLORER_ENDPOINTS", "")

	code := execute([]string{"-envFile", filepath.Join(t.TempDir(), "missing.env"), "-wallet", "0x1234"})
	assert.Equal(t, 1, code)
}

func TestExecute_FailedRunReturnsExitCode(t *testing.T) {
	t.Setenv("EXPLORER_ENDPOINTS", "http://127.0.0.1:1")
	t.Setenv("REDIS_URL", "")
	t.Setenv("METRICS_PORT", "0")
	t.Setenv("LOG_LEVEL", "error")

	// the wallet is rejected before any feed is contacted; execute returns
	// instead of exiting, after shutting the metrics server down
	code := execute([]string{"-envFile", filepath.Join(t.TempDir(), "missing.env"), "-dry-run", "-wallet", "0x1234"})
	assert.Equal(t, 1, code)
}
