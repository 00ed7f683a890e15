package cache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockValueRoundTrip(t *testing.T) {
	at := time.Unix(1718000000, 0)

	runID, since, ok := parseLockValue(lockValue("7d1c0b3e-run", at))
	require.True(t, ok)
	assert.Equal(t, "7d1c0b3e-run", runID)
	assert.True(t, since.Equal(at))
}

func TestParseLockValue_Malformed(t *testing.T) {
	for _, value := range []string{"", "no-comma", ",1718000000", "run,not-a-number"} {
		_, _, ok := parseLockValue(value)
		assert.False(t, ok, value)
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	client, err := NewClient("not-a-redis-url", zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, client)
}
