package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RoundRobin(t *testing.T) {
	pool := NewPool([]string{"http://a", "http://b"}, 100, 10, zerolog.Nop())

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		endpoint, err := pool.Next(context.Background())
		require.NoError(t, err)
		seen[endpoint]++
	}

	assert.Equal(t, 2, seen["http://a"])
	assert.Equal(t, 2, seen["http://b"])
}

func TestPool_SkipsUnavailableEndpoints(t *testing.T) {
	pool := NewPool([]string{"http://a", "http://b", "http://c"}, 100, 10, zerolog.Nop())
	pool.MarkUnhealthy("http://a")
	pool.SetCooldown("http://b", time.Minute)

	for i := 0; i < 3; i++ {
		endpoint, err := pool.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "http://c", endpoint)
	}
	assert.Equal(t, 1, pool.HealthyCount())

	pool.MarkHealthy("http://a")
	pool.MarkHealthy("http://b")
	assert.Equal(t, 3, pool.HealthyCount())

	for _, stats := range pool.Stats() {
		assert.True(t, stats.Healthy)
		assert.False(t, stats.InCooldown)
	}
}

func TestPool_FallsBackWhenNothingIsAvailable(t *testing.T) {
	pool := NewPool([]string{"http://only"}, 100, 10, zerolog.Nop())
	pool.MarkUnhealthy("http://only")

	endpoint, err := pool.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://only", endpoint)
}

func TestPool_NoEndpoints(t *testing.T) {
	_, err := NewPool(nil, 0, 0, zerolog.Nop()).Next(context.Background())
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestPool_WaitRespectsContext(t *testing.T) {
	pool := NewPool([]string{"http://a"}, 0.001, 1, zerolog.Nop())

	_, err := pool.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Next(ctx)
	assert.Error(t, err)
}

func TestFetcher_RetriesOnAnotherEndpoint(t *testing.T) {
	var badCalls int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&badCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tokentx", r.URL.Query().Get("action"))
		w.Write([]byte(`{"status":"1"}`))
	}))
	defer good.Close()

	pool := NewPool([]string{bad.URL, good.URL}, 100, 10, zerolog.Nop())
	pool.current = 0
	fetcher := NewFetcher(pool, "explorer", time.Second, zerolog.Nop(), WithAttempts(3, time.Millisecond))

	body, err := fetcher.Get(context.Background(), url.Values{"action": {"tokentx"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"1"}`, string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(&badCalls))
	assert.Equal(t, 1, pool.HealthyCount())
}

func TestFetcher_RateLimitSetsCooldown(t *testing.T) {
	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer limited.Close()

	pool := NewPool([]string{limited.URL}, 100, 10, zerolog.Nop())
	fetcher := NewFetcher(pool, "explorer", time.Second, zerolog.Nop(), WithAttempts(1, 0))

	_, err := fetcher.Get(context.Background(), nil)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.True(t, pool.Stats()[0].InCooldown)
}

func TestFetcher_GivesUpAfterAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	pool := NewPool([]string{server.URL}, 100, 10, zerolog.Nop())
	fetcher := NewFetcher(pool, "explorer", time.Second, zerolog.Nop(), WithAttempts(2, time.Millisecond))

	_, err := fetcher.Get(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}
