package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/list", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("include_platform"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewHTTPClient(
		WithBaseURL(server.URL),
		WithDefaultHeaders(map[string]string{"X-Key": "secret"}),
	)

	resp, err := client.Get(context.Background(), "/coins/list", url.Values{"include_platform": {"true"}})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	var body struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, resp.DecodeJSON(&body))
	assert.True(t, body.OK)
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewHTTPClient(WithBaseURL(server.URL), WithRetries(2, time.Millisecond))

	resp, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClientReturnsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(WithBaseURL(server.URL), WithRetries(0, time.Millisecond))

	_, err := client.Get(context.Background(), "/missing", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestHTTPClientGivesUpAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(WithBaseURL(server.URL), WithRetries(1, time.Millisecond))

	_, err := client.Get(context.Background(), "/", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}
