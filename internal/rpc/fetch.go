package rpc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/wnt/lotkeeper/internal/metrics"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 250 * time.Millisecond
	maxDelay           = 4 * time.Second
	rateLimitCooldown  = time.Minute
)

// StatusError is returned when every attempt ended with a non-2xx answer
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code from %s: %d", e.Endpoint, e.StatusCode)
}

// Fetcher performs GET requests against the pool with retries and backoff
type Fetcher struct {
	pool        *Pool
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	provider    string
	logger      zerolog.Logger
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the underlying http client
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithAttempts sets how many endpoints are tried and the first backoff delay
func WithAttempts(maxAttempts int, baseDelay time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if maxAttempts > 0 {
			f.maxAttempts = maxAttempts
		}
		f.baseDelay = baseDelay
	}
}

// NewFetcher creates a new fetcher. provider labels metrics and logs.
func NewFetcher(pool *Pool, provider string, timeout time.Duration, logger zerolog.Logger, options ...FetcherOption) *Fetcher {
	f := &Fetcher{
		pool:        pool,
		client:      &http.Client{Timeout: timeout},
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		provider:    provider,
		logger:      logger.With().Str("component", "endpoint_fetcher").Str("provider", provider).Logger(),
	}
	for _, option := range options {
		option(f)
	}
	return f
}

// Get requests query from the next available endpoint and returns the body
// of the first 2xx answer. The last failure is returned once every attempt
// failed.
func (f *Fetcher) Get(ctx context.Context, query url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := f.baseDelay * time.Duration(1<<(attempt-1))
			if delay > maxDelay {
				delay = maxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				metrics.RecordProviderRequest(f.provider, "cancelled")
				return nil, ctx.Err()
			}
		}

		body, err := f.getOnce(ctx, query)
		if err == nil {
			metrics.RecordProviderRequest(f.provider, "success")
			return body, nil
		}
		if ctx.Err() != nil {
			metrics.RecordProviderRequest(f.provider, "cancelled")
			return nil, ctx.Err()
		}

		f.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", f.maxAttempts).
			Msg("Request failed")
		lastErr = err
	}

	metrics.RecordProviderRequest(f.provider, "failed")
	return nil, fmt.Errorf("request failed after %d attempts: %w", f.maxAttempts, lastErr)
}

// getOnce performs a single attempt against one endpoint
func (f *Fetcher) getOnce(ctx context.Context, query url.Values) ([]byte, error) {
	endpoint, err := f.pool.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}

	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := f.client.Do(httpReq)
	duration := time.Since(startTime)

	if err != nil {
		f.logger.Error().Err(err).Str("endpoint", endpoint).Dur("duration", duration).Msg("HTTP request failed")
		if ctx.Err() == nil {
			f.pool.MarkUnhealthy(endpoint)
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		f.pool.SetCooldown(endpoint, rateLimitCooldown)
		metrics.RecordProviderRequest(f.provider, "rate_limited")
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.pool.MarkUnhealthy(endpoint)
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	f.logger.Debug().
		Str("endpoint", endpoint).
		Dur("duration", duration).
		Int("bytes", len(body)).
		Msg("Request succeeded")

	f.pool.MarkHealthy(endpoint)
	return body, nil
}
