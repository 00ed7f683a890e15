package rpc

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/wnt/lotkeeper/internal/metrics"
)

// ErrNoEndpoints is returned by a pool created without endpoints
var ErrNoEndpoints = errors.New("no endpoints configured")

const (
	// DefaultRate keeps each endpoint under common free tier limits (5 req/s)
	DefaultRate  = 4.0
	DefaultBurst = 4
)

// Pool manages a pool of API endpoints with load balancing and rate limiting
type Pool struct {
	endpoints []*Endpoint
	current   int
	mutex     sync.Mutex
	logger    zerolog.Logger
}

// Endpoint represents a single API base URL with its own rate limiter
type Endpoint struct {
	URL           string
	limiter       *rate.Limiter
	healthy       bool
	cooldownUntil time.Time
	mutex         sync.RWMutex
}

// EndpointStats is a point-in-time view of one endpoint
type EndpointStats struct {
	URL           string
	Healthy       bool
	InCooldown    bool
	CooldownUntil time.Time
}

// NewPool creates a new pool with the given endpoints.
// ratePerSecond and burst apply to every endpoint separately.
func NewPool(urls []string, ratePerSecond float64, burst int, logger zerolog.Logger) *Pool {
	if ratePerSecond <= 0 {
		ratePerSecond = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}

	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = &Endpoint{
			URL:     url,
			limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
			healthy: true,
		}

		// Set initial health status in metrics
		metrics.SetEndpointHealth(url, true)
	}

	current := 0
	if len(endpoints) > 1 {
		current = rand.Intn(len(endpoints))
	}

	return &Pool{
		endpoints: endpoints,
		current:   current,
		logger:    logger.With().Str("component", "endpoint_pool").Logger(),
	}
}

func (e *Endpoint) available(now time.Time) bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.healthy && !now.Before(e.cooldownUntil)
}

// Next returns the next usable endpoint using round-robin. Endpoints that are
// unhealthy, cooling down or rate limited are skipped; when none is usable the
// call waits on the first candidate's limiter.
func (p *Pool) Next(ctx context.Context) (string, error) {
	if len(p.endpoints) == 0 {
		return "", ErrNoEndpoints
	}

	p.mutex.Lock()
	start := p.current
	now := time.Now()
	for attempts := 0; attempts < len(p.endpoints); attempts++ {
		endpoint := p.endpoints[p.current]
		p.current = (p.current + 1) % len(p.endpoints)

		if !endpoint.available(now) {
			p.logger.Debug().Str("endpoint", endpoint.URL).Msg("Endpoint unavailable, skipping")
			continue
		}

		if endpoint.limiter.Allow() {
			p.mutex.Unlock()
			return endpoint.URL, nil
		}

		p.logger.Debug().Str("endpoint", endpoint.URL).Msg("Endpoint rate limited, trying next")
	}

	// prefer an available endpoint to wait on, fall back to the starting one
	endpoint := p.endpoints[start]
	for i := range p.endpoints {
		candidate := p.endpoints[(start+i)%len(p.endpoints)]
		if candidate.available(now) {
			endpoint = candidate
			break
		}
	}
	p.mutex.Unlock()

	p.logger.Debug().Str("endpoint", endpoint.URL).Msg("All endpoints busy, waiting for availability")

	if err := endpoint.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return endpoint.URL, nil
}

func (p *Pool) find(url string) *Endpoint {
	for _, endpoint := range p.endpoints {
		if endpoint.URL == url {
			return endpoint
		}
	}
	return nil
}

// MarkUnhealthy marks an endpoint as unhealthy
func (p *Pool) MarkUnhealthy(url string) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}

	endpoint.mutex.Lock()
	wasHealthy := endpoint.healthy
	endpoint.healthy = false
	endpoint.mutex.Unlock()

	metrics.SetEndpointHealth(url, false)
	if wasHealthy {
		p.logger.Warn().Str("endpoint", url).Msg("Marked endpoint as unhealthy")
	}
}

// MarkHealthy marks an endpoint as healthy and clears its cooldown
func (p *Pool) MarkHealthy(url string) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}

	endpoint.mutex.Lock()
	wasHealthy := endpoint.healthy
	endpoint.healthy = true
	endpoint.cooldownUntil = time.Time{}
	endpoint.mutex.Unlock()

	metrics.SetEndpointHealth(url, true)
	if !wasHealthy {
		p.logger.Info().Str("endpoint", url).Msg("Marked endpoint as healthy")
	}
}

// SetCooldown puts an endpoint in cooldown for the specified duration
func (p *Pool) SetCooldown(url string, duration time.Duration) {
	endpoint := p.find(url)
	if endpoint == nil {
		return
	}

	endpoint.mutex.Lock()
	endpoint.cooldownUntil = time.Now().Add(duration)
	endpoint.mutex.Unlock()

	p.logger.Warn().
		Str("endpoint", url).
		Dur("duration", duration).
		Msg("Set endpoint cooldown")
}

// HealthyCount returns the number of endpoints that are healthy and not cooling down
func (p *Pool) HealthyCount() int {
	now := time.Now()
	count := 0
	for _, endpoint := range p.endpoints {
		if endpoint.available(now) {
			count++
		}
	}
	return count
}

// Stats returns the state of every endpoint
func (p *Pool) Stats() []EndpointStats {
	now := time.Now()
	stats := make([]EndpointStats, len(p.endpoints))
	for i, endpoint := range p.endpoints {
		endpoint.mutex.RLock()
		stats[i] = EndpointStats{
			URL:           endpoint.URL,
			Healthy:       endpoint.healthy,
			InCooldown:    now.Before(endpoint.cooldownUntil),
			CooldownUntil: endpoint.cooldownUntil,
		}
		endpoint.mutex.RUnlock()
	}
	return stats
}
