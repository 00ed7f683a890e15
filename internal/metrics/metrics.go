package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderRequestsTotal tracks feed requests by provider and status
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotkeeper_provider_requests_total",
			Help: "The total number of requests made to third-party feeds",
		},
		[]string{"provider", "status"},
	)

	// EndpointHealth tracks explorer endpoint health
	EndpointHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lotkeeper_endpoint_health",
			Help: "Health status of explorer endpoints (1 = healthy, 0 = unhealthy)",
		},
		[]string{"endpoint"},
	)

	// PriceSeriesFetches tracks price series requests, one per asset per import
	PriceSeriesFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotkeeper_price_series_fetches_total",
			Help: "The total number of historical price series fetched",
		},
		[]string{"status"}, // success, empty, failed
	)

	// PriceSeriesSeconds tracks how long a single price series fetch takes
	PriceSeriesSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lotkeeper_price_series_seconds",
		Help:    "Time taken to fetch one historical price series",
		Buckets: prometheus.DefBuckets,
	})

	// LotsCreated tracks persisted lots by source
	LotsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotkeeper_lots_created_total",
			Help: "The total number of lots written to the ledger",
		},
		[]string{"source"}, // transfer, swap
	)

	// UnpricedLots tracks lots written without a known cost basis
	UnpricedLots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lotkeeper_unpriced_lots_total",
		Help: "The total number of lots written with an unknown cost basis",
	})

	// ImportRuns tracks wallet imports by outcome
	ImportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotkeeper_import_runs_total",
			Help: "The total number of wallet import runs",
		},
		[]string{"status"}, // succeeded, degraded, failed
	)

	// ImportSeconds tracks time taken by a wallet import
	ImportSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lotkeeper_import_seconds",
		Help:    "Time taken to import a wallet in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
	})

	// DatabaseOperations tracks database operations
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lotkeeper_database_operations_total",
			Help: "The total number of database operations",
		},
		[]string{"operation", "status"},
	)
)

// RecordProviderRequest records a feed request with the given status
func RecordProviderRequest(provider, status string) {
	ProviderRequestsTotal.WithLabelValues(provider, status).Inc()
}

// SetEndpointHealth sets the health status of an explorer endpoint
func SetEndpointHealth(endpoint string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	EndpointHealth.WithLabelValues(endpoint).Set(value)
}

// RecordPriceSeriesFetch records one price series fetch
func RecordPriceSeriesFetch(status string, duration float64) {
	PriceSeriesFetches.WithLabelValues(status).Inc()
	PriceSeriesSeconds.Observe(duration)
}

// RecordLotsCreated records lots written in one batch
func RecordLotsCreated(source string, count int) {
	LotsCreated.WithLabelValues(source).Add(float64(count))
}

// RecordUnpricedLots records lots written with an unknown cost basis
func RecordUnpricedLots(count int) {
	UnpricedLots.Add(float64(count))
}

// RecordImport records the outcome and duration of a wallet import
func RecordImport(status string, duration float64) {
	ImportRuns.WithLabelValues(status).Inc()
	ImportSeconds.Observe(duration)
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string) {
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}
