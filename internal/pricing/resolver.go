// Package pricing resolves historical USD prices for the legs of imported
// transactions while keeping calls to the price provider to one per asset.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wnt/lotkeeper/internal/metrics"
	"github.com/wnt/lotkeeper/internal/provider"
)

// WindowPadding widens each asset's fetch window on both sides
const WindowPadding = time.Hour

// Concurrency bounds for in-flight series requests
const (
	DefaultConcurrency = 4
	MaxConcurrency     = 8
)

// DefaultCallTimeout bounds a single series request
const DefaultCallTimeout = 8 * time.Second

// Request asks for the price of an asset at one moment
type Request struct {
	AssetID   string
	Timestamp time.Time
}

// Options configures a Resolver
type Options struct {
	Concurrency int
	CallTimeout time.Duration
}

// Resolver batches price lookups into one series request per asset
type Resolver struct {
	source      provider.PriceSource
	concurrency int
	callTimeout time.Duration
	logger      zerolog.Logger
}

// NewResolver creates a resolver; concurrency is clamped to [1, MaxConcurrency]
func NewResolver(source provider.PriceSource, opts Options, logger zerolog.Logger) *Resolver {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}

	return &Resolver{
		source:      source,
		concurrency: concurrency,
		callTimeout: callTimeout,
		logger:      logger.With().Str("component", "price_resolver").Logger(),
	}
}

// assetBatch is every requested moment for one asset
type assetBatch struct {
	assetID    string
	timestamps []time.Time
	from, to   time.Time
}

// Resolve fetches one price series per distinct asset, covering
// [earliest-1h, latest+1h], and answers every request from it with the
// nearest point at or before the requested time.
//
// A failing or empty series leaves that asset's requests unresolved and does
// not affect other assets. Only cancellation of ctx is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, requests []Request) (*Table, error) {
	batches := groupRequests(requests)
	table := newTable()
	if len(batches) == 0 {
		return table, nil
	}

	type outcome struct {
		prices map[int64]decimal.Decimal
		err    error
	}
	outcomes := make([]outcome, len(batches))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i].err = ctx.Err()
				return nil
			}
			outcomes[i].prices, outcomes[i].err = r.resolveBatch(ctx, batch)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, batch := range batches {
		if err := outcomes[i].err; err != nil {
			table.failed[batch.assetID] = err
			continue
		}
		table.prices[batch.assetID] = outcomes[i].prices
	}

	return table, nil
}

func (r *Resolver) resolveBatch(ctx context.Context, batch assetBatch) (map[int64]decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	start := time.Now()
	series, err := r.source.PriceSeries(callCtx, batch.assetID, batch.from, batch.to)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordPriceSeriesFetch("failed", duration.Seconds())
		r.logger.Warn().
			Err(err).
			Str("asset", batch.assetID).
			Int("timestamps", len(batch.timestamps)).
			Dur("duration", duration).
			Msg("Price series unavailable, leaving asset unpriced")
		return nil, fmt.Errorf("price series for %s: %w", batch.assetID, err)
	}

	if len(series) == 0 {
		metrics.RecordPriceSeriesFetch("empty", duration.Seconds())
		r.logger.Warn().
			Str("asset", batch.assetID).
			Time("from", batch.from).
			Time("to", batch.to).
			Msg("Empty price series, leaving asset unpriced")
		return nil, fmt.Errorf("price series for %s: %w", batch.assetID, ErrEmptySeries)
	}

	metrics.RecordPriceSeriesFetch("success", duration.Seconds())

	prices := make(map[int64]decimal.Decimal, len(batch.timestamps))
	for _, ts := range batch.timestamps {
		if point, ok := NearestAtOrBefore(series, ts); ok {
			prices[ts.UnixNano()] = point.PriceUSD
		}
	}

	r.logger.Debug().
		Str("asset", batch.assetID).
		Int("points", len(series)).
		Int("requested", len(batch.timestamps)).
		Int("resolved", len(prices)).
		Dur("duration", duration).
		Msg("Resolved price batch")

	return prices, nil
}

// groupRequests collapses requests into one batch per asset, in a stable order
func groupRequests(requests []Request) []assetBatch {
	index := make(map[string]int)
	var batches []assetBatch

	for _, req := range requests {
		if req.AssetID == "" {
			continue
		}
		i, ok := index[req.AssetID]
		if !ok {
			i = len(batches)
			index[req.AssetID] = i
			batches = append(batches, assetBatch{assetID: req.AssetID})
		}
		batches[i].timestamps = append(batches[i].timestamps, req.Timestamp)
	}

	for i := range batches {
		b := &batches[i]
		sort.Slice(b.timestamps, func(x, y int) bool { return b.timestamps[x].Before(b.timestamps[y]) })
		b.from = b.timestamps[0].Add(-WindowPadding)
		b.to = b.timestamps[len(b.timestamps)-1].Add(WindowPadding)
	}

	return batches
}
