// Package provider declares the third-party feeds consumed during a wallet
// import and the errors they report.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wnt/lotkeeper/internal/models"
)

// TransferSource lists a wallet's raw transfer history, ascending by time
type TransferSource interface {
	ListTokenTransfers(ctx context.Context, wallet string) ([]models.TokenTransferRow, error)
	ListNativeTransfers(ctx context.Context, wallet string) ([]models.NativeTransferRow, error)
}

// PriceSource returns an ascending USD price series for an asset
type PriceSource interface {
	PriceSeries(ctx context.Context, assetID string, from, to time.Time) ([]models.PricePoint, error)
}

// ErrHistoryTruncated is returned, together with the rows that could be
// listed, when a feed cannot serve a wallet's full history
var ErrHistoryTruncated = errors.New("transfer history truncated")

// NetworkError is returned when a feed is unreachable or answers with a non-2xx status.
// Callers treat it as "data unavailable" for that feed.
type NetworkError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Provider, e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProviderError is returned when a feed answers with an explicit error payload
type ProviderError struct {
	Provider string
	Op       string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Message)
}

// IsNetworkError reports whether err is, or wraps, a NetworkError
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsProviderError reports whether err is, or wraps, a ProviderError
func IsProviderError(err error) bool {
	var provErr *ProviderError
	return errors.As(err, &provErr)
}
