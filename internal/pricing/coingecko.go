package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wnt/lotkeeper/internal/metrics"
	"github.com/wnt/lotkeeper/internal/models"
	"github.com/wnt/lotkeeper/internal/provider"
	"github.com/wnt/lotkeeper/internal/utils"
)

const providerName = "coingecko"

// DefaultBaseURL is the public CoinGecko API
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoClient reads historical prices and the contract directory from a
// CoinGecko compatible API
type CoinGeckoClient struct {
	httpClient *utils.HTTPClient
	platform   string
}

// NewCoinGeckoClient creates a client. platform selects which chain's
// contract addresses the directory is built from (e.g. "ethereum").
func NewCoinGeckoClient(baseURL, apiKey, platform string, timeout time.Duration) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	headers := map[string]string{}
	if apiKey != "" {
		headers["x-cg-pro-api-key"] = apiKey
	}

	return &CoinGeckoClient{
		httpClient: utils.NewHTTPClient(
			utils.WithBaseURL(strings.TrimRight(baseURL, "/")),
			utils.WithDefaultHeaders(headers),
			utils.WithTimeout(timeout),
		),
		platform: platform,
	}
}

// errorPayload covers both error shapes the API answers with
type errorPayload struct {
	Error  string `json:"error"`
	Status struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func (p errorPayload) message() string {
	if p.Error != "" {
		return p.Error
	}
	return p.Status.ErrorMessage
}

// PriceSeries returns the USD prices of a coin between from and to, ascending
func (c *CoinGeckoClient) PriceSeries(ctx context.Context, assetID string, from, to time.Time) ([]models.PricePoint, error) {
	op := "market_chart/range"
	query := url.Values{
		"vs_currency": {"usd"},
		"from":        {strconv.FormatInt(from.Unix(), 10)},
		"to":          {strconv.FormatInt(to.Unix(), 10)},
	}

	resp, err := c.httpClient.Get(ctx, "/coins/"+url.PathEscape(assetID)+"/market_chart/range", query)
	if err != nil {
		return nil, c.classify(op, resp, err)
	}

	var payload struct {
		errorPayload
		Prices [][]decimal.Decimal `json:"prices"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		metrics.RecordProviderRequest(providerName, "malformed")
		return nil, &provider.ProviderError{Provider: providerName, Op: op, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if msg := payload.message(); msg != "" {
		metrics.RecordProviderRequest(providerName, "provider_error")
		return nil, &provider.ProviderError{Provider: providerName, Op: op, Message: msg}
	}

	series := make([]models.PricePoint, 0, len(payload.Prices))
	for _, pair := range payload.Prices {
		if len(pair) < 2 {
			continue
		}
		series = append(series, models.PricePoint{
			Timestamp: time.UnixMilli(pair[0].IntPart()).UTC(),
			PriceUSD:  pair[1],
		})
	}
	sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })

	metrics.RecordProviderRequest(providerName, "success")
	return series, nil
}

// ListAssetIDs maps lowercase contract addresses on the configured platform to coin ids
func (c *CoinGeckoClient) ListAssetIDs(ctx context.Context) (map[string]string, error) {
	op := "coins/list"
	resp, err := c.httpClient.Get(ctx, "/coins/list", url.Values{"include_platform": {"true"}})
	if err != nil {
		return nil, c.classify(op, resp, err)
	}

	var coins []struct {
		ID        string            `json:"id"`
		Platforms map[string]string `json:"platforms"`
	}
	if err := resp.DecodeJSON(&coins); err != nil {
		var payload errorPayload
		if json.Unmarshal(resp.Body, &payload) == nil && payload.message() != "" {
			metrics.RecordProviderRequest(providerName, "provider_error")
			return nil, &provider.ProviderError{Provider: providerName, Op: op, Message: payload.message()}
		}
		metrics.RecordProviderRequest(providerName, "malformed")
		return nil, &provider.ProviderError{Provider: providerName, Op: op, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	ids := make(map[string]string, len(coins))
	for _, coin := range coins {
		address := strings.ToLower(strings.TrimSpace(coin.Platforms[c.platform]))
		if address == "" || coin.ID == "" {
			continue
		}
		if _, exists := ids[address]; !exists {
			ids[address] = coin.ID
		}
	}

	metrics.RecordProviderRequest(providerName, "success")
	return ids, nil
}

// classify turns transport and status failures into provider errors
func (c *CoinGeckoClient) classify(op string, resp *utils.Response, err error) error {
	status := utils.StatusCode(err)
	if status >= 400 && status < 500 && status != 429 && resp != nil {
		var payload errorPayload
		if json.Unmarshal(resp.Body, &payload) == nil && payload.message() != "" {
			metrics.RecordProviderRequest(providerName, "provider_error")
			return &provider.ProviderError{Provider: providerName, Op: op, Message: payload.message()}
		}
	}

	metrics.RecordProviderRequest(providerName, "network_error")
	return &provider.NetworkError{Provider: providerName, Op: op, StatusCode: status, Err: err}
}
