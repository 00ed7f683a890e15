package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnt/lotkeeper/internal/provider"
	"github.com/wnt/lotkeeper/internal/utils"
)

func TestCoinGeckoPriceSeries(t *testing.T) {
	from := time.Unix(1704067200, 0)
	to := time.Unix(1704074400, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/usd-coin/market_chart/range", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "1704067200", r.URL.Query().Get("from"))
		assert.Equal(t, "1704074400", r.URL.Query().Get("to"))
		assert.Equal(t, "test-key", r.Header.Get("x-cg-pro-api-key"))

		w.Header().Set("Content-Type", "application/json")
		// deliberately out of order
		w.Write([]byte(`{"prices": [[1704070800000, 1.0002], [1704067200000, 0.9998]]}`))
	}))
	defer server.Close()

	client := NewCoinGeckoClient(server.URL, "test-key", "ethereum", time.Second)

	series, err := client.PriceSeries(context.Background(), "usd-coin", from, to)
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, time.UnixMilli(1704067200000).UTC(), series[0].Timestamp)
	assert.True(t, series[0].PriceUSD.Equal(decimal.RequireFromString("0.9998")))
	assert.True(t, series[1].PriceUSD.Equal(decimal.RequireFromString("1.0002")))
}

func TestCoinGeckoPriceSeries_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "coin not found"}`))
	}))
	defer server.Close()

	client := NewCoinGeckoClient(server.URL, "", "ethereum", time.Second)

	_, err := client.PriceSeries(context.Background(), "nope", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)

	var provErr *provider.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "coin not found", provErr.Message)
}

func TestCoinGeckoPriceSeries_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewCoinGeckoClient(server.URL, "", "ethereum", time.Second)
	client.httpClient = utils.NewHTTPClient(utils.WithBaseURL(server.URL), utils.WithRetries(0, 0))

	_, err := client.PriceSeries(context.Background(), "usd-coin", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.True(t, provider.IsNetworkError(err))

	var netErr *provider.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusBadGateway, netErr.StatusCode)
}

func TestCoinGeckoListAssetIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/list", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("include_platform"))
		w.Write([]byte(`[
			{"id": "usd-coin", "symbol": "usdc", "platforms": {"ethereum": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "solana": "EPjF"}},
			{"id": "bitcoin", "symbol": "btc", "platforms": {}},
			{"id": "weth", "symbol": "weth", "platforms": {"ethereum": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"}}
		]`))
	}))
	defer server.Close()

	client := NewCoinGeckoClient(server.URL, "", "ethereum", time.Second)

	ids, err := client.ListAssetIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": "usd-coin",
		"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": "weth",
	}, ids)
}
