package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnt/lotkeeper/internal/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lot(id uint, offset time.Duration, qty string, cost *string) models.Lot {
	l := models.Lot{
		ID:                id,
		HoldingID:         1,
		AssetID:           "0xabc",
		Timestamp:         t0.Add(offset),
		QtyIn:             dec(qty),
		CostBasisUSDTotal: models.Unknown(),
		Source:            models.SourceTransfer,
	}
	if cost != nil {
		l.CostBasisUSDTotal = models.Known(dec(*cost))
	}
	return l
}

func usd(s string) *string {
	return &s
}

func TestMatchSell_ConsumesOldestFirst(t *testing.T) {
	lots := []models.Lot{
		lot(1, 0, "10", usd("100")),
		lot(2, time.Hour, "5", usd("60")),
	}

	match, err := MatchSell(lots, 12, 20)
	require.NoError(t, err)

	assert.True(t, match.TotalCostConsumed.Equal(dec("124")), "got %s", match.TotalCostConsumed)
	assert.True(t, match.Proceeds.Equal(dec("240")))
	assert.True(t, match.RealizedGainLoss.Equal(dec("116")))
	assert.True(t, match.UncoveredQty.IsZero())
	assert.Equal(t, UnknownCostAsZero, match.Policy)

	require.Len(t, match.Consumptions, 2)
	assert.Equal(t, uint(1), match.Consumptions[0].LotID)
	assert.True(t, match.Consumptions[0].Qty.Equal(dec("10")))
	assert.True(t, match.Consumptions[0].Cost.Equal(dec("100")))
	assert.Equal(t, uint(2), match.Consumptions[1].LotID)
	assert.True(t, match.Consumptions[1].Qty.Equal(dec("2")))
	assert.True(t, match.Consumptions[1].Cost.Equal(dec("24")))
}

func TestMatchSell_GainIsProceedsMinusCost(t *testing.T) {
	lots := []models.Lot{
		lot(1, 0, "3", usd("7.5")),
		lot(2, time.Minute, "4", nil),
		lot(3, time.Hour, "0.25", usd("1")),
	}

	for _, tc := range []struct{ qty, price float64 }{
		{0.5, 1}, {3, 0}, {6.75, 2.5}, {7.25, 3}, {100, 0.1},
	} {
		match, err := MatchSell(lots, tc.qty, tc.price)
		require.NoError(t, err)
		assert.True(t, match.RealizedGainLoss.Equal(match.Proceeds.Sub(match.TotalCostConsumed)))
	}
}

func TestMatchSell_Validation(t *testing.T) {
	lots := []models.Lot{lot(1, 0, "1", usd("1"))}

	tests := []struct {
		name  string
		qty   float64
		price float64
		field string
	}{
		{"zero quantity", 0, 1, "sell_qty"},
		{"negative quantity", -1, 1, "sell_qty"},
		{"NaN quantity", math.NaN(), 1, "sell_qty"},
		{"infinite quantity", math.Inf(1), 1, "sell_qty"},
		{"negative price", 1, -0.01, "price_per_unit"},
		{"NaN price", 1, math.NaN(), "price_per_unit"},
		{"infinite price", 1, math.Inf(-1), "price_per_unit"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := MatchSell(lots, tc.qty, tc.price)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSell)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.field, validationErr.Field)
		})
	}
}

func TestMatchSell_ZeroPriceIsAllowed(t *testing.T) {
	match, err := MatchSell([]models.Lot{lot(1, 0, "2", usd("10"))}, 1, 0)
	require.NoError(t, err)
	assert.True(t, match.Proceeds.IsZero())
	assert.True(t, match.RealizedGainLoss.Equal(dec("-5")))
}

func TestMatchSell_UnknownCostCountsAsZero(t *testing.T) {
	lots := []models.Lot{
		lot(1, 0, "4", nil),
		lot(2, time.Hour, "4", usd("40")),
	}

	match, err := MatchSell(lots, 6, 10)
	require.NoError(t, err)

	assert.True(t, match.TotalCostConsumed.Equal(dec("20")))
	assert.True(t, match.UnknownCostQty.Equal(dec("4")))
	assert.False(t, match.Consumptions[0].CostKnown)
	assert.True(t, match.Consumptions[1].CostKnown)
}

func TestMatchSell_SellBeyondLots(t *testing.T) {
	lots := []models.Lot{lot(1, 0, "2", usd("10"))}

	match, err := MatchSell(lots, 5, 4)
	require.NoError(t, err)

	assert.True(t, match.TotalCostConsumed.Equal(dec("10")))
	assert.True(t, match.UncoveredQty.Equal(dec("3")))
	assert.True(t, match.Proceeds.Equal(dec("20")))
	assert.True(t, match.RealizedGainLoss.Equal(dec("10")))
}

func TestMatchSell_NoLots(t *testing.T) {
	match, err := MatchSell(nil, 1, 5)
	require.NoError(t, err)
	assert.Empty(t, match.Consumptions)
	assert.True(t, match.UncoveredQty.Equal(dec("1")))
	assert.True(t, match.RealizedGainLoss.Equal(dec("5")))
}

func TestMatchSell_SkipsEmptyLots(t *testing.T) {
	lots := []models.Lot{
		lot(1, 0, "0", usd("0")),
		lot(2, time.Hour, "1", usd("3")),
	}

	match, err := MatchSell(lots, 1, 1)
	require.NoError(t, err)
	require.Len(t, match.Consumptions, 1)
	assert.Equal(t, uint(2), match.Consumptions[0].LotID)
}

func TestMatchSell_OrdersByTimestampThenID(t *testing.T) {
	lots := []models.Lot{
		lot(3, time.Hour, "1", usd("30")),
		lot(2, 0, "1", usd("20")),
		lot(1, 0, "1", usd("10")),
	}

	match, err := MatchSell(lots, 2, 0)
	require.NoError(t, err)

	require.Len(t, match.Consumptions, 2)
	assert.Equal(t, uint(1), match.Consumptions[0].LotID)
	assert.Equal(t, uint(2), match.Consumptions[1].LotID)
	assert.True(t, match.TotalCostConsumed.Equal(dec("30")))
}

func TestMatchSell_DoesNotModifyLots(t *testing.T) {
	lots := []models.Lot{
		lot(2, time.Hour, "5", usd("60")),
		lot(1, 0, "10", usd("100")),
	}
	before := append([]models.Lot(nil), lots...)

	first, err := MatchSell(lots, 12, 20)
	require.NoError(t, err)
	second, err := MatchSell(lots, 12, 20)
	require.NoError(t, err)

	assert.Equal(t, before, lots)
	assert.True(t, first.TotalCostConsumed.Equal(second.TotalCostConsumed))
}
