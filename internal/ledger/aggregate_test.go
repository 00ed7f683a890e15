package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnt/lotkeeper/internal/models"
)

func TestAggregate_WeightedAverage(t *testing.T) {
	lots := []models.Lot{
		lot(1, 0, "10", usd("100")),
		lot(2, time.Hour, "5", usd("60")),
	}

	agg, ok := Aggregate(lots)
	require.True(t, ok)

	assert.True(t, agg.TotalQty.Equal(dec("15")))
	assert.True(t, agg.TotalCost.Equal(dec("160")))
	assert.True(t, agg.PerUnit.Sub(dec("10.666666666666666667")).Abs().LessThan(dec("0.000000000000000001")))
	assert.Equal(t, 2, agg.Lots)
	assert.Zero(t, agg.UnpricedLots)
	assert.True(t, agg.CostBasis().IsKnown())
}

func TestAggregate_UnknownCostContributesQuantityOnly(t *testing.T) {
	lots := []models.Lot{
		lot(1, 0, "2", usd("10")),
		lot(2, time.Hour, "3", nil),
	}

	agg, ok := Aggregate(lots)
	require.True(t, ok)

	assert.True(t, agg.TotalQty.Equal(dec("5")))
	assert.True(t, agg.TotalCost.Equal(dec("10")))
	assert.True(t, agg.PerUnit.Equal(dec("2")))
	assert.Equal(t, 1, agg.UnpricedLots)
	assert.True(t, agg.UnknownCostQty.Equal(dec("3")))
}

func TestAggregate_NoAggregate(t *testing.T) {
	_, ok := Aggregate(nil)
	assert.False(t, ok)

	_, ok = Aggregate([]models.Lot{lot(1, 0, "0", usd("5"))})
	assert.False(t, ok)
}

func TestAggregate_Idempotent(t *testing.T) {
	lots := []models.Lot{
		lot(1, 0, "1.5", usd("3")),
		lot(2, time.Minute, "2.25", nil),
		lot(3, time.Hour, "0.75", usd("9")),
	}

	first, ok := Aggregate(lots)
	require.True(t, ok)
	second, ok := Aggregate(lots)
	require.True(t, ok)

	assert.Equal(t, first, second)
}
