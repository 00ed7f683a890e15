package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/wnt/lotkeeper/internal/models"
)

var base = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func point(offset time.Duration, price int64) models.PricePoint {
	return models.PricePoint{Timestamp: base.Add(offset), PriceUSD: decimal.NewFromInt(price)}
}

func TestNearestAtOrBefore(t *testing.T) {
	series := []models.PricePoint{
		point(0, 10),
		point(5*time.Minute, 11),
		point(10*time.Minute, 12),
	}

	tests := []struct {
		name   string
		target time.Time
		want   int64
		ok     bool
	}{
		{"before first point", base.Add(-time.Second), 0, false},
		{"exactly first point", base, 10, true},
		{"between points", base.Add(7 * time.Minute), 11, true},
		{"exactly a later point", base.Add(10 * time.Minute), 12, true},
		{"after last point", base.Add(time.Hour), 12, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NearestAtOrBefore(series, tc.target)
			assert.Equal(t, tc.ok, ok)
			if !tc.ok {
				return
			}
			assert.True(t, got.PriceUSD.Equal(decimal.NewFromInt(tc.want)))
			assert.False(t, got.Timestamp.After(tc.target), "returned a point after the query time")
		})
	}
}

func TestNearestAtOrBefore_EmptySeries(t *testing.T) {
	_, ok := NearestAtOrBefore(nil, base)
	assert.False(t, ok)
}

func TestNearestAtOrBefore_NeverReturnsLaterPoint(t *testing.T) {
	series := []models.PricePoint{point(0, 1), point(time.Minute, 2), point(2*time.Minute, 3)}

	for offset := -time.Minute; offset <= 3*time.Minute; offset += 10 * time.Second {
		target := base.Add(offset)
		if got, ok := NearestAtOrBefore(series, target); ok {
			assert.False(t, got.Timestamp.After(target))
		}
	}
}
