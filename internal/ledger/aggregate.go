package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/wnt/lotkeeper/internal/models"
)

// Aggregation is the weighted-average view of a holding's lots
type Aggregation struct {
	Lots         int
	TotalQty     decimal.Decimal
	TotalCost    decimal.Decimal
	PerUnit      decimal.Decimal
	UnpricedLots int
	// UnknownCostQty is quantity counted in TotalQty whose cost counts as zero
	UnknownCostQty decimal.Decimal
}

// CostBasis returns the per-unit amount as a known cost basis
func (a Aggregation) CostBasis() models.CostBasis {
	return models.Known(a.PerUnit)
}

// Aggregate sums quantity over every lot and cost over lots with a known
// cost basis (UnknownCostAsZero). It reports false when the total quantity is
// zero and no per-unit cost exists.
func Aggregate(lots []models.Lot) (Aggregation, bool) {
	agg := Aggregation{
		Lots:           len(lots),
		TotalQty:       decimal.Zero,
		TotalCost:      decimal.Zero,
		PerUnit:        decimal.Zero,
		UnknownCostQty: decimal.Zero,
	}

	for _, lot := range lots {
		agg.TotalQty = agg.TotalQty.Add(lot.QtyIn)
		if total, ok := lot.CostBasisUSDTotal.Amount(); ok {
			agg.TotalCost = agg.TotalCost.Add(total)
			continue
		}
		agg.UnpricedLots++
		agg.UnknownCostQty = agg.UnknownCostQty.Add(lot.QtyIn)
	}

	if agg.TotalQty.IsZero() {
		return agg, false
	}
	agg.PerUnit = agg.TotalCost.DivRound(agg.TotalQty, 18)
	return agg, true
}
