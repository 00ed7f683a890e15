package ledger

import (
	"context"
	"fmt"

	"github.com/wnt/lotkeeper/internal/models"
)

// MatchHoldingSell reads a holding's lots and matches a sell against them.
// Nothing is written.
func MatchHoldingSell(ctx context.Context, repo Repository, holdingID uint, sellQty, pricePerUnit float64) (*models.Holding, SellMatch, error) {
	if err := validateSell(sellQty, pricePerUnit); err != nil {
		return nil, SellMatch{}, err
	}

	holding, err := repo.GetHolding(ctx, holdingID)
	if err != nil {
		return nil, SellMatch{}, err
	}

	lots, err := repo.ListLotsForHolding(ctx, holdingID)
	if err != nil {
		return nil, SellMatch{}, fmt.Errorf("failed to load lots: %w", err)
	}

	match, err := MatchSell(lots, sellQty, pricePerUnit)
	if err != nil {
		return nil, SellMatch{}, err
	}
	return holding, match, nil
}

// AggregateHolding recomputes the weighted-average cost of a holding from
// all of its lots and stores it. It returns false when the holding has no
// quantity, in which case the stored cost basis becomes unknown.
func AggregateHolding(ctx context.Context, repo Repository, holdingID uint) (Aggregation, bool, error) {
	lots, err := repo.ListLotsForHolding(ctx, holdingID)
	if err != nil {
		return Aggregation{}, false, fmt.Errorf("failed to load lots: %w", err)
	}

	agg, ok := Aggregate(lots)
	perUnit := models.Unknown()
	if ok {
		perUnit = agg.CostBasis()
	}

	if err := repo.UpdateCostBasis(ctx, holdingID, perUnit, "USD"); err != nil {
		return agg, ok, err
	}
	return agg, ok, nil
}
