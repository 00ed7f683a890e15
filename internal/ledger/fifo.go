package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wnt/lotkeeper/internal/models"
)

// UnknownCostAsZero is the policy applied to lots without a cost basis:
// they contribute quantity but no cost. SellMatch.UnknownCostQty and
// Aggregation.UnknownCostQty report how much quantity it touched.
const UnknownCostAsZero = "unknown_cost_as_zero"

// ErrInvalidSell is wrapped by every ValidationError
var ErrInvalidSell = errors.New("invalid sell")

// ValidationError describes a rejected sell input
type ValidationError struct {
	Field string
	Value float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid sell: %s = %v", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSell
}

// Consumption is the part of one lot used by a sell
type Consumption struct {
	LotID     uint
	Timestamp time.Time
	Qty       decimal.Decimal
	Cost      decimal.Decimal
	CostKnown bool
}

// SellMatch is the FIFO outcome of one sell
type SellMatch struct {
	SellQty           decimal.Decimal
	PricePerUnit      decimal.Decimal
	TotalCostConsumed decimal.Decimal
	Proceeds          decimal.Decimal
	RealizedGainLoss  decimal.Decimal
	Consumptions      []Consumption

	// UnknownCostQty is the quantity matched against lots with no cost basis
	UnknownCostQty decimal.Decimal
	// UncoveredQty is the quantity sold beyond everything the lots hold; it carries zero cost
	UncoveredQty decimal.Decimal
	Policy       string
}

func validateSell(sellQty, pricePerUnit float64) error {
	if math.IsNaN(sellQty) || math.IsInf(sellQty, 0) || sellQty <= 0 {
		return &ValidationError{Field: "sell_qty", Value: sellQty}
	}
	if math.IsNaN(pricePerUnit) || math.IsInf(pricePerUnit, 0) || pricePerUnit < 0 {
		return &ValidationError{Field: "price_per_unit", Value: pricePerUnit}
	}
	return nil
}

// MatchSell consumes lots oldest first to cover sellQty sold at pricePerUnit.
//
// The ledger is never shrunk by a sell: every call starts from the full lot
// list, so the result describes this sell as if no other sell happened. The
// lots slice is not modified. Reconciling several sells against one holding
// is the caller's job.
func MatchSell(lots []models.Lot, sellQty, pricePerUnit float64) (SellMatch, error) {
	if err := validateSell(sellQty, pricePerUnit); err != nil {
		return SellMatch{}, err
	}

	qty := decimal.NewFromFloat(sellQty)
	price := decimal.NewFromFloat(pricePerUnit)

	ordered := append([]models.Lot(nil), lots...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	match := SellMatch{
		SellQty:           qty,
		PricePerUnit:      price,
		TotalCostConsumed: decimal.Zero,
		UnknownCostQty:    decimal.Zero,
		UncoveredQty:      decimal.Zero,
		Policy:            UnknownCostAsZero,
	}

	remaining := qty
	for _, lot := range ordered {
		if !remaining.IsPositive() {
			break
		}
		if !lot.QtyIn.IsPositive() {
			continue
		}

		portion := decimal.Min(remaining, lot.QtyIn)
		consumption := Consumption{
			LotID:     lot.ID,
			Timestamp: lot.Timestamp,
			Qty:       portion,
			Cost:      decimal.Zero,
		}

		if total, ok := lot.CostBasisUSDTotal.Amount(); ok {
			consumption.Cost = total.Mul(portion).Div(lot.QtyIn)
			consumption.CostKnown = true
		} else {
			match.UnknownCostQty = match.UnknownCostQty.Add(portion)
		}

		match.TotalCostConsumed = match.TotalCostConsumed.Add(consumption.Cost)
		match.Consumptions = append(match.Consumptions, consumption)
		remaining = remaining.Sub(portion)
	}

	if remaining.IsPositive() {
		match.UncoveredQty = remaining
	}

	match.Proceeds = qty.Mul(price)
	match.RealizedGainLoss = match.Proceeds.Sub(match.TotalCostConsumed)
	return match, nil
}
