// Package classify labels transaction groups as transfers or swaps and
// attributes a USD cost basis to every inbound leg.
package classify

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wnt/lotkeeper/internal/models"
	"github.com/wnt/lotkeeper/internal/utils"
)

// PriceLookup answers historical USD prices resolved ahead of classification
type PriceLookup interface {
	PriceAt(assetID string, ts time.Time) (decimal.Decimal, bool)
}

// Summary counts what a classification produced
type Summary struct {
	Lots      int
	Unpriced  int
	Transfers int
	Swaps     int
}

// Classify produces one computed lot per inbound leg, in group order.
//
// A group without any outflow is a transfer: each inbound leg is valued at
// its own price, or left unknown when no price resolves.
//
// A group with any outflow, native included, is a swap: the USD value given
// up is spread over the inbound legs in proportion to their USD value.
// Outflow legs without a price contribute nothing. When no inbound leg has a
// price there is nothing to weight by, so every inbound leg stays unknown.
func Classify(groups []models.TransactionGroup, prices PriceLookup) []models.ComputedLot {
	var lots []models.ComputedLot
	for _, g := range groups {
		lots = append(lots, classifyGroup(g, prices)...)
	}
	return lots
}

func classifyGroup(g models.TransactionGroup, prices PriceLookup) []models.ComputedLot {
	legs := g.Legs()
	inflows, outflows := utils.Partition(legs, func(d models.TokenDelta) bool { return d.Direction == models.DirectionIn })

	if len(inflows) == 0 {
		return nil
	}

	if len(outflows) == 0 {
		lots := make([]models.ComputedLot, 0, len(inflows))
		for _, leg := range inflows {
			cost := models.Unknown()
			if price, ok := prices.PriceAt(leg.AssetID, g.Timestamp); ok {
				cost = models.Known(leg.Qty.Mul(price))
			}
			lots = append(lots, newLot(g, leg, cost, models.SourceTransfer))
		}
		return lots
	}

	usdOut := decimal.Zero
	for _, leg := range outflows {
		usdOut = usdOut.Add(valueAt(prices, leg, g.Timestamp))
	}

	inboundValues := make([]decimal.Decimal, len(inflows))
	totalInbound := decimal.Zero
	for i, leg := range inflows {
		inboundValues[i] = valueAt(prices, leg, g.Timestamp)
		totalInbound = totalInbound.Add(inboundValues[i])
	}

	lots := make([]models.ComputedLot, 0, len(inflows))
	for i, leg := range inflows {
		cost := models.Unknown()
		if totalInbound.IsPositive() {
			cost = models.Known(usdOut.Mul(inboundValues[i]).Div(totalInbound))
		}
		lots = append(lots, newLot(g, leg, cost, models.SourceSwap))
	}
	return lots
}

// valueAt is qty * price, or zero when the price is unavailable
func valueAt(prices PriceLookup, leg models.TokenDelta, ts time.Time) decimal.Decimal {
	price, ok := prices.PriceAt(leg.AssetID, ts)
	if !ok {
		return decimal.Zero
	}
	return leg.Qty.Mul(price)
}

func newLot(g models.TransactionGroup, leg models.TokenDelta, cost models.CostBasis, source models.LotSource) models.ComputedLot {
	return models.ComputedLot{
		AssetID:         leg.AssetID,
		ContractAddress: leg.ContractAddress,
		Symbol:          leg.Symbol,
		Decimals:        leg.Decimals,
		TxHash:          g.Hash,
		Timestamp:       g.Timestamp,
		QtyIn:           leg.Qty,
		CostBasis:       cost,
		Source:          source,
	}
}

// Summarize counts lots, unpriced lots and distinct transfer and swap transactions
func Summarize(lots []models.ComputedLot) Summary {
	var s Summary
	seen := make(map[string]bool)
	for _, lot := range lots {
		s.Lots++
		if !lot.CostBasis.IsKnown() {
			s.Unpriced++
		}
		if seen[lot.TxHash] {
			continue
		}
		seen[lot.TxHash] = true
		switch lot.Source {
		case models.SourceTransfer:
			s.Transfers++
		case models.SourceSwap:
			s.Swaps++
		}
	}
	return s
}
