package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotSource records how an acquisition was classified
type LotSource string

const (
	SourceTransfer LotSource = "transfer"
	SourceSwap     LotSource = "swap"
)

// ComputedLot is an acquisition derived from one inbound leg, before it is persisted
type ComputedLot struct {
	AssetID         string
	ContractAddress string
	Symbol          string
	Decimals        int
	TxHash          string
	Timestamp       time.Time
	QtyIn           decimal.Decimal
	CostBasis       CostBasis
	Source          LotSource
}

// Lot is a persisted acquisition owned by exactly one holding.
// Lots are append-only: there is no update path, and they disappear only
// when their holding is deleted. A transaction adds at most one lot to a
// holding.
type Lot struct {
	ID                uint            `gorm:"primarykey;index:idx_lots_holding_order,priority:3"`
	HoldingID         uint            `gorm:"index:idx_lots_holding_order,priority:1;uniqueIndex:idx_lots_holding_tx,priority:1;not null"`
	AssetID           string          `gorm:"size:66;index;not null"`
	TxHash            string          `gorm:"size:66;uniqueIndex:idx_lots_holding_tx,priority:2"`
	Timestamp         time.Time       `gorm:"index:idx_lots_holding_order,priority:2;not null"`
	QtyIn             decimal.Decimal `gorm:"type:numeric;not null"`
	CostBasisUSDTotal CostBasis       `gorm:"type:numeric"`
	Source            LotSource       `gorm:"size:16;not null"`
	ImportRunID       string          `gorm:"size:36;index"`
	CreatedAt         time.Time
}

// Before reports whether l was acquired before o in ledger order
func (l Lot) Before(o Lot) bool {
	if !l.Timestamp.Equal(o.Timestamp) {
		return l.Timestamp.Before(o.Timestamp)
	}
	return l.ID < o.ID
}
