package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NativeAssetID identifies the chain's native currency among token legs
const NativeAssetID = "native"

// Direction is the movement of an asset relative to the tracked wallet
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// TokenTransferRow is one ERC-20 style transfer as reported by the history provider
type TokenTransferRow struct {
	Hash      string
	Timestamp time.Time
	From      string
	To        string
	Contract  string
	RawValue  string
	Decimals  string
	Symbol    string
}

// NativeTransferRow is one native-currency transfer as reported by the history provider
type NativeTransferRow struct {
	Hash      string
	Timestamp time.Time
	From      string
	To        string
	RawValue  string
}

// TokenDelta is the net movement of one asset within one transaction
type TokenDelta struct {
	AssetID         string
	ContractAddress string // empty for the native asset
	Symbol          string
	Decimals        int
	Qty             decimal.Decimal
	Direction       Direction
}

// IsNative reports whether the delta is the chain's native currency
func (d TokenDelta) IsNative() bool {
	return d.AssetID == NativeAssetID
}

// TransactionGroup is every movement sharing one transaction hash
type TransactionGroup struct {
	Hash      string
	Timestamp time.Time
	Tokens    []TokenDelta
	Native    *TokenDelta
}

// Legs returns the token legs followed by the native leg, if any
func (g TransactionGroup) Legs() []TokenDelta {
	legs := make([]TokenDelta, 0, len(g.Tokens)+1)
	legs = append(legs, g.Tokens...)
	if g.Native != nil {
		legs = append(legs, *g.Native)
	}
	return legs
}

// PricePoint is one historical USD quote
type PricePoint struct {
	Timestamp time.Time
	PriceUSD  decimal.Decimal
}
