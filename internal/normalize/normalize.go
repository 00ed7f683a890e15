// Package normalize turns raw transfer feeds into per-transaction asset
// deltas relative to one wallet.
package normalize

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wnt/lotkeeper/internal/models"
)

// DefaultDecimals is used when a token row has no usable decimals value
const DefaultDecimals = 18

// maxDecimals bounds the shift applied to raw values
const maxDecimals = 77

// Options describes the chain's native currency
type Options struct {
	NativeSymbol   string
	NativeDecimals int
}

// DefaultOptions returns the options for an Ethereum-style chain
func DefaultOptions() Options {
	return Options{
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
	}
}

// TimestampMismatch records two feeds disagreeing on when a transaction happened
type TimestampMismatch struct {
	Hash string
	Kept time.Time
	Seen time.Time
}

// Result holds the grouped transactions and anything noticed along the way
type Result struct {
	Groups     []models.TransactionGroup
	Mismatches []TimestampMismatch
	// DroppedRows counts rows that could not be attributed to the wallet
	DroppedRows int
}

// Normalizer groups raw rows by transaction hash. It has no side effects.
type Normalizer struct {
	opts Options
}

// New creates a normalizer for the given native currency
func New(opts Options) *Normalizer {
	if opts.NativeSymbol == "" {
		opts.NativeSymbol = DefaultOptions().NativeSymbol
	}
	if opts.NativeDecimals <= 0 {
		opts.NativeDecimals = DefaultOptions().NativeDecimals
	}
	return &Normalizer{opts: opts}
}

// assetSum accumulates the signed movement of one asset inside one transaction
type assetSum struct {
	contract string
	symbol   string
	decimals int
	net      decimal.Decimal
}

type groupBuilder struct {
	hash      string
	timestamp time.Time
	assets    map[string]*assetSum
	order     []string
	native    decimal.Decimal
}

// Normalize groups token and native rows by hash and nets every asset to a
// single signed delta. Token rows are visited before native rows, and the
// group timestamp is the earliest one reported for the hash.
func (n *Normalizer) Normalize(wallet string, tokens []models.TokenTransferRow, natives []models.NativeTransferRow) Result {
	var result Result
	groups := make(map[string]*groupBuilder)
	var order []string

	group := func(hash string, ts time.Time) *groupBuilder {
		key := strings.ToLower(strings.TrimSpace(hash))
		g, ok := groups[key]
		if !ok {
			g = &groupBuilder{
				hash:      key,
				timestamp: ts,
				assets:    make(map[string]*assetSum),
			}
			groups[key] = g
			order = append(order, key)
			return g
		}
		if !ts.Equal(g.timestamp) {
			kept := g.timestamp
			if ts.Before(kept) {
				kept = ts
			}
			result.Mismatches = append(result.Mismatches, TimestampMismatch{
				Hash: key,
				Kept: kept,
				Seen: ts,
			})
			g.timestamp = kept
		}
		return g
	}

	for _, row := range tokens {
		contract := strings.ToLower(strings.TrimSpace(row.Contract))
		if contract == "" {
			result.DroppedRows++
			continue
		}

		decimals := parseDecimals(row.Decimals)
		qty := parseQty(row.RawValue, decimals)
		if !sameAddress(row.To, wallet) {
			qty = qty.Neg()
		}

		g := group(row.Hash, row.Timestamp)
		sum, ok := g.assets[contract]
		if !ok {
			sum = &assetSum{
				contract: contract,
				symbol:   strings.TrimSpace(row.Symbol),
				decimals: decimals,
			}
			g.assets[contract] = sum
			g.order = append(g.order, contract)
		}
		sum.net = sum.net.Add(qty)
	}

	for _, row := range natives {
		var sign int64
		switch {
		case sameAddress(row.To, wallet):
			sign = 1
		case sameAddress(row.From, wallet):
			sign = -1
		default:
			result.DroppedRows++
			continue
		}

		qty := parseQty(row.RawValue, n.opts.NativeDecimals)
		g := group(row.Hash, row.Timestamp)
		g.native = g.native.Add(qty.Mul(decimal.NewFromInt(sign)))
	}

	result.Groups = make([]models.TransactionGroup, 0, len(order))
	for _, key := range order {
		result.Groups = append(result.Groups, n.build(groups[key]))
	}

	sort.SliceStable(result.Groups, func(i, j int) bool {
		a, b := result.Groups[i], result.Groups[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Hash < b.Hash
	})

	return result
}

func (n *Normalizer) build(g *groupBuilder) models.TransactionGroup {
	tg := models.TransactionGroup{
		Hash:      g.hash,
		Timestamp: g.timestamp,
	}

	for _, contract := range g.order {
		sum := g.assets[contract]
		if sum.net.IsZero() {
			continue
		}
		tg.Tokens = append(tg.Tokens, models.TokenDelta{
			AssetID:         sum.contract,
			ContractAddress: sum.contract,
			Symbol:          sum.symbol,
			Decimals:        sum.decimals,
			Qty:             sum.net.Abs(),
			Direction:       directionOf(sum.net),
		})
	}

	if !g.native.IsZero() {
		tg.Native = &models.TokenDelta{
			AssetID:   models.NativeAssetID,
			Symbol:    n.opts.NativeSymbol,
			Decimals:  n.opts.NativeDecimals,
			Qty:       g.native.Abs(),
			Direction: directionOf(g.native),
		}
	}

	return tg
}

func directionOf(net decimal.Decimal) models.Direction {
	if net.IsNegative() {
		return models.DirectionOut
	}
	return models.DirectionIn
}

// parseDecimals falls back to DefaultDecimals for missing or malformed values
func parseDecimals(s string) int {
	d, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || d < 0 || d > maxDecimals {
		return DefaultDecimals
	}
	return d
}

// parseQty converts a raw integer amount to units; malformed input yields zero
func parseQty(raw string, decimals int) decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || v.IsNegative() {
		return decimal.Zero
	}
	return v.Shift(int32(-decimals))
}

func sameAddress(a, b string) bool {
	a = strings.TrimSpace(a)
	return a != "" && strings.EqualFold(a, strings.TrimSpace(b))
}
