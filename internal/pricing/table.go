package pricing

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrEmptySeries is reported for an asset whose provider returned no points
var ErrEmptySeries = errors.New("empty price series")

// Table holds resolved prices keyed by asset and requested time
type Table struct {
	prices map[string]map[int64]decimal.Decimal
	failed map[string]error
}

func newTable() *Table {
	return &Table{
		prices: make(map[string]map[int64]decimal.Decimal),
		failed: make(map[string]error),
	}
}

// PriceAt returns the price resolved for a requested (asset, time) pair
func (t *Table) PriceAt(assetID string, ts time.Time) (decimal.Decimal, bool) {
	byTime, ok := t.prices[assetID]
	if !ok {
		return decimal.Zero, false
	}
	price, ok := byTime[ts.UnixNano()]
	return price, ok
}

// Failed lists assets whose series could not be used, sorted
func (t *Table) Failed() []string {
	assets := make([]string, 0, len(t.failed))
	for asset := range t.failed {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Err returns why an asset's series could not be used
func (t *Table) Err(assetID string) error {
	return t.failed[assetID]
}

// Aliased answers lookups by ledger asset through a map to provider identifiers
type Aliased struct {
	table   *Table
	aliases map[string]string
}

// WithAliases lets callers look prices up by their own asset identifiers.
// Assets without an alias never resolve.
func (t *Table) WithAliases(aliases map[string]string) *Aliased {
	return &Aliased{table: t, aliases: aliases}
}

// PriceAt resolves a ledger asset through its alias
func (a *Aliased) PriceAt(assetID string, ts time.Time) (decimal.Decimal, bool) {
	id, ok := a.aliases[assetID]
	if !ok {
		return decimal.Zero, false
	}
	return a.table.PriceAt(id, ts)
}
