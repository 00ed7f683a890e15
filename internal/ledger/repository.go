// Package ledger stores holdings and their append-only acquisition lots, and
// computes FIFO sell matches and weighted-average cost over them.
package ledger

import (
	"context"
	"errors"

	"github.com/wnt/lotkeeper/internal/models"
)

var (
	// ErrHoldingNotFound is returned when a holding id does not exist
	ErrHoldingNotFound = errors.New("holding not found")
	// ErrDuplicateLot is returned when a transaction already has a lot in the holding
	ErrDuplicateLot = errors.New("lot already recorded for transaction")
)

// HoldingAsset identifies the asset a holding tracks
type HoldingAsset struct {
	AssetID         string
	ContractAddress string
	Symbol          string
	Decimals        int
}

// Repository is the lot and holding store.
// Lots have no update path: they are created in batches and only disappear
// together with their holding.
type Repository interface {
	// EnsureHolding returns the holding of wallet for the asset, creating it if needed
	EnsureHolding(ctx context.Context, wallet string, asset HoldingAsset) (*models.Holding, error)

	// GetHolding retrieves a holding by id
	GetHolding(ctx context.Context, holdingID uint) (*models.Holding, error)

	// ListHoldings returns every holding of a wallet ordered by id
	ListHoldings(ctx context.Context, wallet string) ([]models.Holding, error)

	// CreateLots inserts a batch of lots and assigns their ids
	CreateLots(ctx context.Context, batch []models.Lot) error

	// ListLotsForHolding returns lots in acquisition order (timestamp, then id)
	ListLotsForHolding(ctx context.Context, holdingID uint) ([]models.Lot, error)

	// UpdateCostBasis writes the displayed per-unit cost basis of a holding
	UpdateCostBasis(ctx context.Context, holdingID uint, perUnit models.CostBasis, currency string) error

	// DeleteHolding removes a holding and all of its lots
	DeleteHolding(ctx context.Context, holdingID uint) error

	// RecordImportRun stores the audit row of an import and touches the wallet record
	RecordImportRun(ctx context.Context, run *models.ImportRun) error

	// Transaction runs fn against a repository whose writes are all-or-nothing
	Transaction(ctx context.Context, fn func(Repository) error) error
}
