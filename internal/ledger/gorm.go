package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wnt/lotkeeper/internal/metrics"
	"github.com/wnt/lotkeeper/internal/models"
)

const lotBatchSize = 500

// GormRepository implements Repository on top of gorm
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a repository using db
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func record(operation string, err error) error {
	if err != nil {
		metrics.RecordDatabaseOperation(operation, "failed")
		return err
	}
	metrics.RecordDatabaseOperation(operation, "success")
	return nil
}

func (r *GormRepository) EnsureHolding(ctx context.Context, wallet string, asset HoldingAsset) (*models.Holding, error) {
	var holding models.Holding
	result := r.db.WithContext(ctx).
		Where(models.Holding{WalletAddress: wallet, AssetID: asset.AssetID}).
		Attrs(models.Holding{
			ContractAddress:   asset.ContractAddress,
			Symbol:            asset.Symbol,
			Decimals:          asset.Decimals,
			CostBasisCurrency: "USD",
		}).
		FirstOrCreate(&holding)
	if err := record("ensure_holding", result.Error); err != nil {
		return nil, fmt.Errorf("failed to get or create holding: %w", err)
	}
	return &holding, nil
}

func (r *GormRepository) GetHolding(ctx context.Context, holdingID uint) (*models.Holding, error) {
	var holding models.Holding
	err := r.db.WithContext(ctx).First(&holding, holdingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrHoldingNotFound
	}
	if err := record("get_holding", err); err != nil {
		return nil, fmt.Errorf("failed to get holding %d: %w", holdingID, err)
	}
	return &holding, nil
}

func (r *GormRepository) ListHoldings(ctx context.Context, wallet string) ([]models.Holding, error) {
	var holdings []models.Holding
	err := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).Order("id ASC").Find(&holdings).Error
	if err := record("list_holdings", err); err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	return holdings, nil
}

func (r *GormRepository) CreateLots(ctx context.Context, batch []models.Lot) error {
	if len(batch) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).CreateInBatches(batch, lotBatchSize).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		record("insert_lots", err)
		return ErrDuplicateLot
	}
	if err := record("insert_lots", err); err != nil {
		return fmt.Errorf("failed to insert %d lots: %w", len(batch), err)
	}
	return nil
}

func (r *GormRepository) ListLotsForHolding(ctx context.Context, holdingID uint) ([]models.Lot, error) {
	var lots []models.Lot
	err := r.db.WithContext(ctx).
		Where("holding_id = ?", holdingID).
		Order("timestamp ASC, id ASC").
		Find(&lots).Error
	if err := record("list_lots", err); err != nil {
		return nil, fmt.Errorf("failed to list lots for holding %d: %w", holdingID, err)
	}
	return lots, nil
}

func (r *GormRepository) UpdateCostBasis(ctx context.Context, holdingID uint, perUnit models.CostBasis, currency string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Holding{}).
		Where("id = ?", holdingID).
		Updates(map[string]interface{}{
			"cost_basis_per_unit": perUnit,
			"cost_basis_currency": currency,
		})
	if err := record("update_cost_basis", result.Error); err != nil {
		return fmt.Errorf("failed to update cost basis of holding %d: %w", holdingID, err)
	}
	if result.RowsAffected == 0 {
		return ErrHoldingNotFound
	}
	return nil
}

func (r *GormRepository) DeleteHolding(ctx context.Context, holdingID uint) error {
	// lots go with the holding through ON DELETE CASCADE
	result := r.db.WithContext(ctx).Delete(&models.Holding{}, holdingID)
	if err := record("delete_holding", result.Error); err != nil {
		return fmt.Errorf("failed to delete holding %d: %w", holdingID, err)
	}
	if result.RowsAffected == 0 {
		return ErrHoldingNotFound
	}
	return nil
}

func (r *GormRepository) RecordImportRun(ctx context.Context, run *models.ImportRun) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := record("insert_import_run", tx.Create(run).Error); err != nil {
			return fmt.Errorf("failed to save import run %s: %w", run.ID, err)
		}

		wallet := models.Wallet{
			Address:        run.WalletAddress,
			LastImportedAt: run.FinishedAt,
			ImportCount:    1,
			LastRunID:      run.ID,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_imported_at": run.FinishedAt,
				"import_count":     gorm.Expr("wallets.import_count + 1"),
				"last_run_id":      run.ID,
				"updated_at":       time.Now().UTC(),
			}),
		}).Create(&wallet).Error
		if err := record("upsert_wallet", err); err != nil {
			return fmt.Errorf("failed to update wallet %s: %w", run.WalletAddress, err)
		}
		return nil
	})
}

func (r *GormRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx})
	})
}
