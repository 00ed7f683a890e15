package models

import (
	"time"
)

// Holding is one asset position of an imported wallet
type Holding struct {
	ID                uint   `gorm:"primarykey"`
	WalletAddress     string `gorm:"size:42;uniqueIndex:idx_holdings_wallet_asset;not null"`
	AssetID           string `gorm:"size:66;uniqueIndex:idx_holdings_wallet_asset;not null"`
	ContractAddress   string `gorm:"size:42;index"`
	Symbol            string `gorm:"size:32"`
	Decimals          int
	CostBasisPerUnit  CostBasis `gorm:"type:numeric"`
	CostBasisCurrency string    `gorm:"size:8;default:USD"`
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Relationships
	Lots []Lot `gorm:"foreignKey:HoldingID;constraint:OnDelete:CASCADE"`
}

// ImportStatus is the outcome of one wallet import run
type ImportStatus string

const (
	ImportSucceeded ImportStatus = "succeeded"
	ImportDegraded  ImportStatus = "degraded"
	ImportFailed    ImportStatus = "failed"
)

// ImportRun records one wallet import for auditing
type ImportRun struct {
	ID            string    `gorm:"size:36;primarykey"`
	WalletAddress string    `gorm:"size:42;index;not null"`
	StartedAt     time.Time `gorm:"index"`
	FinishedAt    time.Time
	Status        ImportStatus `gorm:"size:16;index"`
	Groups        int
	LotsCreated   int
	UnpricedCount int
	Diagnostic    string `gorm:"type:text"`
}
