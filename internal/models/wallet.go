package models

import (
	"time"

	"gorm.io/gorm"
)

// Wallet is an EVM address that has been imported at least once
type Wallet struct {
	gorm.Model
	Address        string    `gorm:"size:42;uniqueIndex;not null"`
	LastImportedAt time.Time `gorm:"index"`
	ImportCount    int       `gorm:"default:0"`
	LastRunID      string    `gorm:"size:36"`
}
