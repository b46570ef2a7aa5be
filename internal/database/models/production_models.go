package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "PENDING"
	BatchInProgress BatchStatus = "IN_PROGRESS"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchCancelled  BatchStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchCancelled
}

// Recipe defines how one output item is produced from ingredient items.
// Owned by the catalog module; the orchestrator only reads it.
type Recipe struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	TenantID     int64  `gorm:"index;not null"`
	RecipeName   string `gorm:"size:255;not null"`
	OutputItemID int64  `gorm:"index;not null"`
	IsActive     bool   `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	OutputItem  *Item              `gorm:"foreignKey:OutputItemID"`
	Ingredients []RecipeIngredient `gorm:"foreignKey:RecipeID"`
}

type RecipeIngredient struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	RecipeID int64 `gorm:"index;not null"`
	ItemID   int64 `gorm:"index;not null"`
	// QuantityPerUnit is the ingredient quantity consumed per unit of output.
	QuantityPerUnit decimal.Decimal `gorm:"type:decimal(18,4);not null"`

	Item *Item `gorm:"foreignKey:ItemID"`
}

// ProductionBatch is one production run converting ingredient stock into
// output-product stock. Owned exclusively by the production orchestrator.
type ProductionBatch struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	TenantID        int64  `gorm:"not null;uniqueIndex:idx_batches_tenant_ref,priority:1"`
	RecipeID        int64  `gorm:"index;not null"`
	BatchReference  string `gorm:"size:100;not null;uniqueIndex:idx_batches_tenant_ref,priority:2"`
	PlannedQuantity decimal.Decimal     `gorm:"type:decimal(18,4);not null"`
	ActualQuantity  decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	Status          BatchStatus         `gorm:"type:varchar(20);index;not null"`
	CostPerUnit     decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	CancelReason    *string             `gorm:"type:text"`
	StartedAt       *time.Time
	FinishedAt      *time.Time
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Recipe *Recipe `gorm:"foreignKey:RecipeID"`
}
