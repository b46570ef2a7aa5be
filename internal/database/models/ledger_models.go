package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of stock-affecting event kinds.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "PURCHASE"
	TransactionSale       TransactionType = "SALE"
	TransactionTransfer   TransactionType = "TRANSFER"
	TransactionUsage      TransactionType = "USAGE"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
	TransactionManual     TransactionType = "MANUAL"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionPurchase, TransactionSale, TransactionTransfer,
		TransactionUsage, TransactionAdjustment, TransactionManual:
		return true
	}
	return false
}

type MovementDirection string

const (
	MovementIn  MovementDirection = "IN"
	MovementOut MovementDirection = "OUT"
)

// StockRecord holds the current quantity/reserved state for one item at one
// location. Created lazily on first use, never deleted. Quantity and Reserved
// change only through logged ledger operations.
type StockRecord struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	TenantID   int64 `gorm:"not null;uniqueIndex:idx_stock_tenant_item_loc,priority:1"`
	ItemID     int64 `gorm:"not null;uniqueIndex:idx_stock_tenant_item_loc,priority:2"`
	LocationID int64 `gorm:"not null;uniqueIndex:idx_stock_tenant_item_loc,priority:3"`
	Quantity   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Reserved   decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	// UnitCost is the moving weighted-average cost, recalculated on every increase.
	UnitCost  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Item     *Item      `gorm:"foreignKey:ItemID"`
	Location *Warehouse `gorm:"foreignKey:LocationID"`
}

// Available is the portion free to allocate.
func (r StockRecord) Available() decimal.Decimal {
	return r.Quantity.Sub(r.Reserved)
}

// InventoryTransaction is the immutable system-of-record for every
// quantity-affecting event. Rows are never updated or deleted; corrections are
// new transactions.
type InventoryTransaction struct {
	ID              int64           `gorm:"primaryKey;autoIncrement"`
	TenantID        int64           `gorm:"index:idx_inv_tx_tenant_time,priority:1;not null"`
	StockRecordID   int64           `gorm:"index;not null"`
	ItemID          int64           `gorm:"index;not null"`
	LocationID      int64           `gorm:"index;not null"`
	TransactionType TransactionType `gorm:"type:varchar(30);index;not null"`
	// Quantity is signed: negative for outbound transfers, decreases and usage.
	Quantity    decimal.Decimal     `gorm:"type:decimal(18,4);not null"`
	CostPerUnit decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	Reference   string              `gorm:"size:100;index"`

	PurchaseOrderID     *int64 `gorm:"index"`
	SaleOrderID         *int64 `gorm:"index"`
	ProductionBatchID   *int64 `gorm:"index"`
	PairedTransactionID *int64

	CreatedBy int64
	Note      *string   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index:idx_inv_tx_tenant_time,priority:2"`
}

// StockMovement is the append-only physical IN/OUT log derived from
// transactions, denormalized for trend queries. Never the source of truth.
type StockMovement struct {
	ID            int64             `gorm:"primaryKey;autoIncrement"`
	TenantID      int64             `gorm:"index;not null"`
	StockRecordID int64             `gorm:"index;not null"`
	Direction     MovementDirection `gorm:"type:varchar(10);not null"`
	Quantity      decimal.Decimal   `gorm:"type:decimal(18,4);not null"`
	Reference     string            `gorm:"size:100"`
	CreatedBy     int64
	CreatedAt     time.Time `gorm:"index"`
}
