package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is the catalog anchor for stock records. CRUD on items lives outside the
// ledger; the fields kept here are the ones the ledger and alert sweep read.
type Item struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	TenantID      int64  `gorm:"not null;uniqueIndex:idx_items_tenant_code,priority:1"`
	ItemCode      string `gorm:"size:100;uniqueIndex:idx_items_tenant_code,priority:2"`
	ItemName      string `gorm:"size:255;not null"`
	UnitOfMeasure string `gorm:"size:50"`
	StandardCost  decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	ReorderLevel  decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	MaxStockLevel decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	IsActive      bool `gorm:"default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Stocks []StockRecord `gorm:"foreignKey:ItemID"`
}

type Warehouse struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	TenantID      int64   `gorm:"not null;uniqueIndex:idx_warehouses_tenant_code,priority:1"`
	WarehouseCode string  `gorm:"size:100;uniqueIndex:idx_warehouses_tenant_code,priority:2"`
	WarehouseName string  `gorm:"size:255;not null"`
	Location      *string `gorm:"size:255"`
	IsActive      bool    `gorm:"default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Stocks []StockRecord `gorm:"foreignKey:LocationID"`
}
