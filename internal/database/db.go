package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ventra-system/internal/database/models"
)

func NewConnection(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		log.Fatal("DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get sql.DB: %v", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	return db, nil
}

// Migrate creates or updates the schema for every model the ledger owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Item{},
		&models.Warehouse{},
		&models.StockRecord{},
		&models.InventoryTransaction{},
		&models.StockMovement{},
		&models.Recipe{},
		&models.RecipeIngredient{},
		&models.ProductionBatch{},
		&models.Alert{},
	)
}

// LockForUpdate applies a row-level write lock on postgres. The sqlite dialect
// used by the test suite does not parse FOR UPDATE and serializes writers itself.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
