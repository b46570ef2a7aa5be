package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ventra-system/internal/apperr"
	"ventra-system/internal/database"
	"ventra-system/internal/database/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(openTestDB(t), nil, nil)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedStock(t *testing.T, db *gorm.DB, tenantID, itemID, locationID int64, qty, reserved, unitCost string) models.StockRecord {
	t.Helper()
	rec := models.StockRecord{
		TenantID:   tenantID,
		ItemID:     itemID,
		LocationID: locationID,
		Quantity:   dec(qty),
		Reserved:   dec(reserved),
		UnitCost:   dec(unitCost),
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("failed to seed stock record: %v", err)
	}
	return rec
}

func TestReserveAndRelease(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStock(t, svc.db, 1, 10, 100, "10", "0", "2")

	rec, err := svc.Reserve(ctx, ReserveInput{TenantID: 1, ItemID: 10, LocationID: 100, Quantity: dec("5"), ActorID: 7})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if !rec.Quantity.Equal(dec("10")) {
		t.Errorf("reserve must not change quantity, got %s", rec.Quantity)
	}
	if !rec.Reserved.Equal(dec("5")) {
		t.Errorf("expected reserved 5, got %s", rec.Reserved)
	}
	if !rec.Available().Equal(dec("5")) {
		t.Errorf("expected available 5, got %s", rec.Available())
	}

	rec, err = svc.Release(ctx, ReleaseInput{TenantID: 1, ItemID: 10, LocationID: 100, Quantity: dec("3"), ActorID: 7})
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !rec.Reserved.Equal(dec("2")) {
		t.Errorf("expected reserved 2 after release, got %s", rec.Reserved)
	}

	_, err = svc.Release(ctx, ReleaseInput{TenantID: 1, ItemID: 10, LocationID: 100, Quantity: dec("3"), ActorID: 7})
	if !apperr.IsValidation(err) {
		t.Errorf("releasing more than reserved must be a validation error, got %v", err)
	}

	var txns []models.InventoryTransaction
	if err := svc.db.Where("tenant_id = ?", 1).Order("id ASC").Find(&txns).Error; err != nil {
		t.Fatalf("failed to load transactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	if txns[0].TransactionType != models.TransactionManual || !txns[0].Quantity.Equal(dec("5")) {
		t.Errorf("unexpected reserve transaction: %+v", txns[0])
	}
	if !txns[1].Quantity.Equal(dec("-3")) {
		t.Errorf("release transaction must be recorded negative, got %s", txns[1].Quantity)
	}
}

func TestReserveInsufficientStock(t *testing.T) {
	svc := newTestService(t)
	seedStock(t, svc.db, 1, 10, 100, "10", "8", "0")

	_, err := svc.Reserve(context.Background(), ReserveInput{TenantID: 1, ItemID: 10, LocationID: 100, Quantity: dec("5")})
	if !apperr.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	var insufficient *apperr.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if !insufficient.Available.Equal(dec("2")) {
		t.Errorf("expected available 2 in error, got %s", insufficient.Available)
	}
}

func TestReserveMissingRecord(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Reserve(context.Background(), ReserveInput{TenantID: 1, ItemID: 99, LocationID: 100, Quantity: dec("1")})
	if !apperr.IsNotFound(err) {
		t.Errorf("expected not-found error for missing record, got %v", err)
	}
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Reserve(context.Background(), ReserveInput{TenantID: 1, ItemID: 10, LocationID: 100, Quantity: dec("0")})
	if !apperr.IsValidation(err) {
		t.Errorf("expected validation error for zero quantity, got %v", err)
	}
}

func TestAdjustIncreaseCreatesRecord(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Adjust(ctx, AdjustInput{
		TenantID:    1,
		ItemID:      10,
		LocationID:  100,
		Quantity:    dec("8"),
		Direction:   AdjustIncrease,
		CostPerUnit: decimal.NullDecimal{Decimal: dec("2.5"), Valid: true},
	})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if !rec.Quantity.Equal(dec("8")) {
		t.Errorf("expected quantity 8, got %s", rec.Quantity)
	}
	if !rec.UnitCost.Equal(dec("2.5")) {
		t.Errorf("expected unit cost 2.5, got %s", rec.UnitCost)
	}

	var txn models.InventoryTransaction
	if err := svc.db.Where("tenant_id = ?", 1).First(&txn).Error; err != nil {
		t.Fatalf("expected an adjustment transaction: %v", err)
	}
	if txn.TransactionType != models.TransactionAdjustment || !txn.Quantity.Equal(dec("8")) {
		t.Errorf("unexpected transaction: %+v", txn)
	}

	var movement models.StockMovement
	if err := svc.db.Where("tenant_id = ?", 1).First(&movement).Error; err != nil {
		t.Fatalf("expected a movement: %v", err)
	}
	if movement.Direction != models.MovementIn || !movement.Quantity.Equal(dec("8")) {
		t.Errorf("unexpected movement: %+v", movement)
	}
}

func TestAdjustIncreaseMovingAverage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStock(t, svc.db, 1, 10, 100, "10", "0", "2")

	rec, err := svc.Adjust(ctx, AdjustInput{
		TenantID:    1,
		ItemID:      10,
		LocationID:  100,
		Quantity:    dec("10"),
		Direction:   AdjustIncrease,
		CostPerUnit: decimal.NullDecimal{Decimal: dec("4"), Valid: true},
	})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	// (10*2 + 10*4) / 20 = 3
	if !rec.UnitCost.Equal(dec("3")) {
		t.Errorf("expected moving-average cost 3, got %s", rec.UnitCost)
	}
	if !rec.Quantity.Equal(dec("20")) {
		t.Errorf("expected quantity 20, got %s", rec.Quantity)
	}
}

func TestAdjustDecreaseGuards(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStock(t, svc.db, 1, 10, 100, "10", "4", "2")

	_, err := svc.Adjust(ctx, AdjustInput{TenantID: 1, ItemID: 10, LocationID: 100, Quantity: dec("12"), Direction: AdjustDecrease})
	if !apperr.IsValidation(err) {
		t.Errorf("decrease below zero must fail, got %v", err)
	}

	_, err = svc.Adjust(ctx, AdjustInput{TenantID: 1, ItemID: 10, LocationID: 100, Quantity: dec("8"), Direction: AdjustDecrease})
	if !apperr.IsValidation(err) {
		t.Errorf("decrease below available must fail, got %v", err)
	}

	rec, err := svc.Adjust(ctx, AdjustInput{TenantID: 1, ItemID: 10, LocationID: 100, Quantity: dec("6"), Direction: AdjustDecrease})
	if err != nil {
		t.Fatalf("valid decrease failed: %v", err)
	}
	if !rec.Quantity.Equal(dec("4")) {
		t.Errorf("expected quantity 4, got %s", rec.Quantity)
	}
}

func TestTransfer(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStock(t, svc.db, 1, 10, 100, "10", "0", "2")

	result, err := svc.Transfer(ctx, TransferInput{
		TenantID:       1,
		ItemID:         10,
		FromLocationID: 100,
		ToLocationID:   200,
		Quantity:       dec("4"),
		ActorID:        7,
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if !result.Source.Quantity.Equal(dec("6")) {
		t.Errorf("expected source quantity 6, got %s", result.Source.Quantity)
	}
	if !result.Destination.Quantity.Equal(dec("4")) {
		t.Errorf("expected destination quantity 4, got %s", result.Destination.Quantity)
	}
	if !result.Destination.UnitCost.Equal(dec("2")) {
		t.Errorf("destination must inherit source unit cost, got %s", result.Destination.UnitCost)
	}

	if len(result.Transactions) != 2 {
		t.Fatalf("expected 2 paired transactions, got %d", len(result.Transactions))
	}
	outTxn, inTxn := result.Transactions[0], result.Transactions[1]
	if !outTxn.Quantity.Equal(dec("-4")) || !inTxn.Quantity.Equal(dec("4")) {
		t.Errorf("expected signed pair -4/+4, got %s/%s", outTxn.Quantity, inTxn.Quantity)
	}
	if outTxn.TransactionType != models.TransactionTransfer || inTxn.TransactionType != models.TransactionTransfer {
		t.Errorf("both transactions must be TRANSFER")
	}
	if inTxn.PairedTransactionID == nil || *inTxn.PairedTransactionID != outTxn.ID {
		t.Errorf("inbound transaction must reference the outbound one")
	}
	var reloadedOut models.InventoryTransaction
	if err := svc.db.First(&reloadedOut, outTxn.ID).Error; err != nil {
		t.Fatalf("failed to reload outbound transaction: %v", err)
	}
	if reloadedOut.PairedTransactionID == nil || *reloadedOut.PairedTransactionID != inTxn.ID {
		t.Errorf("outbound transaction must be back-linked to the inbound one")
	}
	if outTxn.Reference == "" || outTxn.Reference != inTxn.Reference {
		t.Errorf("both legs must share a reference, got %q and %q", outTxn.Reference, inTxn.Reference)
	}

	var movements []models.StockMovement
	if err := svc.db.Where("tenant_id = ?", 1).Order("id ASC").Find(&movements).Error; err != nil {
		t.Fatalf("failed to load movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(movements))
	}
	if movements[0].Direction != models.MovementOut || movements[1].Direction != models.MovementIn {
		t.Errorf("expected OUT then IN movements, got %s then %s", movements[0].Direction, movements[1].Direction)
	}
}

func TestTransferInsufficientStock(t *testing.T) {
	svc := newTestService(t)
	seedStock(t, svc.db, 1, 10, 100, "3", "2", "1")

	_, err := svc.Transfer(context.Background(), TransferInput{
		TenantID:       1,
		ItemID:         10,
		FromLocationID: 100,
		ToLocationID:   200,
		Quantity:       dec("2"),
	})
	if !apperr.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	// Nothing committed: no destination record, no transactions.
	var count int64
	svc.db.Model(&models.InventoryTransaction{}).Where("tenant_id = ?", 1).Count(&count)
	if count != 0 {
		t.Errorf("expected no transactions after failed transfer, got %d", count)
	}
	var dest models.StockRecord
	err = svc.db.Where("tenant_id = ? AND item_id = ? AND location_id = ?", 1, 10, 200).First(&dest).Error
	if err == nil {
		t.Errorf("destination record must not be created on failure")
	}
}

func TestTransferSameLocation(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Transfer(context.Background(), TransferInput{
		TenantID:       1,
		ItemID:         10,
		FromLocationID: 100,
		ToLocationID:   100,
		Quantity:       dec("1"),
	})
	if !apperr.IsValidation(err) {
		t.Errorf("same-location transfer must be a validation error, got %v", err)
	}
}

func TestGetStockScopedByTenant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStock(t, svc.db, 1, 10, 100, "5", "0", "1")
	seedStock(t, svc.db, 2, 10, 100, "9", "0", "1")

	records, err := svc.GetStock(ctx, 1, 10, nil)
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record for tenant 1, got %d", len(records))
	}
	if !records[0].Quantity.Equal(dec("5")) {
		t.Errorf("expected tenant 1 quantity 5, got %s", records[0].Quantity)
	}
}

func TestListTransactionsPaging(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	seedStock(t, svc.db, 1, 10, 100, "100", "0", "1")

	for i := 0; i < 5; i++ {
		if _, err := svc.Reserve(ctx, ReserveInput{TenantID: 1, ItemID: 10, LocationID: 100, Quantity: dec("1")}); err != nil {
			t.Fatalf("reserve %d failed: %v", i, err)
		}
	}

	txns, total, next, err := svc.ListTransactions(ctx, TransactionFilter{TenantID: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(txns) != 2 {
		t.Errorf("expected page of 2, got %d", len(txns))
	}
	if next != "2" {
		t.Errorf("expected next page token 2, got %q", next)
	}

	txns, _, next, err = svc.ListTransactions(ctx, TransactionFilter{TenantID: 1, PageSize: 2, PageToken: "3"})
	if err != nil {
		t.Fatalf("last page failed: %v", err)
	}
	if len(txns) != 1 {
		t.Errorf("expected 1 transaction on last page, got %d", len(txns))
	}
	if next != "" {
		t.Errorf("expected empty token on last page, got %q", next)
	}
}

func TestStockLayers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, lot := range []struct{ qty, cost string }{{"10", "2"}, {"5", "3"}} {
		_, err := svc.Adjust(ctx, AdjustInput{
			TenantID:    1,
			ItemID:      10,
			LocationID:  100,
			Quantity:    dec(lot.qty),
			Direction:   AdjustIncrease,
			CostPerUnit: decimal.NullDecimal{Decimal: dec(lot.cost), Valid: true},
		})
		if err != nil {
			t.Fatalf("seeding lot failed: %v", err)
		}
	}

	layers, err := svc.StockLayers(ctx, 1, 10, nil)
	if err != nil {
		t.Fatalf("stock layers failed: %v", err)
	}
	if len(layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(layers))
	}
	if !layers[0].Quantity.Equal(dec("10")) || !layers[0].CostPerUnit.Equal(dec("2")) {
		t.Errorf("unexpected oldest layer: %+v", layers[0])
	}
}
