package production

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ventra-system/internal/apperr"
	"ventra-system/internal/database"
	"ventra-system/internal/database/models"
	"ventra-system/internal/ledger"
)

const (
	testTenant   int64 = 1
	flourItem    int64 = 1
	sugarItem    int64 = 2
	breadItem    int64 = 100
	testLocation int64 = 10
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

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// seedBreadRecipe registers a recipe producing bread from 2 flour and 1 sugar
// per unit, with ingredient stock at the test location.
func seedBreadRecipe(t *testing.T, db *gorm.DB, flourQty, sugarQty string) models.Recipe {
	t.Helper()

	recipe := models.Recipe{
		TenantID:     testTenant,
		RecipeName:   "white bread",
		OutputItemID: breadItem,
		IsActive:     true,
	}
	if err := db.Create(&recipe).Error; err != nil {
		t.Fatalf("failed to seed recipe: %v", err)
	}
	ingredients := []models.RecipeIngredient{
		{RecipeID: recipe.ID, ItemID: flourItem, QuantityPerUnit: dec("2")},
		{RecipeID: recipe.ID, ItemID: sugarItem, QuantityPerUnit: dec("1")},
	}
	if err := db.Create(&ingredients).Error; err != nil {
		t.Fatalf("failed to seed ingredients: %v", err)
	}

	stocks := []models.StockRecord{
		{TenantID: testTenant, ItemID: flourItem, LocationID: testLocation, Quantity: dec(flourQty), UnitCost: dec("2")},
		{TenantID: testTenant, ItemID: sugarItem, LocationID: testLocation, Quantity: dec(sugarQty), UnitCost: dec("1")},
	}
	if err := db.Create(&stocks).Error; err != nil {
		t.Fatalf("failed to seed ingredient stock: %v", err)
	}
	return recipe
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	ledgerSvc := ledger.NewService(db, nil, nil)
	return NewService(db, ledgerSvc, nil), db
}

func TestBatchLifecycle(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	recipe := seedBreadRecipe(t, db, "100", "100")

	batch, err := svc.Create(ctx, CreateBatchInput{
		TenantID:        testTenant,
		RecipeID:        recipe.ID,
		PlannedQuantity: dec("10"),
		ActorID:         7,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if batch.Status != models.BatchPending {
		t.Errorf("new batch must be PENDING, got %s", batch.Status)
	}
	if !strings.HasPrefix(batch.BatchReference, "BATCH-") {
		t.Errorf("expected generated reference, got %q", batch.BatchReference)
	}

	batch, err = svc.Start(ctx, testTenant, batch.ID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if batch.Status != models.BatchInProgress || batch.StartedAt == nil {
		t.Errorf("started batch must be IN_PROGRESS with a start time")
	}

	batch, err = svc.Complete(ctx, CompleteBatchInput{
		TenantID:       testTenant,
		BatchID:        batch.ID,
		ActualQuantity: dec("10"),
		LocationID:     testLocation,
		ActorID:        7,
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if batch.Status != models.BatchCompleted || batch.FinishedAt == nil {
		t.Errorf("completed batch must be COMPLETED with a finish time")
	}
	if !batch.ActualQuantity.Valid || !batch.ActualQuantity.Decimal.Equal(dec("10")) {
		t.Errorf("expected actual quantity 10, got %+v", batch.ActualQuantity)
	}
	// 10 units consume 20 flour @ 2 + 10 sugar @ 1 = 50; 50 / 10 = 5 per unit.
	if !batch.CostPerUnit.Valid || !batch.CostPerUnit.Decimal.Equal(dec("5")) {
		t.Errorf("expected cost per unit 5, got %+v", batch.CostPerUnit)
	}

	var flour, sugar, bread models.StockRecord
	db.Where("item_id = ? AND location_id = ?", flourItem, testLocation).First(&flour)
	db.Where("item_id = ? AND location_id = ?", sugarItem, testLocation).First(&sugar)
	if err := db.Where("item_id = ? AND location_id = ?", breadItem, testLocation).First(&bread).Error; err != nil {
		t.Fatalf("output stock record missing: %v", err)
	}
	if !flour.Quantity.Equal(dec("80")) {
		t.Errorf("expected 80 flour remaining, got %s", flour.Quantity)
	}
	if !sugar.Quantity.Equal(dec("90")) {
		t.Errorf("expected 90 sugar remaining, got %s", sugar.Quantity)
	}
	if !bread.Quantity.Equal(dec("10")) || !bread.UnitCost.Equal(dec("5")) {
		t.Errorf("expected 10 bread at unit cost 5, got %s at %s", bread.Quantity, bread.UnitCost)
	}

	txns, err := svc.BatchTransactions(ctx, testTenant, batch.ID)
	if err != nil {
		t.Fatalf("batch transactions failed: %v", err)
	}
	if len(txns) != 3 {
		t.Fatalf("expected 2 usage + 1 production transaction, got %d", len(txns))
	}
	usage := 0
	for _, txn := range txns {
		switch txn.TransactionType {
		case models.TransactionUsage:
			usage++
			if !txn.Quantity.IsNegative() {
				t.Errorf("usage quantity must be negative, got %s", txn.Quantity)
			}
		case models.TransactionPurchase:
			if !txn.Quantity.Equal(dec("10")) {
				t.Errorf("production inbound must be +10, got %s", txn.Quantity)
			}
		default:
			t.Errorf("unexpected transaction type %s", txn.TransactionType)
		}
	}
	if usage != 2 {
		t.Errorf("expected 2 usage transactions, got %d", usage)
	}

	batches, err := svc.BatchesForIngredient(ctx, testTenant, flourItem)
	if err != nil {
		t.Fatalf("batches for ingredient failed: %v", err)
	}
	if len(batches) != 1 || batches[0].ID != batch.ID {
		t.Errorf("flour lineage must point at the completed batch")
	}
}

func TestCompleteInsufficientIngredientRollsBack(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	recipe := seedBreadRecipe(t, db, "100", "5")

	batch, err := svc.Create(ctx, CreateBatchInput{TenantID: testTenant, RecipeID: recipe.ID, PlannedQuantity: dec("10")})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Start(ctx, testTenant, batch.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// 10 units need 10 sugar; only 5 on hand.
	_, err = svc.Complete(ctx, CompleteBatchInput{
		TenantID:       testTenant,
		BatchID:        batch.ID,
		ActualQuantity: dec("10"),
		LocationID:     testLocation,
	})
	if !apperr.IsInsufficientStock(err) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	// Flour was consumed before sugar failed; the rollback must restore it.
	var flour models.StockRecord
	db.Where("item_id = ? AND location_id = ?", flourItem, testLocation).First(&flour)
	if !flour.Quantity.Equal(dec("100")) {
		t.Errorf("flour must be restored on rollback, got %s", flour.Quantity)
	}

	var count int64
	db.Model(&models.InventoryTransaction{}).Where("production_batch_id = ?", batch.ID).Count(&count)
	if count != 0 {
		t.Errorf("expected no transactions after rollback, got %d", count)
	}

	reloaded, err := svc.Get(ctx, testTenant, batch.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if reloaded.Status != models.BatchInProgress {
		t.Errorf("failed completion must leave batch IN_PROGRESS, got %s", reloaded.Status)
	}
}

func TestInvalidTransitions(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	recipe := seedBreadRecipe(t, db, "100", "100")

	batch, err := svc.Create(ctx, CreateBatchInput{TenantID: testTenant, RecipeID: recipe.ID, PlannedQuantity: dec("2")})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Completing a PENDING batch skips the state machine.
	_, err = svc.Complete(ctx, CompleteBatchInput{TenantID: testTenant, BatchID: batch.ID, ActualQuantity: dec("2"), LocationID: testLocation})
	if !apperr.IsValidation(err) {
		t.Errorf("complete from PENDING must fail, got %v", err)
	}

	if _, err := svc.Start(ctx, testTenant, batch.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := svc.Start(ctx, testTenant, batch.ID); !apperr.IsValidation(err) {
		t.Errorf("double start must fail, got %v", err)
	}

	if _, err := svc.Complete(ctx, CompleteBatchInput{TenantID: testTenant, BatchID: batch.ID, ActualQuantity: dec("2"), LocationID: testLocation}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if _, err := svc.Cancel(ctx, testTenant, batch.ID, "too late"); !apperr.IsValidation(err) {
		t.Errorf("cancel of a completed batch must fail, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	recipe := seedBreadRecipe(t, db, "100", "100")

	batch, err := svc.Create(ctx, CreateBatchInput{TenantID: testTenant, RecipeID: recipe.ID, PlannedQuantity: dec("2")})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, testTenant, batch.ID, "ingredient recall")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != models.BatchCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "ingredient recall" {
		t.Errorf("cancel reason not stored")
	}

	if _, err := svc.Cancel(ctx, testTenant, batch.ID, "again"); !apperr.IsValidation(err) {
		t.Errorf("double cancel must fail, got %v", err)
	}

	// Cancellation never touches stock.
	var flour models.StockRecord
	db.Where("item_id = ? AND location_id = ?", flourItem, testLocation).First(&flour)
	if !flour.Quantity.Equal(dec("100")) {
		t.Errorf("cancel must not consume stock, got %s", flour.Quantity)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	recipe := seedBreadRecipe(t, db, "100", "100")

	if _, err := svc.Create(ctx, CreateBatchInput{TenantID: testTenant, RecipeID: recipe.ID, PlannedQuantity: dec("0")}); !apperr.IsValidation(err) {
		t.Errorf("zero planned quantity must fail, got %v", err)
	}

	if _, err := svc.Create(ctx, CreateBatchInput{TenantID: testTenant, RecipeID: 999, PlannedQuantity: dec("1")}); !apperr.IsNotFound(err) {
		t.Errorf("unknown recipe must be not found, got %v", err)
	}

	if _, err := svc.Create(ctx, CreateBatchInput{TenantID: 2, RecipeID: recipe.ID, PlannedQuantity: dec("1")}); !apperr.IsNotFound(err) {
		t.Errorf("recipe of another tenant must be not found, got %v", err)
	}

	if _, err := svc.Create(ctx, CreateBatchInput{TenantID: testTenant, RecipeID: recipe.ID, PlannedQuantity: dec("1"), BatchReference: "BATCH-DUP"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Create(ctx, CreateBatchInput{TenantID: testTenant, RecipeID: recipe.ID, PlannedQuantity: dec("1"), BatchReference: "BATCH-DUP"}); !apperr.IsValidation(err) {
		t.Errorf("duplicate reference must fail, got %v", err)
	}
}
