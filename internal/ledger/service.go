// Package ledger implements the stock operations service: the only write path
// into stock records, with an immutable transaction log and a derived movement
// log appended in the same database transaction as every mutation.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ventra-system/internal/apperr"
	"ventra-system/internal/costing"
	"ventra-system/internal/database"
	"ventra-system/internal/database/models"
)

const (
	stockCachePrefix = "ledger:stock:"
	stockCacheTTL    = 5 * time.Minute
)

type Service struct {
	db    *gorm.DB
	redis *redis.Client
	log   *zap.Logger
}

// NewService constructs the stock operations service. The redis client is
// optional; without it reads always hit the database.
func NewService(db *gorm.DB, redisClient *redis.Client, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, redis: redisClient, log: log}
}

func stockCacheKey(tenantID, itemID int64) string {
	return fmt.Sprintf("%s%d:%d", stockCachePrefix, tenantID, itemID)
}

// InvalidateStockCaches drops cached stock reads for the given items.
func (s *Service) InvalidateStockCaches(ctx context.Context, tenantID int64, itemIDs ...int64) {
	if s.redis == nil {
		return
	}
	for _, id := range itemIDs {
		if err := s.redis.Del(ctx, stockCacheKey(tenantID, id)).Err(); err != nil {
			s.log.Warn("stock cache invalidation failed",
				zap.Int64("tenant_id", tenantID), zap.Int64("item_id", id), zap.Error(err))
		}
	}
}

type ReserveInput struct {
	TenantID   int64
	ItemID     int64
	LocationID int64
	Quantity   decimal.Decimal
	Reference  string
	ActorID    int64
}

// Reserve places a soft hold on stock: reserved grows, quantity is untouched,
// and a zero-physical-movement MANUAL transaction records the intent.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*models.StockRecord, error) {
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validationf("quantity must be greater than 0")
	}

	var record models.StockRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockRecord(tx, in.TenantID, in.ItemID, in.LocationID)
		if err != nil {
			return err
		}
		available := rec.Available()
		if available.LessThan(in.Quantity) {
			return &apperr.InsufficientStockError{
				ItemID:     in.ItemID,
				LocationID: in.LocationID,
				Required:   in.Quantity,
				Available:  available,
			}
		}

		rec.Reserved = rec.Reserved.Add(in.Quantity)
		if err := tx.Save(rec).Error; err != nil {
			return err
		}

		note := "stock reserved"
		txn := models.InventoryTransaction{
			TenantID:        in.TenantID,
			StockRecordID:   rec.ID,
			ItemID:          in.ItemID,
			LocationID:      in.LocationID,
			TransactionType: models.TransactionManual,
			Quantity:        in.Quantity,
			Reference:       in.Reference,
			CreatedBy:       in.ActorID,
			Note:            &note,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}
		record = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.InvalidateStockCaches(ctx, in.TenantID, in.ItemID)
	s.log.Info("stock reserved",
		zap.Int64("tenant_id", in.TenantID),
		zap.Int64("item_id", in.ItemID),
		zap.Int64("location_id", in.LocationID),
		zap.String("quantity", in.Quantity.String()))
	return &record, nil
}

type ReleaseInput struct {
	TenantID   int64
	ItemID     int64
	LocationID int64
	Quantity   decimal.Decimal
	Reference  string
	ActorID    int64
}

// Release returns previously reserved stock to the available pool.
func (s *Service) Release(ctx context.Context, in ReleaseInput) (*models.StockRecord, error) {
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validationf("quantity must be greater than 0")
	}

	var record models.StockRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockRecord(tx, in.TenantID, in.ItemID, in.LocationID)
		if err != nil {
			return err
		}
		if rec.Reserved.LessThan(in.Quantity) {
			return apperr.Validationf("cannot release %s: only %s reserved",
				in.Quantity.String(), rec.Reserved.String())
		}

		rec.Reserved = rec.Reserved.Sub(in.Quantity)
		if err := tx.Save(rec).Error; err != nil {
			return err
		}

		note := "reservation released"
		txn := models.InventoryTransaction{
			TenantID:        in.TenantID,
			StockRecordID:   rec.ID,
			ItemID:          in.ItemID,
			LocationID:      in.LocationID,
			TransactionType: models.TransactionManual,
			Quantity:        in.Quantity.Neg(),
			Reference:       in.Reference,
			CreatedBy:       in.ActorID,
			Note:            &note,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}
		record = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.InvalidateStockCaches(ctx, in.TenantID, in.ItemID)
	return &record, nil
}

type AdjustDirection string

const (
	AdjustIncrease AdjustDirection = "INCREASE"
	AdjustDecrease AdjustDirection = "DECREASE"
)

type AdjustInput struct {
	TenantID   int64
	ItemID     int64
	LocationID int64
	Quantity   decimal.Decimal
	Direction  AdjustDirection
	// CostPerUnit feeds the moving-average cost on increases; ignored on decreases.
	CostPerUnit decimal.NullDecimal
	Reference   string
	ActorID     int64
}

// Adjust changes physical quantity up or down, appending an ADJUSTMENT
// transaction and one IN/OUT movement. An increase creates the stock record on
// first use; a decrease below zero is rejected.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (*models.StockRecord, error) {
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validationf("quantity must be greater than 0")
	}
	if in.Direction != AdjustIncrease && in.Direction != AdjustDecrease {
		return nil, apperr.Validationf("direction must be INCREASE or DECREASE")
	}

	var record models.StockRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.lockOrCreateRecord(tx, in.TenantID, in.ItemID, in.LocationID, in.Direction == AdjustIncrease)
		if err != nil {
			return err
		}

		signedQty := in.Quantity
		direction := models.MovementIn
		costPerUnit := in.CostPerUnit

		if in.Direction == AdjustIncrease {
			if in.CostPerUnit.Valid {
				rec.UnitCost = movingAverageCost(rec.Quantity, rec.UnitCost, in.Quantity, in.CostPerUnit.Decimal)
			}
			rec.Quantity = rec.Quantity.Add(in.Quantity)
		} else {
			if rec.Quantity.LessThan(in.Quantity) {
				return apperr.Validationf("adjustment would drive quantity negative: have %s, decrease %s",
					rec.Quantity.String(), in.Quantity.String())
			}
			if rec.Available().LessThan(in.Quantity) {
				return apperr.Validationf("adjustment would break reservations: available %s, decrease %s",
					rec.Available().String(), in.Quantity.String())
			}
			rec.Quantity = rec.Quantity.Sub(in.Quantity)
			signedQty = in.Quantity.Neg()
			direction = models.MovementOut
			costPerUnit = decimal.NullDecimal{Decimal: rec.UnitCost, Valid: true}
		}

		if err := tx.Save(rec).Error; err != nil {
			return err
		}

		txn := models.InventoryTransaction{
			TenantID:        in.TenantID,
			StockRecordID:   rec.ID,
			ItemID:          in.ItemID,
			LocationID:      in.LocationID,
			TransactionType: models.TransactionAdjustment,
			Quantity:        signedQty,
			CostPerUnit:     costPerUnit,
			Reference:       in.Reference,
			CreatedBy:       in.ActorID,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}

		movement := models.StockMovement{
			TenantID:      in.TenantID,
			StockRecordID: rec.ID,
			Direction:     direction,
			Quantity:      in.Quantity,
			Reference:     in.Reference,
			CreatedBy:     in.ActorID,
		}
		if err := tx.Create(&movement).Error; err != nil {
			return err
		}
		record = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.InvalidateStockCaches(ctx, in.TenantID, in.ItemID)
	return &record, nil
}

type TransferInput struct {
	TenantID       int64
	ItemID         int64
	FromLocationID int64
	ToLocationID   int64
	Quantity       decimal.Decimal
	Reference      string
	ActorID        int64
}

type TransferResult struct {
	Source       models.StockRecord
	Destination  models.StockRecord
	Transactions []models.InventoryTransaction
}

// Transfer moves stock between two locations in one atomic unit: both records
// updated, two paired TRANSFER transactions and two movements appended. The
// destination record is created on demand.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if in.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validationf("quantity must be greater than 0")
	}
	if in.FromLocationID == in.ToLocationID {
		return nil, apperr.Validationf("cannot transfer to the same location")
	}

	var result TransferResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		source, err := s.lockRecord(tx, in.TenantID, in.ItemID, in.FromLocationID)
		if err != nil {
			return err
		}
		available := source.Available()
		if available.LessThan(in.Quantity) {
			return &apperr.InsufficientStockError{
				ItemID:     in.ItemID,
				LocationID: in.FromLocationID,
				Required:   in.Quantity,
				Available:  available,
			}
		}

		dest, err := s.lockOrCreateRecord(tx, in.TenantID, in.ItemID, in.ToLocationID, true)
		if err != nil {
			return err
		}

		dest.UnitCost = movingAverageCost(dest.Quantity, dest.UnitCost, in.Quantity, source.UnitCost)
		source.Quantity = source.Quantity.Sub(in.Quantity)
		dest.Quantity = dest.Quantity.Add(in.Quantity)

		if err := tx.Save(source).Error; err != nil {
			return err
		}
		if err := tx.Save(dest).Error; err != nil {
			return err
		}

		pairRef := in.Reference
		if pairRef == "" {
			pairRef = fmt.Sprintf("TRANSFER-%s", uuid.NewString())
		}

		outTxn := models.InventoryTransaction{
			TenantID:        in.TenantID,
			StockRecordID:   source.ID,
			ItemID:          in.ItemID,
			LocationID:      in.FromLocationID,
			TransactionType: models.TransactionTransfer,
			Quantity:        in.Quantity.Neg(),
			CostPerUnit:     decimal.NullDecimal{Decimal: source.UnitCost, Valid: true},
			Reference:       pairRef,
			CreatedBy:       in.ActorID,
		}
		if err := tx.Create(&outTxn).Error; err != nil {
			return err
		}

		inTxn := models.InventoryTransaction{
			TenantID:            in.TenantID,
			StockRecordID:       dest.ID,
			ItemID:              in.ItemID,
			LocationID:          in.ToLocationID,
			TransactionType:     models.TransactionTransfer,
			Quantity:            in.Quantity,
			CostPerUnit:         decimal.NullDecimal{Decimal: source.UnitCost, Valid: true},
			Reference:           pairRef,
			PairedTransactionID: &outTxn.ID,
			CreatedBy:           in.ActorID,
		}
		if err := tx.Create(&inTxn).Error; err != nil {
			return err
		}
		if err := tx.Model(&outTxn).Update("paired_transaction_id", inTxn.ID).Error; err != nil {
			return err
		}

		movements := []models.StockMovement{
			{
				TenantID:      in.TenantID,
				StockRecordID: source.ID,
				Direction:     models.MovementOut,
				Quantity:      in.Quantity,
				Reference:     pairRef,
				CreatedBy:     in.ActorID,
			},
			{
				TenantID:      in.TenantID,
				StockRecordID: dest.ID,
				Direction:     models.MovementIn,
				Quantity:      in.Quantity,
				Reference:     pairRef,
				CreatedBy:     in.ActorID,
			},
		}
		if err := tx.Create(&movements).Error; err != nil {
			return err
		}

		result = TransferResult{
			Source:       *source,
			Destination:  *dest,
			Transactions: []models.InventoryTransaction{outTxn, inTxn},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.InvalidateStockCaches(ctx, in.TenantID, in.ItemID)
	s.log.Info("stock transferred",
		zap.Int64("tenant_id", in.TenantID),
		zap.Int64("item_id", in.ItemID),
		zap.Int64("from_location_id", in.FromLocationID),
		zap.Int64("to_location_id", in.ToLocationID),
		zap.String("quantity", in.Quantity.String()))
	return &result, nil
}

// IngredientConsumption reports one ingredient decrement made inside a
// production completion.
type IngredientConsumption struct {
	Record   models.StockRecord
	UnitCost decimal.Decimal
	Cost     decimal.Decimal
}

// ConsumeIngredientTx decrements ingredient stock inside the caller's database
// transaction and appends the USAGE transaction and OUT movement. The caller
// owns commit/rollback; a missing record counts as zero available stock.
func (s *Service) ConsumeIngredientTx(tx *gorm.DB, tenantID, itemID, locationID int64, qty decimal.Decimal, batchID int64, batchRef string, actorID int64) (*IngredientConsumption, error) {
	rec, err := s.lockRecord(tx, tenantID, itemID, locationID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, &apperr.InsufficientStockError{
				ItemID:     itemID,
				LocationID: locationID,
				Required:   qty,
				Available:  decimal.Zero,
			}
		}
		return nil, err
	}
	available := rec.Available()
	if available.LessThan(qty) {
		return nil, &apperr.InsufficientStockError{
			ItemID:     itemID,
			LocationID: locationID,
			Required:   qty,
			Available:  available,
		}
	}

	unitCost := rec.UnitCost
	rec.Quantity = rec.Quantity.Sub(qty)
	if err := tx.Save(rec).Error; err != nil {
		return nil, err
	}

	txn := models.InventoryTransaction{
		TenantID:          tenantID,
		StockRecordID:     rec.ID,
		ItemID:            itemID,
		LocationID:        locationID,
		TransactionType:   models.TransactionUsage,
		Quantity:          qty.Neg(),
		CostPerUnit:       decimal.NullDecimal{Decimal: unitCost, Valid: true},
		Reference:         batchRef,
		ProductionBatchID: &batchID,
		CreatedBy:         actorID,
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, err
	}

	movement := models.StockMovement{
		TenantID:      tenantID,
		StockRecordID: rec.ID,
		Direction:     models.MovementOut,
		Quantity:      qty,
		Reference:     batchRef,
		CreatedBy:     actorID,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}

	return &IngredientConsumption{
		Record:   *rec,
		UnitCost: unitCost,
		Cost:     unitCost.Mul(qty),
	}, nil
}

// ProduceOutputTx increments finished-good stock inside the caller's database
// transaction, appending the production PURCHASE transaction and IN movement.
func (s *Service) ProduceOutputTx(tx *gorm.DB, tenantID, itemID, locationID int64, qty, unitCost decimal.Decimal, batchID int64, batchRef string, actorID int64) (*models.StockRecord, error) {
	rec, err := s.lockOrCreateRecord(tx, tenantID, itemID, locationID, true)
	if err != nil {
		return nil, err
	}

	rec.UnitCost = movingAverageCost(rec.Quantity, rec.UnitCost, qty, unitCost)
	rec.Quantity = rec.Quantity.Add(qty)
	if err := tx.Save(rec).Error; err != nil {
		return nil, err
	}

	txn := models.InventoryTransaction{
		TenantID:          tenantID,
		StockRecordID:     rec.ID,
		ItemID:            itemID,
		LocationID:        locationID,
		TransactionType:   models.TransactionPurchase,
		Quantity:          qty,
		CostPerUnit:       decimal.NullDecimal{Decimal: unitCost, Valid: true},
		Reference:         batchRef,
		ProductionBatchID: &batchID,
		CreatedBy:         actorID,
	}
	if err := tx.Create(&txn).Error; err != nil {
		return nil, err
	}

	movement := models.StockMovement{
		TenantID:      tenantID,
		StockRecordID: rec.ID,
		Direction:     models.MovementIn,
		Quantity:      qty,
		Reference:     batchRef,
		CreatedBy:     actorID,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}

	out := *rec
	return &out, nil
}

func (s *Service) lockRecord(tx *gorm.DB, tenantID, itemID, locationID int64) (*models.StockRecord, error) {
	var rec models.StockRecord
	err := database.LockForUpdate(tx).
		Where("tenant_id = ? AND item_id = ? AND location_id = ?", tenantID, itemID, locationID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("stock record", "item %d at location %d", itemID, locationID)
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Service) lockOrCreateRecord(tx *gorm.DB, tenantID, itemID, locationID int64, createIfMissing bool) (*models.StockRecord, error) {
	rec, err := s.lockRecord(tx, tenantID, itemID, locationID)
	if err == nil {
		return rec, nil
	}
	if !apperr.IsNotFound(err) || !createIfMissing {
		return nil, err
	}

	created := models.StockRecord{
		TenantID:   tenantID,
		ItemID:     itemID,
		LocationID: locationID,
		Quantity:   decimal.Zero,
		Reserved:   decimal.Zero,
		UnitCost:   decimal.Zero,
	}
	if err := tx.Create(&created).Error; err != nil {
		return nil, err
	}
	return &created, nil
}

// movingAverageCost folds an incoming lot into the existing average.
func movingAverageCost(oldQty, oldCost, inQty, inCost decimal.Decimal) decimal.Decimal {
	totalQty := oldQty.Add(inQty)
	if totalQty.LessThanOrEqual(decimal.Zero) {
		return inCost
	}
	if oldQty.LessThanOrEqual(decimal.Zero) {
		return inCost
	}
	return oldQty.Mul(oldCost).Add(inQty.Mul(inCost)).Div(totalQty).Round(4)
}

// --- Queries ---

// GetStock returns current stock records for an item, optionally narrowed to
// one location. Whole-item reads are served from redis when available.
func (s *Service) GetStock(ctx context.Context, tenantID, itemID int64, locationID *int64) ([]models.StockRecord, error) {
	useCache := s.redis != nil && locationID == nil
	cacheKey := stockCacheKey(tenantID, itemID)

	if useCache {
		if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
			var records []models.StockRecord
			if jsonErr := json.Unmarshal([]byte(cached), &records); jsonErr == nil {
				return records, nil
			}
		}
	}

	var records []models.StockRecord
	query := s.db.WithContext(ctx).Where("tenant_id = ? AND item_id = ?", tenantID, itemID)
	if locationID != nil {
		query = query.Where("location_id = ?", *locationID)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	if useCache {
		if payload, err := json.Marshal(records); err == nil {
			_ = s.redis.Set(ctx, cacheKey, payload, stockCacheTTL).Err()
		}
	}
	return records, nil
}

// TransactionFilter narrows transaction-history queries.
type TransactionFilter struct {
	TenantID   int64
	ItemID     *int64
	LocationID *int64
	Type       *models.TransactionType
	BatchID    *int64
	StartDate  *time.Time
	EndDate    *time.Time
	PageSize   int
	PageToken  string
}

// ListTransactions pages through the immutable transaction log, newest first.
func (s *Service) ListTransactions(ctx context.Context, f TransactionFilter) ([]models.InventoryTransaction, int64, string, error) {
	query := s.db.WithContext(ctx).Model(&models.InventoryTransaction{}).
		Where("tenant_id = ?", f.TenantID)
	if f.ItemID != nil {
		query = query.Where("item_id = ?", *f.ItemID)
	}
	if f.LocationID != nil {
		query = query.Where("location_id = ?", *f.LocationID)
	}
	if f.Type != nil {
		query = query.Where("transaction_type = ?", *f.Type)
	}
	if f.BatchID != nil {
		query = query.Where("production_batch_id = ?", *f.BatchID)
	}
	if f.StartDate != nil {
		query = query.Where("created_at >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		query = query.Where("created_at < ?", *f.EndDate)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, "", err
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	pageNumber := 1
	if f.PageToken != "" {
		if n, err := strconv.Atoi(f.PageToken); err == nil && n > 0 {
			pageNumber = n
		}
	}
	offset := (pageNumber - 1) * pageSize

	var txns []models.InventoryTransaction
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&txns).Error; err != nil {
		return nil, 0, "", err
	}

	nextPageToken := ""
	if int64(pageNumber*pageSize) < total {
		nextPageToken = strconv.Itoa(pageNumber + 1)
	}
	return txns, total, nextPageToken, nil
}

// ListMovements pages through the IN/OUT movement log for one stock record or
// a whole tenant, newest first.
func (s *Service) ListMovements(ctx context.Context, tenantID int64, stockRecordID *int64, pageSize int, pageToken string) ([]models.StockMovement, int64, string, error) {
	query := s.db.WithContext(ctx).Model(&models.StockMovement{}).
		Where("tenant_id = ?", tenantID)
	if stockRecordID != nil {
		query = query.Where("stock_record_id = ?", *stockRecordID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, "", err
	}

	if pageSize <= 0 {
		pageSize = 50
	}
	pageNumber := 1
	if pageToken != "" {
		if n, err := strconv.Atoi(pageToken); err == nil && n > 0 {
			pageNumber = n
		}
	}
	offset := (pageNumber - 1) * pageSize

	var movements []models.StockMovement
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&movements).Error; err != nil {
		return nil, 0, "", err
	}

	nextPageToken := ""
	if int64(pageNumber*pageSize) < total {
		nextPageToken = strconv.Itoa(pageNumber + 1)
	}
	return movements, total, nextPageToken, nil
}

// StockLayers derives costing layers from positive costed transactions,
// oldest first, for FIFO/LIFO valuation.
func (s *Service) StockLayers(ctx context.Context, tenantID, itemID int64, locationID *int64) ([]costing.Layer, error) {
	query := s.db.WithContext(ctx).Model(&models.InventoryTransaction{}).
		Where("tenant_id = ? AND item_id = ? AND quantity > 0 AND cost_per_unit IS NOT NULL", tenantID, itemID)
	if locationID != nil {
		query = query.Where("location_id = ?", *locationID)
	}

	var txns []models.InventoryTransaction
	if err := query.Order("created_at ASC, id ASC").Find(&txns).Error; err != nil {
		return nil, err
	}

	layers := make([]costing.Layer, 0, len(txns))
	for _, t := range txns {
		layers = append(layers, costing.Layer{
			Quantity:    t.Quantity,
			CostPerUnit: t.CostPerUnit.Decimal,
			ReceivedAt:  t.CreatedAt,
		})
	}
	return layers, nil
}
