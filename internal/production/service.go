// Package production drives the batch state machine that converts ingredient
// stock into finished-good stock. All stock effects happen at completion, in a
// single database transaction shared with the ledger.
package production

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ventra-system/internal/apperr"
	"ventra-system/internal/database"
	"ventra-system/internal/database/models"
	"ventra-system/internal/ledger"
)

type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
	log    *zap.Logger
}

func NewService(db *gorm.DB, ledgerSvc *ledger.Service, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, ledger: ledgerSvc, log: log}
}

type CreateBatchInput struct {
	TenantID        int64
	RecipeID        int64
	PlannedQuantity decimal.Decimal
	BatchReference  string
	ActorID         int64
}

// Create validates the recipe and registers a new PENDING batch. A batch
// reference is generated when none is supplied; duplicates are rejected.
func (s *Service) Create(ctx context.Context, in CreateBatchInput) (*models.ProductionBatch, error) {
	if in.PlannedQuantity.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validationf("planned quantity must be greater than 0")
	}

	var recipe models.Recipe
	err := s.db.WithContext(ctx).Preload("Ingredients").
		Where("tenant_id = ?", in.TenantID).
		First(&recipe, in.RecipeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("recipe", "id %d", in.RecipeID)
		}
		return nil, err
	}
	if recipe.OutputItemID == 0 {
		return nil, apperr.Validationf("recipe %d has no output item", in.RecipeID)
	}
	if len(recipe.Ingredients) == 0 {
		return nil, apperr.Validationf("recipe %d has no ingredients", in.RecipeID)
	}

	reference := in.BatchReference
	if reference == "" {
		reference = fmt.Sprintf("BATCH-%s", strings.ToUpper(uuid.NewString()[:8]))
	}

	var existing models.ProductionBatch
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND batch_reference = ?", in.TenantID, reference).
		First(&existing).Error
	if err == nil {
		return nil, apperr.Validationf("batch reference %q already exists", reference)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	batch := models.ProductionBatch{
		TenantID:        in.TenantID,
		RecipeID:        in.RecipeID,
		BatchReference:  reference,
		PlannedQuantity: in.PlannedQuantity,
		Status:          models.BatchPending,
		CreatedBy:       in.ActorID,
	}
	if err := s.db.WithContext(ctx).Create(&batch).Error; err != nil {
		return nil, err
	}

	s.log.Info("production batch created",
		zap.Int64("tenant_id", in.TenantID),
		zap.Int64("batch_id", batch.ID),
		zap.String("reference", reference))
	return &batch, nil
}

// Start transitions PENDING → IN_PROGRESS and stamps the start time.
func (s *Service) Start(ctx context.Context, tenantID, batchID int64) (*models.ProductionBatch, error) {
	var batch models.ProductionBatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.lockBatch(tx, tenantID, batchID)
		if err != nil {
			return err
		}
		if b.Status != models.BatchPending {
			return apperr.Validationf("batch %s cannot start from status %s", b.BatchReference, b.Status)
		}
		now := time.Now()
		b.Status = models.BatchInProgress
		b.StartedAt = &now
		if err := tx.Save(b).Error; err != nil {
			return err
		}
		batch = *b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

type CompleteBatchInput struct {
	TenantID       int64
	BatchID        int64
	ActualQuantity decimal.Decimal
	LocationID     int64
	ActorID        int64
}

// Complete executes the whole conversion as one atomic unit: every recipe
// ingredient is consumed at the location (scaled by actual output quantity,
// all-or-nothing), the output item is produced, and the batch is stamped with
// the unit cost derived from consumed-ingredient cost.
func (s *Service) Complete(ctx context.Context, in CompleteBatchInput) (*models.ProductionBatch, error) {
	if in.ActualQuantity.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.Validationf("actual quantity must be greater than 0")
	}

	var batch models.ProductionBatch
	var touchedItems []int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.lockBatch(tx, in.TenantID, in.BatchID)
		if err != nil {
			return err
		}
		if b.Status != models.BatchInProgress {
			return apperr.Validationf("batch %s cannot complete from status %s", b.BatchReference, b.Status)
		}

		var recipe models.Recipe
		if err := tx.Preload("Ingredients").
			Where("tenant_id = ?", in.TenantID).
			First(&recipe, b.RecipeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("recipe", "id %d", b.RecipeID)
			}
			return err
		}

		totalCost := decimal.Zero
		for _, ingredient := range recipe.Ingredients {
			required := ingredient.QuantityPerUnit.Mul(in.ActualQuantity)
			consumption, err := s.ledger.ConsumeIngredientTx(tx,
				in.TenantID, ingredient.ItemID, in.LocationID,
				required, b.ID, b.BatchReference, in.ActorID)
			if err != nil {
				return err
			}
			totalCost = totalCost.Add(consumption.Cost)
			touchedItems = append(touchedItems, ingredient.ItemID)
		}

		unitCost := totalCost.Div(in.ActualQuantity).Round(4)
		if _, err := s.ledger.ProduceOutputTx(tx,
			in.TenantID, recipe.OutputItemID, in.LocationID,
			in.ActualQuantity, unitCost, b.ID, b.BatchReference, in.ActorID); err != nil {
			return err
		}
		touchedItems = append(touchedItems, recipe.OutputItemID)

		now := time.Now()
		b.Status = models.BatchCompleted
		b.ActualQuantity = decimal.NullDecimal{Decimal: in.ActualQuantity, Valid: true}
		b.CostPerUnit = decimal.NullDecimal{Decimal: unitCost, Valid: true}
		b.FinishedAt = &now
		if err := tx.Save(b).Error; err != nil {
			return err
		}
		batch = *b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.ledger.InvalidateStockCaches(ctx, in.TenantID, touchedItems...)
	s.log.Info("production batch completed",
		zap.Int64("tenant_id", in.TenantID),
		zap.Int64("batch_id", batch.ID),
		zap.String("reference", batch.BatchReference),
		zap.String("actual_quantity", in.ActualQuantity.String()),
		zap.String("cost_per_unit", batch.CostPerUnit.Decimal.String()))
	return &batch, nil
}

// Cancel transitions a non-terminal batch to CANCELLED. No stock is touched;
// consumption only ever happens at completion.
func (s *Service) Cancel(ctx context.Context, tenantID, batchID int64, reason string) (*models.ProductionBatch, error) {
	var batch models.ProductionBatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.lockBatch(tx, tenantID, batchID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return apperr.Validationf("batch %s cannot be cancelled from status %s", b.BatchReference, b.Status)
		}
		now := time.Now()
		b.Status = models.BatchCancelled
		b.FinishedAt = &now
		if reason != "" {
			b.CancelReason = &reason
		}
		if err := tx.Save(b).Error; err != nil {
			return err
		}
		batch = *b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// Get returns one batch by id.
func (s *Service) Get(ctx context.Context, tenantID, batchID int64) (*models.ProductionBatch, error) {
	var batch models.ProductionBatch
	err := s.db.WithContext(ctx).Preload("Recipe").Preload("Recipe.Ingredients").
		Where("tenant_id = ?", tenantID).
		First(&batch, batchID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("production batch", "id %d", batchID)
		}
		return nil, err
	}
	return &batch, nil
}

// List returns batches for a tenant, optionally filtered by status.
func (s *Service) List(ctx context.Context, tenantID int64, status *models.BatchStatus) ([]models.ProductionBatch, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var batches []models.ProductionBatch
	if err := query.Order("created_at DESC").Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// BatchTransactions returns the full backward lineage of a batch: every
// transaction its completion generated.
func (s *Service) BatchTransactions(ctx context.Context, tenantID, batchID int64) ([]models.InventoryTransaction, error) {
	if _, err := s.Get(ctx, tenantID, batchID); err != nil {
		return nil, err
	}
	var txns []models.InventoryTransaction
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND production_batch_id = ?", tenantID, batchID).
		Order("id ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// BatchesForIngredient returns the forward lineage of an ingredient item: the
// batches whose completion consumed it.
func (s *Service) BatchesForIngredient(ctx context.Context, tenantID, itemID int64) ([]models.ProductionBatch, error) {
	var batches []models.ProductionBatch
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN (?)", tenantID,
			s.db.Model(&models.InventoryTransaction{}).
				Select("production_batch_id").
				Where("tenant_id = ? AND item_id = ? AND transaction_type = ? AND production_batch_id IS NOT NULL",
					tenantID, itemID, models.TransactionUsage)).
		Order("created_at DESC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Service) lockBatch(tx *gorm.DB, tenantID, batchID int64) (*models.ProductionBatch, error) {
	var batch models.ProductionBatch
	err := database.LockForUpdate(tx).
		Where("tenant_id = ?", tenantID).
		First(&batch, batchID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("production batch", "id %d", batchID)
		}
		return nil, err
	}
	return &batch, nil
}
