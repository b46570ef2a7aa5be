// Package alert evaluates stock levels against supplied thresholds and keeps
// at most one unresolved alert per (item, location, type) tuple.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ventra-system/internal/apperr"
	"ventra-system/internal/database"
	"ventra-system/internal/database/models"
)

// Thresholds carries the policy inputs for evaluation. Sourcing them (catalog
// config, consumption history, anything else) is the caller's decision; the
// evaluator only compares.
type Thresholds struct {
	Low          decimal.NullDecimal
	High         decimal.NullDecimal
	ReorderPoint decimal.NullDecimal
}

// Evaluate is the stateless predicate set over one stock record. Thresholds
// left invalid are skipped.
func Evaluate(record models.StockRecord, t Thresholds) []models.AlertType {
	var types []models.AlertType
	if t.Low.Valid && record.Quantity.LessThanOrEqual(t.Low.Decimal) {
		types = append(types, models.AlertLowStock)
	}
	if t.High.Valid && record.Quantity.GreaterThanOrEqual(t.High.Decimal) {
		types = append(types, models.AlertOverstock)
	}
	if t.ReorderPoint.Valid && record.Quantity.LessThanOrEqual(t.ReorderPoint.Decimal) {
		types = append(types, models.AlertReorder)
	}
	return types
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: db, log: log}
}

type UpsertInput struct {
	TenantID   int64
	ItemID     int64
	LocationID int64
	Type       models.AlertType
	Message    string
	Metadata   models.JSONMap
}

// Upsert merges into the existing unresolved alert for the tuple when one
// exists, otherwise creates it. Alert identity is preserved across repeated
// triggers, which keeps alert storms down to a single row.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (*models.Alert, error) {
	if in.Message == "" {
		return nil, apperr.Validationf("alert message is required")
	}

	var result models.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Alert
		err := database.LockForUpdate(tx).
			Where("tenant_id = ? AND item_id = ? AND location_id = ? AND alert_type = ? AND is_resolved = ?",
				in.TenantID, in.ItemID, in.LocationID, in.Type, false).
			First(&existing).Error

		if err == nil {
			existing.Message = in.Message
			if existing.Metadata == nil {
				existing.Metadata = models.JSONMap{}
			}
			for k, v := range in.Metadata {
				existing.Metadata[k] = v
			}
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			result = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		created := models.Alert{
			TenantID:   in.TenantID,
			ItemID:     in.ItemID,
			LocationID: in.LocationID,
			AlertType:  in.Type,
			Message:    in.Message,
			Metadata:   in.Metadata,
		}
		if created.Metadata == nil {
			created.Metadata = models.JSONMap{}
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Resolve marks an alert resolved, stamping resolver and timestamp. Resolving
// twice is a validation failure.
func (s *Service) Resolve(ctx context.Context, tenantID, alertID, resolvedBy int64, note string) (*models.Alert, error) {
	var result models.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Alert
		err := database.LockForUpdate(tx).
			Where("tenant_id = ?", tenantID).
			First(&existing, alertID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("alert", "id %d", alertID)
			}
			return err
		}
		if existing.IsResolved {
			return apperr.Validationf("alert %d is already resolved", alertID)
		}

		now := time.Now()
		existing.IsResolved = true
		existing.ResolvedAt = &now
		existing.ResolvedBy = &resolvedBy
		if note != "" {
			existing.ResolutionNote = &note
		}
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// List returns a tenant's alerts, optionally filtered by resolution state.
func (s *Service) List(ctx context.Context, tenantID int64, resolved *bool) ([]models.Alert, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if resolved != nil {
		query = query.Where("is_resolved = ?", *resolved)
	}
	var alerts []models.Alert
	if err := query.Order("created_at DESC").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}
