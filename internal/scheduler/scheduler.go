// Package scheduler runs the periodic alert sweep: stock records are checked
// against catalog thresholds and fed to the alert generator.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ventra-system/config"
	"ventra-system/internal/alert"
	"ventra-system/internal/database/models"
)

type Scheduler struct {
	cron     *cron.Cron
	db       *gorm.DB
	alertSvc *alert.Service
	cfg      config.SchedulerConfig
	logger   *zap.Logger
}

func NewScheduler(cfg config.SchedulerConfig, db *gorm.DB, alertSvc *alert.Service, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:     cron.New(),
		db:       db,
		alertSvc: alertSvc,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start registers the alert sweep and starts the cron loop.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", zap.String("alert_sweep_spec", s.cfg.AlertSweepSpec))

	if _, err := s.cron.AddFunc(s.cfg.AlertSweepSpec, s.runAlertSweep); err != nil {
		s.logger.Error("failed to schedule alert sweep", zap.Error(err))
	}

	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.cron.Stop()
}

// RunAlertSweepNow runs one sweep synchronously. Exposed for tests and for
// on-demand triggering from the gateway.
func (s *Scheduler) RunAlertSweepNow(ctx context.Context) error {
	return s.sweep(ctx)
}

func (s *Scheduler) runAlertSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.sweep(ctx); err != nil {
		s.logger.Error("alert sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) sweep(ctx context.Context) error {
	var records []models.StockRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	itemIDs := make([]int64, 0, len(records))
	for _, r := range records {
		itemIDs = append(itemIDs, r.ItemID)
	}
	var items []models.Item
	if err := s.db.WithContext(ctx).Where("id IN ?", itemIDs).Find(&items).Error; err != nil {
		return err
	}
	itemsByID := make(map[int64]models.Item, len(items))
	for _, it := range items {
		itemsByID[it.ID] = it
	}

	raised := 0
	for _, record := range records {
		item, ok := itemsByID[record.ItemID]
		if !ok || !item.IsActive {
			continue
		}
		thresholds := alert.Thresholds{
			Low:          item.ReorderLevel,
			High:         item.MaxStockLevel,
			ReorderPoint: item.ReorderLevel,
		}
		for _, alertType := range alert.Evaluate(record, thresholds) {
			_, err := s.alertSvc.Upsert(ctx, alert.UpsertInput{
				TenantID:   record.TenantID,
				ItemID:     record.ItemID,
				LocationID: record.LocationID,
				Type:       alertType,
				Message:    sweepMessage(alertType, item, record),
				Metadata: models.JSONMap{
					"quantity":  record.Quantity.String(),
					"reserved":  record.Reserved.String(),
					"swept_at":  time.Now().UTC().Format(time.RFC3339),
					"item_code": item.ItemCode,
				},
			})
			if err != nil {
				s.logger.Error("alert upsert failed during sweep",
					zap.Int64("item_id", record.ItemID),
					zap.Int64("location_id", record.LocationID),
					zap.Error(err))
				continue
			}
			raised++
		}
	}

	s.logger.Info("alert sweep finished",
		zap.Int("records_checked", len(records)),
		zap.Int("alerts_raised", raised))
	return nil
}

func sweepMessage(t models.AlertType, item models.Item, record models.StockRecord) string {
	switch t {
	case models.AlertLowStock:
		return fmt.Sprintf("%s is low on stock at location %d: %s on hand", item.ItemName, record.LocationID, record.Quantity.String())
	case models.AlertOverstock:
		return fmt.Sprintf("%s is overstocked at location %d: %s on hand", item.ItemName, record.LocationID, record.Quantity.String())
	case models.AlertReorder:
		return fmt.Sprintf("%s reached its reorder point at location %d: %s on hand", item.ItemName, record.LocationID, record.Quantity.String())
	default:
		return fmt.Sprintf("%s stock alert at location %d", item.ItemName, record.LocationID)
	}
}
