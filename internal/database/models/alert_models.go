package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type AlertType string

const (
	AlertLowStock  AlertType = "LOW_STOCK"
	AlertOverstock AlertType = "OVERSTOCK"
	AlertReorder   AlertType = "REORDER"
	AlertExpiry    AlertType = "EXPIRY"
)

// JSONMap stores structured alert metadata as a JSON column.
type JSONMap map[string]interface{}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("failed to scan JSONMap: %v", value)
	}
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Alert holds a stock-level alert. At most one unresolved alert exists per
// (tenant, item, location, type) tuple; re-triggering updates it in place.
type Alert struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	TenantID   int64     `gorm:"index:idx_alerts_tuple,priority:1;not null"`
	ItemID     int64     `gorm:"index:idx_alerts_tuple,priority:2;not null"`
	LocationID int64     `gorm:"index:idx_alerts_tuple,priority:3;not null"`
	AlertType  AlertType `gorm:"type:varchar(20);index:idx_alerts_tuple,priority:4;not null"`
	Message    string    `gorm:"type:text;not null"`
	Metadata   JSONMap   `gorm:"type:jsonb"`

	IsResolved     bool `gorm:"index;default:false"`
	ResolvedAt     *time.Time
	ResolvedBy     *int64
	ResolutionNote *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
