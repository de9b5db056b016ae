package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/goods_grouper/config"
)

type DeliveryStatus string

const (
	DeliveryStatusReceived  DeliveryStatus = "RECEIVED"
	DeliveryStatusSucceeded DeliveryStatus = "SUCCEEDED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
	DeliveryStatusDead      DeliveryStatus = "DEAD"
)

// GroupingDelivery counts deliveries of one work-channel message and records how it ended.
// Unique constraint: message_id. DEAD rows are the dead-letter record operators inspect.
type GroupingDelivery struct {
	ID        int            `gorm:"primary_key" json:"id"`
	MessageId string         `gorm:"size:255;not null;uniqueIndex" json:"message_id"`
	BatchId   *string        `gorm:"size:36;index" json:"batch_id"`
	Status    DeliveryStatus `gorm:"size:20;not null;index" json:"status"`
	Attempts  int            `gorm:"not null;default:0" json:"attempts"`
	LastError *string        `gorm:"type:text" json:"last_error"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// ListDeliveries returns the newest deliveries in the given statuses (all when empty).
func ListDeliveries(ctx context.Context, statuses []DeliveryStatus, limit int) ([]GroupingDelivery, error) {
	db := config.GetDB().WithContext(ctx)
	q := db.Model(&GroupingDelivery{}).Order("updated_at DESC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []GroupingDelivery
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
