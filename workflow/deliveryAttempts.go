package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/models"
	"gorm.io/gorm"
)

// DeliveryTracker counts how often a message was delivered and records how it ended.
type DeliveryTracker interface {
	// Begin records one more delivery of messageId and returns the attempt number
	// together with the status left by the previous delivery ("" for the first).
	Begin(ctx context.Context, messageId string, batchId *uuid.UUID) (int, models.DeliveryStatus, error)
	Finish(ctx context.Context, messageId string, status models.DeliveryStatus, cause error) error
}

type GormDeliveryTracker struct {
	DB *gorm.DB
}

func NewGormDeliveryTracker(db *gorm.DB) *GormDeliveryTracker {
	return &GormDeliveryTracker{DB: db}
}

// Begin inserts RECEIVED with one attempt. A duplicate message id bumps the counter instead.
func (t *GormDeliveryTracker) Begin(ctx context.Context, messageId string, batchId *uuid.UUID) (int, models.DeliveryStatus, error) {
	var batchStr *string
	if batchId != nil {
		s := batchId.String()
		batchStr = &s
	}
	var attempts int
	var previous models.DeliveryStatus
	err := t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.GroupingDelivery{
			MessageId: messageId,
			BatchId:   batchStr,
			Status:    models.DeliveryStatusReceived,
			Attempts:  1,
		}
		err := tx.Create(&row).Error
		if err == nil {
			attempts = 1
			return nil
		}
		if !isDuplicateKeyErr(err) {
			return err
		}

		var existing models.GroupingDelivery
		if err := tx.Where("message_id = ?", messageId).First(&existing).Error; err != nil {
			return err
		}
		previous = existing.Status
		attempts = existing.Attempts + 1
		return tx.Model(&models.GroupingDelivery{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"attempts": gorm.Expr("attempts + 1"),
				"status":   models.DeliveryStatusReceived,
			}).Error
	})
	if err != nil {
		return 0, "", err
	}
	return attempts, previous, nil
}

func (t *GormDeliveryTracker) Finish(ctx context.Context, messageId string, status models.DeliveryStatus, cause error) error {
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}
	return t.DB.WithContext(ctx).Model(&models.GroupingDelivery{}).
		Where("message_id = ?", messageId).
		Updates(map[string]interface{}{"status": status, "last_error": lastError}).Error
}
