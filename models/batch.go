package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/utils"
	"gorm.io/gorm"
)

// Batch is one uploaded set of inventory units processed together.
type Batch struct {
	ID                uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	FileName          string    `gorm:"size:255" json:"file_name"`
	ItemsCount        int       `gorm:"not null;default:0" json:"items_count"`
	SourceObjectKey   *string   `gorm:"size:512" json:"source_object_key"`
	GroupingCompleted bool      `gorm:"not null;default:false;index" json:"grouping_completed"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Batch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// BatchSummary is the read model served for a single batch.
type BatchSummary struct {
	Batch
	PendingUnits   int64 `json:"pending_units"`
	ProcessedUnits int64 `json:"processed_units"`
	GroupCount     int64 `json:"group_count"`
}

// CreateBatchWithUnits writes a batch and its units in one transaction.
// Units start with remaining == total; zero-quantity units start Processed.
func CreateBatchWithUnits(ctx context.Context, db *gorm.DB, batch *Batch, units []InventoryUnit) error {
	if batch == nil {
		return errors.New("batch is required")
	}
	if len(units) == 0 {
		return errors.New("batch has no inventory units")
	}
	batch.ItemsCount = len(units)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		for i := range units {
			units[i].ID = 0
			units[i].BatchId = batch.ID
			units[i].QuantityRemaining = units[i].QuantityTotal
			units[i].Status = StatusForRemaining(units[i].QuantityTotal)
		}
		return tx.CreateInBatches(units, 500).Error
	})
}

func GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error) {
	db := config.GetDB()
	var batch Batch
	if err := db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &batch, nil
}

func GetBatchSummary(ctx context.Context, id uuid.UUID) (*BatchSummary, error) {
	batch, err := GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	summary := BatchSummary{Batch: *batch}
	if err := db.Model(&InventoryUnit{}).
		Where("batch_id = ? AND status = ?", id, UnitStatusPending).
		Count(&summary.PendingUnits).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&InventoryUnit{}).
		Where("batch_id = ? AND status = ?", id, UnitStatusProcessed).
		Count(&summary.ProcessedUnits).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Group{}).
		Where("batch_id = ?", id).
		Count(&summary.GroupCount).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}
