package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryGateway runs fn with exclusive access to one batch. Everything fn
// writes commits together or not at all.
type InventoryGateway interface {
	WithinBatch(ctx context.Context, batchId uuid.UUID, fn func(tx BatchTx) error) error
}

// BatchTx is the storage a grouping run sees while it holds a batch.
type BatchTx interface {
	// ListPendingUnits returns units with quantity left, price desc then id asc.
	ListPendingUnits(ctx context.Context) ([]models.InventoryUnit, error)
	// LastGroupNumber is the highest group number already stored for the batch.
	LastGroupNumber(ctx context.Context) (int, error)
	PersistGroups(ctx context.Context, groups []*models.Group) error
	// UpdateUnitStatuses applies the changes, failing with ErrConcurrentUpdate when
	// a unit no longer holds its old remaining quantity, then marks every unit of
	// the batch with nothing left as Processed.
	UpdateUnitStatuses(ctx context.Context, changes []UnitChange) error
	// MarkBatchCompletion stores and returns whether the batch has no quantity left.
	MarkBatchCompletion(ctx context.Context) (bool, error)
}

// BatchLister enumerates batches the reconciliation scanner should revisit.
type BatchLister interface {
	ListBatchesWithPendingUnits(ctx context.Context) ([]uuid.UUID, error)
}

// GormInventoryGateway keeps batches in MySQL. Exclusion comes from a named
// advisory lock plus row locks on the units read.
type GormInventoryGateway struct {
	DB       *gorm.DB
	LockWait time.Duration
}

func NewGormInventoryGateway(db *gorm.DB, lockWait time.Duration) *GormInventoryGateway {
	return &GormInventoryGateway{DB: db, LockWait: lockWait}
}

func (g *GormInventoryGateway) WithinBatch(ctx context.Context, batchId uuid.UUID, fn func(tx BatchTx) error) error {
	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireBatchGroupingLock(tx, batchId, g.LockWait); err != nil {
			return err
		}
		// RELEASE_LOCK runs before COMMIT; the batch row lock covers that gap.
		defer ReleaseBatchGroupingLock(tx, batchId)

		if err := lockBatchRow(tx, batchId); err != nil {
			return err
		}
		return fn(&gormBatchTx{tx: tx, batchId: batchId})
	})
}

// lockBatchRow must be the first read of the transaction: the row lock is held
// until COMMIT and no snapshot older than the previous run's commit is taken.
func lockBatchRow(tx *gorm.DB, batchId uuid.UUID) error {
	var batch models.Batch
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", batchId).
		First(&batch).Error
	return batchLoadError(batchId, err)
}

func batchLoadError(batchId uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownBatch, batchId)
	}
	return fmt.Errorf("load batch %s: %w", batchId, err)
}

func (g *GormInventoryGateway) ListBatchesWithPendingUnits(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := g.DB.WithContext(ctx).Model(&models.InventoryUnit{}).
		Distinct("batch_id").
		Where("status = ?", models.UnitStatusPending).
		Order("batch_id ASC").
		Pluck("batch_id", &ids).Error
	return ids, err
}

type gormBatchTx struct {
	tx      *gorm.DB
	batchId uuid.UUID
}

func (b *gormBatchTx) ListPendingUnits(ctx context.Context) ([]models.InventoryUnit, error) {
	var units []models.InventoryUnit
	err := b.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("batch_id = ? AND quantity_remaining > 0", b.batchId).
		Order("unit_price DESC").Order("id ASC").
		Find(&units).Error
	return units, err
}

func (b *gormBatchTx) LastGroupNumber(ctx context.Context) (int, error) {
	var numbers []int
	err := b.tx.WithContext(ctx).Model(&models.Group{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("batch_id = ?", b.batchId).
		Pluck("COALESCE(MAX(number), 0)", &numbers).Error
	if err != nil || len(numbers) == 0 {
		return 0, err
	}
	return numbers[0], nil
}

func (b *gormBatchTx) PersistGroups(ctx context.Context, groups []*models.Group) error {
	if len(groups) == 0 {
		return nil
	}
	return b.tx.WithContext(ctx).Create(&groups).Error
}

func (b *gormBatchTx) UpdateUnitStatuses(ctx context.Context, changes []UnitChange) error {
	db := b.tx.WithContext(ctx)
	now := time.Now().UTC()
	for _, c := range changes {
		res := db.Model(&models.InventoryUnit{}).
			Where("id = ? AND batch_id = ? AND quantity_remaining = ?", c.UnitId, b.batchId, c.OldRemaining).
			UpdateColumns(map[string]interface{}{
				"quantity_remaining": c.NewRemaining,
				"status":             c.Status,
				"updated_at":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: unit_id=%d", ErrConcurrentUpdate, c.UnitId)
		}
	}
	return db.Model(&models.InventoryUnit{}).
		Where("batch_id = ? AND quantity_remaining <= 0 AND status = ?", b.batchId, models.UnitStatusPending).
		UpdateColumns(map[string]interface{}{
			"status":     models.UnitStatusProcessed,
			"updated_at": now,
		}).Error
}

func (b *gormBatchTx) MarkBatchCompletion(ctx context.Context) (bool, error) {
	db := b.tx.WithContext(ctx)
	var pending int64
	if err := db.Model(&models.InventoryUnit{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("batch_id = ? AND quantity_remaining > 0", b.batchId).
		Count(&pending).Error; err != nil {
		return false, err
	}
	completed := pending == 0
	err := db.Model(&models.Batch{}).
		Where("id = ?", b.batchId).
		UpdateColumn("grouping_completed", completed).Error
	return completed, err
}
