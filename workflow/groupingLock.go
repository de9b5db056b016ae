package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func groupingLockName(batchId uuid.UUID) string {
	return fmt.Sprintf("grouping:%s", batchId)
}

// AcquireBatchGroupingLock serializes grouping per batch across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that runs the grouping transaction.
func AcquireBatchGroupingLock(tx *gorm.DB, batchId uuid.UUID, wait time.Duration) error {
	seconds := int(wait / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	var ok *int
	if err := tx.Raw("SELECT GET_LOCK(?, ?)", groupingLockName(batchId), seconds).Scan(&ok).Error; err != nil {
		return err
	}
	if ok == nil {
		return fmt.Errorf("GET_LOCK returned NULL for batch_id=%s", batchId)
	}
	if *ok != 1 {
		return fmt.Errorf("%w: grouping lock for batch_id=%s", ErrBatchBusy, batchId)
	}
	return nil
}

func ReleaseBatchGroupingLock(tx *gorm.DB, batchId uuid.UUID) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", groupingLockName(batchId)).Scan(&_ok).Error
}
