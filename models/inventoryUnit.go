package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type UnitStatus string

const (
	UnitStatusPending   UnitStatus = "Pending"
	UnitStatusProcessed UnitStatus = "Processed"
)

// InventoryUnit is one priced, quantified product line of a batch.
// Only the grouping run mutates QuantityRemaining and Status.
type InventoryUnit struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BatchId           uuid.UUID       `gorm:"type:char(36);not null;index:idx_units_batch_status,priority:1" json:"batch_id"`
	Name              string          `gorm:"size:255;not null" json:"name"`
	Unit              string          `gorm:"size:64" json:"unit"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"unit_price"`
	QuantityTotal     int             `gorm:"not null;default:0" json:"quantity_total"`
	QuantityRemaining int             `gorm:"not null;default:0;index" json:"quantity_remaining"`
	Status            UnitStatus      `gorm:"type:enum('Pending','Processed');default:Pending;index:idx_units_batch_status,priority:2" json:"status"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CheckInvariants reports a unit whose quantities or status are inconsistent.
func (u InventoryUnit) CheckInvariants() error {
	if u.QuantityTotal < 0 {
		return fmt.Errorf("unit %d: negative total quantity %d", u.ID, u.QuantityTotal)
	}
	if u.QuantityRemaining < 0 || u.QuantityRemaining > u.QuantityTotal {
		return fmt.Errorf("unit %d: remaining %d outside [0, %d]", u.ID, u.QuantityRemaining, u.QuantityTotal)
	}
	if u.Status == UnitStatusProcessed && u.QuantityRemaining != 0 {
		return fmt.Errorf("unit %d: processed with %d remaining", u.ID, u.QuantityRemaining)
	}
	return nil
}

// StatusForRemaining is Processed once nothing is left to allocate.
func StatusForRemaining(remaining int) UnitStatus {
	if remaining <= 0 {
		return UnitStatusProcessed
	}
	return UnitStatusPending
}

// BeforeSave keeps rows written through gorm inside the unit invariants.
func (u *InventoryUnit) BeforeSave(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if u == nil {
		return nil
	}
	if u.Status == "" {
		u.Status = StatusForRemaining(u.QuantityRemaining)
	}
	return u.CheckInvariants()
}
