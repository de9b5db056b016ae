package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Group is a bundle of allocated unit quantities whose total price stays under the ceiling.
// Rows are written once by a grouping run and never updated or deleted.
type Group struct {
	ID         uuid.UUID       `gorm:"type:char(36);primary_key" json:"id"`
	BatchId    uuid.UUID       `gorm:"type:char(36);not null;index" json:"batch_id"`
	Number     int             `gorm:"not null;default:0;index" json:"number"`
	Title      string          `gorm:"size:100;not null" json:"title"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_price"`
	CreatedAt  time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	Lines      []GroupLine     `gorm:"foreignKey:GroupId" json:"lines,omitempty"`
}

func (Group) TableName() string { return "goods_groups" }

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// GroupLine snapshots the unit's name, unit label and price at allocation time.
type GroupLine struct {
	ID              int             `gorm:"primary_key" json:"id"`
	GroupId         uuid.UUID       `gorm:"type:char(36);not null;index" json:"group_id"`
	InventoryUnitId int             `gorm:"not null;index" json:"inventory_unit_id"`
	ProductName     string          `gorm:"size:255;not null" json:"product_name"`
	Unit            string          `gorm:"size:64" json:"unit"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"unit_price"`
	Quantity        int             `gorm:"not null;default:0" json:"quantity"`
}

func (l GroupLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// GroupLineView is the API shape of a line, subtotal included.
type GroupLineView struct {
	ProductName string          `json:"product_name"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// ListGroups returns groups oldest first; batchId narrows to one batch when non-nil.
func ListGroups(ctx context.Context, batchId *uuid.UUID) ([]Group, error) {
	db := config.GetDB().WithContext(ctx)
	q := db.Model(&Group{}).Order("created_at ASC").Order("number ASC")
	if batchId != nil {
		q = q.Where("batch_id = ?", *batchId)
	}
	var groups []Group
	if err := q.Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func ListGroupLines(ctx context.Context, groupId uuid.UUID) ([]GroupLineView, error) {
	db := config.GetDB().WithContext(ctx)
	var lines []GroupLine
	if err := db.Where("group_id = ?", groupId).Order("id ASC").Find(&lines).Error; err != nil {
		return nil, err
	}
	views := make([]GroupLineView, 0, len(lines))
	for _, l := range lines {
		views = append(views, GroupLineView{
			ProductName: l.ProductName,
			Unit:        l.Unit,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			Subtotal:    l.Subtotal(),
		})
	}
	return views, nil
}

// ListUnitsAboveCeiling returns pending units that can never fit a group.
func ListUnitsAboveCeiling(ctx context.Context, ceiling decimal.Decimal) ([]InventoryUnit, error) {
	db := config.GetDB().WithContext(ctx)
	var units []InventoryUnit
	err := db.Where("quantity_remaining > 0 AND unit_price > ?", ceiling).
		Order("batch_id ASC").Order("id ASC").
		Find(&units).Error
	return units, err
}
