package workflow

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/models"
	"github.com/shopspring/decimal"
)

// UnitChange is the remaining quantity a run moves one unit from and to.
type UnitChange struct {
	UnitId       int
	OldRemaining int
	NewRemaining int
	Status       models.UnitStatus
}

// Allocation is the in-memory result of one greedy pass over a batch.
type Allocation struct {
	Groups  []*models.Group
	Changes []UnitChange
	// Pending holds units still carrying quantity after the pass, by id.
	Pending []int
}

func (a *Allocation) Allocated() int {
	n := 0
	for _, c := range a.Changes {
		n += c.OldRemaining - c.NewRemaining
	}
	return n
}

type poolUnit struct {
	unit      models.InventoryUnit
	remaining int
}

// AllocateGroups packs the units' remaining quantities into groups whose totals
// never exceed ceiling. Each step takes the highest priced unit that still fits
// the group's headroom, ties going to the lowest id. A group closes when its
// total equals the ceiling or nothing fits. Groups are numbered from firstNumber.
//
// When a fresh group cannot take any unit, the pass stops and returns the
// allocation built so far together with a *StallError naming the leftovers.
func AllocateGroups(batchId uuid.UUID, units []models.InventoryUnit, ceiling decimal.Decimal, firstNumber int) (*Allocation, error) {
	if !ceiling.IsPositive() {
		return nil, ErrInvalidCeiling
	}
	if firstNumber < 1 {
		firstNumber = 1
	}

	pool := make([]*poolUnit, 0, len(units))
	for _, u := range units {
		if u.QuantityRemaining <= 0 {
			continue
		}
		pool = append(pool, &poolUnit{unit: u, remaining: u.QuantityRemaining})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		pi, pj := pool[i].unit.UnitPrice, pool[j].unit.UnitPrice
		if !pi.Equal(pj) {
			return pi.GreaterThan(pj)
		}
		return pool[i].unit.ID < pool[j].unit.ID
	})

	alloc := &Allocation{}
	var stall *StallError
	number := firstNumber
	for hasRemaining(pool) {
		group := &models.Group{
			BatchId:    batchId,
			Number:     number,
			Title:      fmt.Sprintf("Group %d", number),
			TotalPrice: decimal.Zero,
		}
		lineIdx := map[int]int{}
		for !group.TotalPrice.Equal(ceiling) {
			headroom := ceiling.Sub(group.TotalPrice)
			pu := pickUnit(pool, headroom)
			if pu == nil {
				break
			}
			take := quantityThatFits(pu, headroom)
			pu.remaining -= take
			group.TotalPrice = group.TotalPrice.Add(pu.unit.UnitPrice.Mul(decimal.NewFromInt(int64(take))))
			if i, ok := lineIdx[pu.unit.ID]; ok {
				group.Lines[i].Quantity += take
				continue
			}
			lineIdx[pu.unit.ID] = len(group.Lines)
			group.Lines = append(group.Lines, models.GroupLine{
				InventoryUnitId: pu.unit.ID,
				ProductName:     pu.unit.Name,
				Unit:            pu.unit.Unit,
				UnitPrice:       pu.unit.UnitPrice,
				Quantity:        take,
			})
		}
		if len(group.Lines) == 0 {
			stall = &StallError{BatchId: batchId, Ceiling: ceiling}
			for _, pu := range pool {
				if pu.remaining > 0 {
					stall.UnitIds = append(stall.UnitIds, pu.unit.ID)
				}
			}
			sort.Ints(stall.UnitIds)
			break
		}
		alloc.Groups = append(alloc.Groups, group)
		number++
	}

	for _, pu := range pool {
		if pu.remaining > 0 {
			alloc.Pending = append(alloc.Pending, pu.unit.ID)
		}
		if pu.remaining == pu.unit.QuantityRemaining {
			continue
		}
		alloc.Changes = append(alloc.Changes, UnitChange{
			UnitId:       pu.unit.ID,
			OldRemaining: pu.unit.QuantityRemaining,
			NewRemaining: pu.remaining,
			Status:       models.StatusForRemaining(pu.remaining),
		})
	}
	sort.Ints(alloc.Pending)
	sort.Slice(alloc.Changes, func(i, j int) bool { return alloc.Changes[i].UnitId < alloc.Changes[j].UnitId })

	if stall != nil {
		return alloc, stall
	}
	return alloc, nil
}

func hasRemaining(pool []*poolUnit) bool {
	for _, pu := range pool {
		if pu.remaining > 0 {
			return true
		}
	}
	return false
}

// pickUnit relies on pool being sorted by price desc, id asc.
func pickUnit(pool []*poolUnit, headroom decimal.Decimal) *poolUnit {
	for _, pu := range pool {
		if pu.remaining > 0 && pu.unit.UnitPrice.LessThanOrEqual(headroom) {
			return pu
		}
	}
	return nil
}

// quantityThatFits takes as many units as the headroom allows in one step.
// The result matches taking them one at a time: the same unit stays the best
// fit until its quantity runs out or the headroom drops below its price.
func quantityThatFits(pu *poolUnit, headroom decimal.Decimal) int {
	if !pu.unit.UnitPrice.IsPositive() {
		return pu.remaining
	}
	q, _ := headroom.QuoRem(pu.unit.UnitPrice, 0)
	n := q.IntPart()
	if n > int64(pu.remaining) {
		return pu.remaining
	}
	if n < 1 {
		return 1
	}
	return int(n)
}
