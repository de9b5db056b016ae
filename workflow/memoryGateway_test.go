package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/models"
)

// memoryGateway keeps batches in maps and serializes access per batch with a mutex.
// Writes made inside WithinBatch are staged and only applied when fn succeeds.
type memoryGateway struct {
	mu        sync.Mutex
	batchMu   map[uuid.UUID]*sync.Mutex
	units     map[uuid.UUID][]models.InventoryUnit
	groups    map[uuid.UUID][]*models.Group
	completed map[uuid.UUID]bool
	// failUpdates makes UpdateUnitStatuses fail this many times.
	failUpdates int
}

func newMemoryGateway() *memoryGateway {
	return &memoryGateway{
		batchMu:   map[uuid.UUID]*sync.Mutex{},
		units:     map[uuid.UUID][]models.InventoryUnit{},
		groups:    map[uuid.UUID][]*models.Group{},
		completed: map[uuid.UUID]bool{},
	}
}

func (g *memoryGateway) addBatch(units ...models.InventoryUnit) uuid.UUID {
	id := uuid.New()
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range units {
		units[i].BatchId = id
		if units[i].QuantityRemaining == 0 && units[i].Status == "" {
			units[i].QuantityRemaining = units[i].QuantityTotal
		}
		units[i].Status = models.StatusForRemaining(units[i].QuantityRemaining)
	}
	g.units[id] = units
	return id
}

func (g *memoryGateway) lockFor(id uuid.UUID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.batchMu[id]
	if m == nil {
		m = &sync.Mutex{}
		g.batchMu[id] = m
	}
	return m
}

func (g *memoryGateway) WithinBatch(ctx context.Context, batchId uuid.UUID, fn func(tx BatchTx) error) error {
	m := g.lockFor(batchId)
	m.Lock()
	defer m.Unlock()

	g.mu.Lock()
	units, ok := g.units[batchId]
	snapshot := append([]models.InventoryUnit(nil), units...)
	last := 0
	for _, grp := range g.groups[batchId] {
		if grp.Number > last {
			last = grp.Number
		}
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBatch, batchId)
	}

	tx := &memoryTx{g: g, units: snapshot, lastNumber: last}
	if err := fn(tx); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.units[batchId] = tx.units
	g.groups[batchId] = append(g.groups[batchId], tx.groups...)
	g.completed[batchId] = tx.completed
	return nil
}

func (g *memoryGateway) ListBatchesWithPendingUnits(ctx context.Context) ([]uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []uuid.UUID
	for id, units := range g.units {
		for _, u := range units {
			if u.Status == models.UnitStatusPending {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (g *memoryGateway) unitsOf(id uuid.UUID) []models.InventoryUnit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.InventoryUnit(nil), g.units[id]...)
}

func (g *memoryGateway) groupsOf(id uuid.UUID) []*models.Group {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*models.Group(nil), g.groups[id]...)
}

type memoryTx struct {
	g          *memoryGateway
	units      []models.InventoryUnit
	groups     []*models.Group
	lastNumber int
	completed  bool
}

func (t *memoryTx) ListPendingUnits(ctx context.Context) ([]models.InventoryUnit, error) {
	var out []models.InventoryUnit
	for _, u := range t.units {
		if u.QuantityRemaining > 0 {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UnitPrice.Equal(out[j].UnitPrice) {
			return out[i].UnitPrice.GreaterThan(out[j].UnitPrice)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memoryTx) LastGroupNumber(ctx context.Context) (int, error) {
	return t.lastNumber, nil
}

func (t *memoryTx) PersistGroups(ctx context.Context, groups []*models.Group) error {
	for _, grp := range groups {
		if grp.ID == uuid.Nil {
			grp.ID = uuid.New()
		}
	}
	t.groups = append(t.groups, groups...)
	return nil
}

func (t *memoryTx) UpdateUnitStatuses(ctx context.Context, changes []UnitChange) error {
	t.g.mu.Lock()
	if t.g.failUpdates > 0 {
		t.g.failUpdates--
		t.g.mu.Unlock()
		return ErrConcurrentUpdate
	}
	t.g.mu.Unlock()

	for _, c := range changes {
		found := false
		for i := range t.units {
			if t.units[i].ID != c.UnitId {
				continue
			}
			if t.units[i].QuantityRemaining != c.OldRemaining {
				return fmt.Errorf("%w: unit_id=%d", ErrConcurrentUpdate, c.UnitId)
			}
			t.units[i].QuantityRemaining = c.NewRemaining
			t.units[i].Status = c.Status
			found = true
		}
		if !found {
			return fmt.Errorf("%w: unit_id=%d", ErrConcurrentUpdate, c.UnitId)
		}
	}
	for i := range t.units {
		if t.units[i].QuantityRemaining <= 0 {
			t.units[i].Status = models.UnitStatusProcessed
		}
	}
	return nil
}

func (t *memoryTx) MarkBatchCompletion(ctx context.Context) (bool, error) {
	t.completed = true
	for _, u := range t.units {
		if u.QuantityRemaining > 0 {
			t.completed = false
			break
		}
	}
	return t.completed, nil
}
