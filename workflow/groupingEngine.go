package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/models"
	"github.com/mmdatafocus/goods_grouper/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mmdatafocus/goods_grouper/workflow")

// RunResult summarises one grouping run over a batch.
type RunResult struct {
	BatchId        uuid.UUID
	Groups         []*models.Group
	UnitsAllocated int
	PendingUnits   []int
	Completed      bool
}

// GroupingEngine runs the greedy allocation for a batch under exclusive access
// and commits the groups and quantity changes atomically.
type GroupingEngine struct {
	Gateway  InventoryGateway
	Locker   BatchLocker // optional; the gateway's own exclusion still applies
	Cache    GroupCache  // optional
	Logger   *logrus.Logger
	Ceiling  decimal.Decimal
	LockTTL  time.Duration
	LockWait time.Duration
}

func NewGroupingEngine(gateway InventoryGateway, locker BatchLocker, cache GroupCache, logger *logrus.Logger) *GroupingEngine {
	return &GroupingEngine{
		Gateway:  gateway,
		Locker:   locker,
		Cache:    cache,
		Logger:   logger,
		Ceiling:  config.GroupPriceCeiling(),
		LockTTL:  config.GroupingLockTTL(),
		LockWait: config.GroupingLockWait(),
	}
}

func batchLeaseKey(batchId uuid.UUID) string {
	return "grouping:" + batchId.String()
}

// RunGrouping groups every pending unit of the batch. A batch with nothing
// pending yields an empty result. On a stall the groups built before it are
// still committed and the *StallError is returned alongside the result.
func (e *GroupingEngine) RunGrouping(ctx context.Context, batchId uuid.UUID) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "grouping.run", trace.WithAttributes(attribute.String("batch_id", batchId.String())))
	defer span.End()
	ctx = utils.SetBatchIdInContext(ctx, batchId.String())

	if e.Locker != nil {
		lease, err := e.Locker.Obtain(ctx, batchLeaseKey(batchId), e.LockTTL, e.LockWait)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lease")
			return nil, err
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				e.logger(ctx).Warn("release grouping lease: " + err.Error())
			}
		}()
	}

	result := &RunResult{BatchId: batchId}
	var stall *StallError
	err := e.Gateway.WithinBatch(ctx, batchId, func(tx BatchTx) error {
		units, err := tx.ListPendingUnits(ctx)
		if err != nil {
			return err
		}
		last, err := tx.LastGroupNumber(ctx)
		if err != nil {
			return err
		}
		alloc, err := AllocateGroups(batchId, units, e.Ceiling, last+1)
		if err != nil && !errors.As(err, &stall) {
			return err
		}
		if err := tx.PersistGroups(ctx, alloc.Groups); err != nil {
			return err
		}
		if err := tx.UpdateUnitStatuses(ctx, alloc.Changes); err != nil {
			return err
		}
		completed, err := tx.MarkBatchCompletion(ctx)
		if err != nil {
			return err
		}
		result.Groups = alloc.Groups
		result.UnitsAllocated = alloc.Allocated()
		result.PendingUnits = alloc.Pending
		result.Completed = completed
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grouping")
		return nil, err
	}

	if len(result.Groups) > 0 && e.Cache != nil {
		if err := e.Cache.InvalidateGroups(ctx, batchId); err != nil {
			e.logger(ctx).Warn("invalidate groups cache: " + err.Error())
		}
	}
	span.SetAttributes(
		attribute.Int("groups_created", len(result.Groups)),
		attribute.Int("units_allocated", result.UnitsAllocated),
		attribute.Bool("completed", result.Completed),
	)

	entry := e.logger(ctx).WithFields(logrus.Fields{
		"groups_created":  len(result.Groups),
		"units_allocated": result.UnitsAllocated,
		"completed":       result.Completed,
	})
	if stall != nil {
		span.RecordError(stall)
		span.SetStatus(codes.Error, "stall")
		entry.WithField("stalled_units", stall.UnitIds).Warn(stall.Error())
		return result, stall
	}
	entry.Info("grouping run finished")
	return result, nil
}

func (e *GroupingEngine) logger(ctx context.Context) *logrus.Entry {
	l := e.Logger
	if l == nil {
		l = config.GetLogger()
	}
	fields := logrus.Fields{"field": "GroupingEngine"}
	if id, ok := utils.GetBatchIdFromContext(ctx); ok {
		fields["batch_id"] = id
	}
	if id, ok := utils.GetMessageIdFromContext(ctx); ok {
		fields["message_id"] = id
	}
	if t, ok := utils.GetTriggerFromContext(ctx); ok {
		fields["trigger"] = t
	}
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = id
	}
	return l.WithFields(fields)
}
