package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/utils"
	"github.com/sirupsen/logrus"
)

// ReconciliationScanner periodically re-runs grouping for batches that still
// hold pending units, covering lost or never-published triggers.
type ReconciliationScanner struct {
	Batches  BatchLister
	Runner   GroupingRunner
	Logger   *logrus.Logger
	Interval time.Duration
}

// ScanReport tallies one pass. Failed counts batches whose run errored; Stalled
// counts runs that hit units priced above the ceiling.
type ScanReport struct {
	Scanned       int
	Succeeded     int
	Stalled       int
	Failed        int
	GroupsCreated int
	Cancelled     bool
}

func NewReconciliationScanner(batches BatchLister, runner GroupingRunner, logger *logrus.Logger) *ReconciliationScanner {
	return &ReconciliationScanner{
		Batches:  batches,
		Runner:   runner,
		Logger:   logger,
		Interval: config.GroupingScanInterval(),
	}
}

// Run scans once immediately, then once per Interval until ctx is done.
func (s *ReconciliationScanner) Run(ctx context.Context) {
	if s == nil || s.Batches == nil || s.Runner == nil {
		return
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	for {
		s.ScanOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// ScanOnce runs grouping for each batch with pending units, one at a time.
// A failing batch is logged and skipped. Cancellation is checked between batches.
func (s *ReconciliationScanner) ScanOnce(ctx context.Context) ScanReport {
	var report ScanReport
	log := s.logger()

	ids, err := s.Batches.ListBatchesWithPendingUnits(ctx)
	if err != nil {
		config.LogError(log.Logger, "ReconciliationScanner", "ScanOnce", "list batches", nil, err)
		report.Cancelled = ctx.Err() != nil
		return report
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		report.Scanned++
		s.scanBatch(ctx, log, id, &report)
	}

	log.WithFields(logrus.Fields{
		"scanned":        report.Scanned,
		"succeeded":      report.Succeeded,
		"stalled":        report.Stalled,
		"failed":         report.Failed,
		"groups_created": report.GroupsCreated,
		"cancelled":      report.Cancelled,
	}).Info("reconciliation scan finished")
	return report
}

func (s *ReconciliationScanner) scanBatch(ctx context.Context, log *logrus.Entry, id uuid.UUID, report *ScanReport) {
	runCtx := utils.SetTriggerInContext(ctx, utils.TriggerScanner)
	res, err := s.Runner.RunGrouping(runCtx, id)
	if res != nil {
		report.GroupsCreated += len(res.Groups)
	}
	entry := log.WithField("batch_id", id.String())
	switch {
	case err == nil:
		report.Succeeded++
	case IsStall(err):
		report.Stalled++
		entry.Warn(err.Error())
	default:
		report.Failed++
		entry.WithField("transient", IsTransient(err)).Error("grouping failed: " + err.Error())
	}
}

func (s *ReconciliationScanner) logger() *logrus.Entry {
	l := s.Logger
	if l == nil {
		l = config.GetLogger()
	}
	return l.WithField("field", "ReconciliationScanner")
}
