package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/utils"
	"github.com/mmdatafocus/goods_grouper/workflow"
	"github.com/shopspring/decimal"
)

// grouping-run runs the grouping engine once, for one batch or for every batch
// that still has pending units, and exits non-zero when any run fails.
func main() {
	batchID := flag.String("batch-id", "", "Optional: group only this batch (uuid). If empty, groups every batch with pending units.")
	ceiling := flag.String("ceiling", "", "Optional: override GROUP_PRICE_CEILING for this run.")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall timeout.")
	noRedis := flag.Bool("no-redis", false, "Skip the Redis lease and cache invalidation; database locks still apply.")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = utils.SetTriggerInContext(ctx, utils.TriggerCLI)

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	logger := config.GetLogger()

	gateway := workflow.NewGormInventoryGateway(db, config.GroupingLockWait())
	var locker workflow.BatchLocker
	var cache workflow.GroupCache
	if !*noRedis {
		redisCtx, cancelRedis := context.WithTimeout(ctx, 15*time.Second)
		config.ConnectRedisWithRetry(redisCtx)
		cancelRedis()
		if rl := config.GetRedisLock(); rl != nil {
			locker = workflow.NewRedisBatchLocker(rl, logger)
			cache = workflow.RedisGroupCache{}
		}
	}
	engine := workflow.NewGroupingEngine(gateway, locker, cache, logger)
	if s := strings.TrimSpace(*ceiling); s != "" {
		d, err := decimal.NewFromString(s)
		if err != nil || !d.IsPositive() {
			fmt.Fprintf(os.Stderr, "invalid -ceiling %q\n", s)
			os.Exit(2)
		}
		engine.Ceiling = d
	}

	if s := strings.TrimSpace(*batchID); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -batch-id %q: %v\n", s, err)
			os.Exit(2)
		}
		res, err := engine.RunGrouping(ctx, id)
		if res != nil {
			fmt.Printf("batch=%s groups_created=%d units_allocated=%d pending=%v completed=%v\n",
				id, len(res.Groups), res.UnitsAllocated, res.PendingUnits, res.Completed)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "batch %s: %v\n", id, err)
			os.Exit(1)
		}
		return
	}

	scanner := workflow.NewReconciliationScanner(gateway, engine, logger)
	report := scanner.ScanOnce(ctx)
	fmt.Printf("scanned=%d succeeded=%d stalled=%d failed=%d groups_created=%d cancelled=%v\n",
		report.Scanned, report.Succeeded, report.Stalled, report.Failed, report.GroupsCreated, report.Cancelled)
	if report.Failed > 0 || report.Cancelled {
		os.Exit(1)
	}
}
