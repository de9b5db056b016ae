package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dryRunDB builds MySQL statements without a server and records their SQL.
func dryRunDB(t *testing.T) (*gorm.DB, func() []string) {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pw@tcp(127.0.0.1:1)/grouper?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}

	var mu sync.Mutex
	var statements []string
	record := func(d *gorm.DB) {
		mu.Lock()
		defer mu.Unlock()
		statements = append(statements, d.Statement.SQL.String())
	}
	if err := db.Callback().Query().After("gorm:query").Register("test:record_query", record); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Update().After("gorm:update").Register("test:record_update", record); err != nil {
		t.Fatalf("register update callback: %v", err)
	}
	return db, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), statements...)
	}
}

func findStatement(t *testing.T, statements []string, fragment string) string {
	t.Helper()
	for _, s := range statements {
		if strings.Contains(s, fragment) {
			return s
		}
	}
	t.Fatalf("no statement containing %q in %q", fragment, statements)
	return ""
}

func TestLockBatchRow_TakesRowLock(t *testing.T) {
	db, recorded := dryRunDB(t)
	if err := lockBatchRow(db, uuid.New()); err != nil {
		t.Fatalf("lockBatchRow: %v", err)
	}
	stmt := findStatement(t, recorded(), "FROM `batches`")
	if !strings.HasSuffix(strings.TrimSpace(stmt), "FOR UPDATE") {
		t.Fatalf("batch read must lock the row: %s", stmt)
	}
}

func TestGormBatchTx_ReadsUseCurrentRows(t *testing.T) {
	db, recorded := dryRunDB(t)
	tx := &gormBatchTx{tx: db, batchId: uuid.New()}
	ctx := context.Background()

	if _, err := tx.ListPendingUnits(ctx); err != nil {
		t.Fatalf("ListPendingUnits: %v", err)
	}
	if _, err := tx.LastGroupNumber(ctx); err != nil {
		t.Fatalf("LastGroupNumber: %v", err)
	}
	if _, err := tx.MarkBatchCompletion(ctx); err != nil {
		t.Fatalf("MarkBatchCompletion: %v", err)
	}

	statements := recorded()
	for _, fragment := range []string{
		"quantity_remaining > 0 ORDER BY",
		"COALESCE(MAX(number), 0)",
		"count(*)",
	} {
		stmt := findStatement(t, statements, fragment)
		if !strings.Contains(stmt, "FOR UPDATE") {
			t.Fatalf("expected a locking read, got %s", stmt)
		}
	}
	findStatement(t, statements, "UPDATE `batches` SET `grouping_completed`")
}

func TestBatchLoadError_MapsMissingBatch(t *testing.T) {
	id := uuid.New()
	err := batchLoadError(id, gorm.ErrRecordNotFound)
	if !errors.Is(err, ErrUnknownBatch) || IsRetryable(err) {
		t.Fatalf("missing batch should be terminal ErrUnknownBatch, got %v", err)
	}

	err = batchLoadError(id, ErrBatchBusy)
	if errors.Is(err, ErrUnknownBatch) || !IsRetryable(err) {
		t.Fatalf("other load failures stay retryable, got %v", err)
	}
	if batchLoadError(id, nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}
