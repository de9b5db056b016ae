package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/models"
	"github.com/mmdatafocus/goods_grouper/utils"
	"github.com/mmdatafocus/goods_grouper/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/xuri/excelize/v2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func workbookBytes(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func multipartUpload(t *testing.T, fileName string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadInventoryHandler_StoresBatchAndTriggers(t *testing.T) {
	var stored []models.InventoryUnit
	var archivedKey string
	var published uuid.UUID
	deps := uploadDeps{
		CreateBatch: func(ctx context.Context, batch *models.Batch, units []models.InventoryUnit) error {
			batch.ID = uuid.New()
			stored = units
			return nil
		},
		Archive: func(ctx context.Context, objectKey string, data []byte, metadata map[string]string) error {
			archivedKey = objectKey
			return nil
		},
		SetSourceKey: func(ctx context.Context, batchId uuid.UUID, objectKey string) error { return nil },
		Publish: func(ctx context.Context, batchId uuid.UUID) (string, error) {
			published = batchId
			return "msg-1", nil
		},
	}
	r := gin.New()
	r.POST("/api/upload", uploadInventoryHandler(deps))

	data := workbookBytes(t, [][]interface{}{
		{"Name", "Unit", "Unit price", "Quantity"},
		{"A", "pcs", 120, 1},
		{"B", "box", "90.50", 3},
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "Stock Take.xlsx", data))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp uploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ItemsCount != 2 || !resp.Triggered || resp.MessageId != "msg-1" || published != resp.BatchId {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.SourceObjectKey == "" || resp.SourceObjectKey != archivedKey {
		t.Fatalf("expected archived key in response, got %q vs %q", resp.SourceObjectKey, archivedKey)
	}
	if len(stored) != 2 || stored[1].QuantityTotal != 3 || !stored[1].UnitPrice.Equal(decimal.RequireFromString("90.5")) {
		t.Fatalf("unexpected stored units %+v", stored)
	}
}

func TestUploadInventoryHandler_PublishFailureStillCreates(t *testing.T) {
	deps := uploadDeps{
		CreateBatch: func(ctx context.Context, batch *models.Batch, units []models.InventoryUnit) error {
			batch.ID = uuid.New()
			return nil
		},
		Publish: func(ctx context.Context, batchId uuid.UUID) (string, error) {
			return "", errors.New("pubsub unavailable")
		},
	}
	r := gin.New()
	r.POST("/api/upload", uploadInventoryHandler(deps))

	data := workbookBytes(t, [][]interface{}{{"Name", "Unit", "Price", "Qty"}, {"A", "pcs", 10, 1}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "a.xlsx", data))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	var resp uploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Triggered {
		t.Fatalf("trigger should be reported as not sent")
	}
}

func TestUploadInventoryHandler_RejectsBadInput(t *testing.T) {
	created := false
	deps := uploadDeps{
		CreateBatch: func(ctx context.Context, batch *models.Batch, units []models.InventoryUnit) error {
			created = true
			return nil
		},
	}
	r := gin.New()
	r.POST("/api/upload", uploadInventoryHandler(deps))

	cases := []struct {
		name string
		file string
		data []byte
	}{
		{"wrong extension", "stock.csv", []byte("a,b,c")},
		{"not a workbook", "stock.xlsx", []byte("plain text")},
		{"negative price", "stock.xlsx", workbookBytes(t, [][]interface{}{{"Name", "Unit", "Price", "Qty"}, {"A", "pcs", -1, 1}})},
		{"header only", "stock.xlsx", workbookBytes(t, [][]interface{}{{"Name", "Unit", "Price", "Qty"}})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, multipartUpload(t, tc.file, tc.data))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
	if created {
		t.Fatalf("no batch should be created for bad input")
	}
}

func TestGroupHandlers(t *testing.T) {
	batch := uuid.New()
	group := models.Group{ID: uuid.New(), BatchId: batch, Number: 1, Title: "Group 1", TotalPrice: decimal.NewFromInt(170)}
	var gotBatch *uuid.UUID
	q := groupQueries{
		ListGroups: func(ctx context.Context, batchId *uuid.UUID) ([]models.Group, error) {
			gotBatch = batchId
			return []models.Group{group}, nil
		},
		ListLines: func(ctx context.Context, groupId uuid.UUID) ([]models.GroupLineView, error) {
			return []models.GroupLineView{{
				ProductName: "A", Unit: "pcs", UnitPrice: decimal.NewFromInt(120), Quantity: 1, Subtotal: decimal.NewFromInt(120),
			}}, nil
		},
		BatchSummary: func(ctx context.Context, batchId uuid.UUID) (*models.BatchSummary, error) {
			if batchId != batch {
				return nil, utils.ErrorRecordNotFound
			}
			return &models.BatchSummary{Batch: models.Batch{ID: batch, GroupingCompleted: true}, GroupCount: 1}, nil
		},
	}
	r := gin.New()
	r.GET("/api/groups", listGroupsHandler(q))
	r.GET("/api/groups/:id/items", listGroupItemsHandler(q))
	r.GET("/api/batches/:id", getBatchHandler(q))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/groups?batchId="+batch.String(), nil))
	if w.Code != http.StatusOK || gotBatch == nil || *gotBatch != batch {
		t.Fatalf("groups: code=%d batch=%v", w.Code, gotBatch)
	}
	var groups []models.Group
	if err := json.Unmarshal(w.Body.Bytes(), &groups); err != nil || len(groups) != 1 || groups[0].Title != "Group 1" {
		t.Fatalf("unexpected groups body %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/groups?batchId=nope", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad batchId, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/groups/"+group.ID.String()+"/items", nil))
	var lines []models.GroupLineView
	if err := json.Unmarshal(w.Body.Bytes(), &lines); err != nil || len(lines) != 1 || !lines[0].Subtotal.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("unexpected items body %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/batches/"+uuid.NewString(), nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown batch, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/batches/"+batch.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for batch, got %d", w.Code)
	}
}

// memoryListingCache stands in for Redis: JSON values under keys plus a generation counter.
type memoryListingCache struct {
	mu         sync.Mutex
	generation int64
	values     map[string][]byte
}

func (m *memoryListingCache) cache() listingCache {
	return listingCache{
		Generation: func(ctx context.Context) (int64, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.generation, nil
		},
		Get: func(ctx context.Context, key string, dest interface{}) (bool, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			b, ok := m.values[key]
			if !ok {
				return false, nil
			}
			return true, json.Unmarshal(b, dest)
		},
		Set: func(ctx context.Context, key string, obj interface{}, exp time.Duration) error {
			b, err := json.Marshal(obj)
			if err != nil {
				return err
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.values == nil {
				m.values = map[string][]byte{}
			}
			m.values[key] = b
			return nil
		},
	}
}

func (m *memoryListingCache) invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
}

func TestListGroupsHandler_RunCommittingMidRequestIsNotCached(t *testing.T) {
	cache := &memoryListingCache{}
	stale := models.Group{ID: uuid.New(), Number: 1, Title: "Group 1", TotalPrice: decimal.NewFromInt(170)}
	fresh := models.Group{ID: uuid.New(), Number: 2, Title: "Group 2", TotalPrice: decimal.NewFromInt(140)}

	calls := 0
	q := groupQueries{
		ListGroups: func(ctx context.Context, batchId *uuid.UUID) ([]models.Group, error) {
			calls++
			if calls == 1 {
				// A run commits and invalidates after this listing was read.
				cache.invalidate()
				return []models.Group{stale}, nil
			}
			return []models.Group{stale, fresh}, nil
		},
		Cache: cache.cache(),
	}
	r := gin.New()
	r.GET("/api/groups", listGroupsHandler(q))

	get := func() []models.Group {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/groups", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var groups []models.Group
		if err := json.Unmarshal(w.Body.Bytes(), &groups); err != nil {
			t.Fatalf("decode groups: %v", err)
		}
		return groups
	}

	if got := get(); len(got) != 1 {
		t.Fatalf("first request: expected 1 group, got %d", len(got))
	}
	if got := get(); len(got) != 2 {
		t.Fatalf("second request served the pre-commit listing: %d group(s)", len(got))
	}
	if got := get(); len(got) != 2 || calls != 2 {
		t.Fatalf("third request should hit the cache: groups=%d calls=%d", len(got), calls)
	}
}

type fixedRunner struct{ err error }

func (f fixedRunner) RunGrouping(ctx context.Context, batchId uuid.UUID) (*workflow.RunResult, error) {
	return &workflow.RunResult{BatchId: batchId}, f.err
}

func pushBody(data []byte) *bytes.Reader {
	return bytes.NewReader([]byte(fmt.Sprintf(
		`{"message":{"data":%q,"messageId":"42"},"subscription":"projects/p/subscriptions/s"}`,
		base64.StdEncoding.EncodeToString(data),
	)))
}

func TestGroupingPushHandler_MapsOutcomesToStatus(t *testing.T) {
	logger, _ := test.NewNullLogger()
	batch := uuid.New()
	valid := []byte(fmt.Sprintf(`{"batchId":%q}`, batch))

	cases := []struct {
		name   string
		runErr error
		data   []byte
		status int
	}{
		{"success acks", nil, valid, http.StatusNoContent},
		{"malformed acks", nil, []byte("{"), http.StatusNoContent},
		{"stall acks", &workflow.StallError{BatchId: batch}, valid, http.StatusNoContent},
		{"busy retries", workflow.ErrBatchBusy, valid, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			consumer := &workflow.GroupingConsumer{Runner: fixedRunner{err: tc.runErr}, Logger: logger, MaxAttempts: 10}
			r := gin.New()
			r.POST("/pubsub/grouping", groupingPushHandler(func() *workflow.GroupingConsumer { return consumer }))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/grouping", pushBody(tc.data)))
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
		})
	}

	r := gin.New()
	r.POST("/pubsub/grouping", groupingPushHandler(func() *workflow.GroupingConsumer { return nil }))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/grouping", pushBody(valid)))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the stack is ready, got %d", w.Code)
	}
}
