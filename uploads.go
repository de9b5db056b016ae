package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/models"
	"github.com/mmdatafocus/goods_grouper/utils"
	"github.com/sirupsen/logrus"
)

const maxUploadSizeBytes int64 = 10 * 1024 * 1024

type uploadResponse struct {
	BatchId         uuid.UUID `json:"batchId"`
	FileName        string    `json:"fileName"`
	ItemsCount      int       `json:"itemsCount"`
	SourceObjectKey string    `json:"sourceObjectKey,omitempty"`
	MessageId       string    `json:"messageId,omitempty"`
	Triggered       bool      `json:"triggered"`
}

// uploadDeps are the side effects of an upload, swappable in tests.
type uploadDeps struct {
	CreateBatch func(ctx context.Context, batch *models.Batch, units []models.InventoryUnit) error
	// Archive stores the raw workbook; nil disables archiving.
	Archive func(ctx context.Context, objectKey string, data []byte, metadata map[string]string) error
	// SetSourceKey records where the workbook was archived.
	SetSourceKey func(ctx context.Context, batchId uuid.UUID, objectKey string) error
	Publish      func(ctx context.Context, batchId uuid.UUID) (string, error)
}

func defaultUploadDeps() uploadDeps {
	deps := uploadDeps{
		CreateBatch: func(ctx context.Context, batch *models.Batch, units []models.InventoryUnit) error {
			return models.CreateBatchWithUnits(ctx, config.GetDB(), batch, units)
		},
		SetSourceKey: func(ctx context.Context, batchId uuid.UUID, objectKey string) error {
			return config.GetDB().WithContext(ctx).Model(&models.Batch{}).
				Where("id = ?", batchId).
				Update("source_object_key", objectKey).Error
		},
		Publish: config.PublishStartGrouping,
	}
	if utils.GetStorageProvider() == utils.StorageProviderGCS {
		deps.Archive = func(ctx context.Context, objectKey string, data []byte, metadata map[string]string) error {
			return utils.UploadFileToGCS(ctx, objectKey, utils.XLSXContentType, data, metadata)
		}
	}
	return deps
}

// uploadInventoryHandler accepts a multipart "file" workbook, stores it as a new
// batch and triggers grouping. Archive and publish failures do not fail the
// upload: the batch is already stored and the reconciliation scan will group it.
func uploadInventoryHandler(deps uploadDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		requestID := requestIDFromHeaders(c)
		ctx := c.Request.Context()

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fileHeader.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 10MB limit"})
			return
		}
		if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".xlsx") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only .xlsx workbooks are supported"})
			return
		}

		f, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read file"})
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxUploadSizeBytes+1))
		_ = f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read file"})
			return
		}

		rows, err := utils.ParseInventorySheet(bytes.NewReader(data))
		if err != nil {
			var rowErr *utils.SheetRowError
			if errors.As(err, &rowErr) {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":  rowErr.Err.Error(),
					"row":    rowErr.Row,
					"column": rowErr.Column,
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		batch := &models.Batch{FileName: path.Base(fileHeader.Filename)}
		units := make([]models.InventoryUnit, 0, len(rows))
		for _, r := range rows {
			units = append(units, models.InventoryUnit{
				Name:          r.Name,
				Unit:          r.Unit,
				UnitPrice:     r.UnitPrice,
				QuantityTotal: r.Quantity,
			})
		}
		if err := deps.CreateBatch(ctx, batch, units); err != nil {
			logUploadError(logger, err, "database", requestID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to store batch"})
			return
		}

		resp := uploadResponse{
			BatchId:    batch.ID,
			FileName:   batch.FileName,
			ItemsCount: len(units),
		}
		entry := logger.WithFields(logrus.Fields{
			"field":      "uploadInventoryHandler",
			"batch_id":   batch.ID.String(),
			"request_id": requestID,
		})

		if deps.Archive != nil {
			objectKey := uploadObjectKey(batch.ID, batch.FileName)
			err := deps.Archive(ctx, objectKey, data, map[string]string{
				"batch_id":    batch.ID.String(),
				"items_count": fmt.Sprint(len(units)),
			})
			if err == nil && deps.SetSourceKey != nil {
				err = deps.SetSourceKey(ctx, batch.ID, objectKey)
			}
			if err != nil {
				logUploadError(logger, err, utils.GetStorageProvider(), requestID)
			} else {
				resp.SourceObjectKey = objectKey
			}
		}

		if deps.Publish != nil {
			messageId, err := deps.Publish(ctx, batch.ID)
			if err != nil {
				entry.Warn("grouping trigger not published; the reconciliation scan will pick the batch up: " + err.Error())
			} else {
				resp.MessageId = messageId
				resp.Triggered = true
			}
		}

		entry.WithFields(logrus.Fields{
			"items_count": len(units),
			"triggered":   resp.Triggered,
		}).Info("inventory batch uploaded")
		c.JSON(http.StatusCreated, resp)
	}
}

func uploadObjectKey(batchId uuid.UUID, fileName string) string {
	base := strings.TrimSuffix(strings.ToLower(fileName), filepath.Ext(fileName))
	base = sanitizeSegment(strings.ReplaceAll(base, " ", "_"))
	if base == "" {
		base = "inventory"
	}
	return path.Join("uploads", time.Now().UTC().Format("2006/01/02"), batchId.String(), base+".xlsx")
}

func sanitizeSegment(input string) string {
	var out strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func logUploadError(logger *logrus.Logger, err error, provider string, requestID string) {
	logger.WithFields(logrus.Fields{
		"error":      err.Error(),
		"provider":   provider,
		"request_id": requestID,
	}).Error("[upload.error]")
}

func requestIDFromHeaders(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader("X-Correlation-Id")); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader("X-Request-Id")); id != "" {
		return id
	}
	return fmt.Sprintf("upload-%d", time.Now().UnixNano())
}
