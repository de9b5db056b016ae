package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/config"
	"github.com/mmdatafocus/goods_grouper/models"
	"github.com/mmdatafocus/goods_grouper/utils"
	"github.com/mmdatafocus/goods_grouper/workflow"
	"github.com/sirupsen/logrus"
)

// groupQueries are the read paths behind the query endpoints.
type groupQueries struct {
	ListGroups   func(ctx context.Context, batchId *uuid.UUID) ([]models.Group, error)
	ListLines    func(ctx context.Context, groupId uuid.UUID) ([]models.GroupLineView, error)
	BatchSummary func(ctx context.Context, batchId uuid.UUID) (*models.BatchSummary, error)
	// Cache holds group listings; a zero value disables caching.
	Cache listingCache
}

type listingCache struct {
	Generation func(ctx context.Context) (int64, error)
	Get        func(ctx context.Context, key string, dest interface{}) (bool, error)
	Set        func(ctx context.Context, key string, obj interface{}, exp time.Duration) error
}

func (c listingCache) enabled() bool {
	return c.Generation != nil && c.Get != nil && c.Set != nil
}

func defaultGroupQueries() groupQueries {
	return groupQueries{
		ListGroups:   models.ListGroups,
		ListLines:    models.ListGroupLines,
		BatchSummary: models.GetBatchSummary,
		Cache: listingCache{
			Generation: workflow.GroupsCacheGeneration,
			Get:        config.GetRedisObject,
			Set:        config.SetRedisObject,
		},
	}
}

// listGroupsHandler serves GET /api/groups[?batchId=]. Listings are cached in
// Redis until the next run that creates groups.
func listGroupsHandler(q groupQueries) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		ctx := c.Request.Context()

		var batchId *uuid.UUID
		if raw := strings.TrimSpace(c.Query("batchId")); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batchId"})
				return
			}
			batchId = &id
		}

		// The generation is read before the listing so a run committing in
		// between retires whatever this request stores.
		cacheable := q.Cache.enabled()
		var key string
		if cacheable {
			generation, err := q.Cache.Generation(ctx)
			if err != nil {
				config.LogError(logger, "groupHandlers.go", "listGroupsHandler", "Generation", nil, err)
				cacheable = false
			}
			key = workflow.GroupsCacheKey(batchId, generation)
		}

		var groups []models.Group
		if cacheable {
			found, err := q.Cache.Get(ctx, key, &groups)
			if err != nil {
				config.LogError(logger, "groupHandlers.go", "listGroupsHandler", "Get", key, err)
			}
			if found {
				c.JSON(http.StatusOK, groups)
				return
			}
		}

		groups, err := q.ListGroups(ctx, batchId)
		if err != nil {
			config.LogError(logger, "groupHandlers.go", "listGroupsHandler", "ListGroups", key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to list groups"})
			return
		}
		if groups == nil {
			groups = []models.Group{}
		}
		if cacheable {
			if err := q.Cache.Set(ctx, key, groups, config.GroupsCacheTTL()); err != nil {
				logger.WithFields(logrus.Fields{"field": "listGroupsHandler", "key": key}).
					Warn("cache groups: " + err.Error())
			}
		}
		c.JSON(http.StatusOK, groups)
	}
}

// listGroupItemsHandler serves GET /api/groups/:id/items.
func listGroupItemsHandler(q groupQueries) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
			return
		}
		lines, err := q.ListLines(c.Request.Context(), id)
		if err != nil {
			config.LogError(config.GetLogger(), "groupHandlers.go", "listGroupItemsHandler", "ListLines", id.String(), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to list group items"})
			return
		}
		if lines == nil {
			lines = []models.GroupLineView{}
		}
		c.JSON(http.StatusOK, lines)
	}
}

// getBatchHandler serves GET /api/batches/:id.
func getBatchHandler(q groupQueries) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
			return
		}
		summary, err := q.BatchSummary(c.Request.Context(), id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "groupHandlers.go", "getBatchHandler", "BatchSummary", id.String(), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to load batch"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
