package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mmdatafocus/goods_grouper/config"
)

// groupsGenerationKey is bumped after every commit that creates groups. Listing
// keys embed the generation they were read under, so a listing loaded before a
// commit but stored after it lands under a key nobody reads again.
const groupsGenerationKey = "groups:generation"

// GroupsCacheKey is where GET /api/groups responses are cached; nil means all batches.
func GroupsCacheKey(batchId *uuid.UUID, generation int64) string {
	if batchId == nil {
		return fmt.Sprintf("groups:latest:%d", generation)
	}
	return fmt.Sprintf("groups:batch:%s:%d", batchId, generation)
}

// GroupsCacheGeneration must be read before loading a listing to cache.
func GroupsCacheGeneration(ctx context.Context) (int64, error) {
	return config.GetRedisCounter(ctx, groupsGenerationKey)
}

type GroupCache interface {
	InvalidateGroups(ctx context.Context, batchId uuid.UUID) error
}

// RedisGroupCache retires cached group listings; a no-op while Redis is not connected.
type RedisGroupCache struct{}

func (RedisGroupCache) InvalidateGroups(ctx context.Context, batchId uuid.UUID) error {
	generation, err := config.IncrRedisCounter(ctx, groupsGenerationKey)
	if err != nil {
		return err
	}
	// Keys of other batches under the old generation expire with their TTL.
	return config.RemoveRedisKey(ctx,
		GroupsCacheKey(nil, generation-1),
		GroupsCacheKey(&batchId, generation-1),
	)
}
