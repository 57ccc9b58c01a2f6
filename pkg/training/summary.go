package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/voiceforge-ai/platform/pkg/common/models"
)

// SummaryCache keeps compact run snapshots in Redis so dashboard polling
// does not hit Postgres for every finished run.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SummaryCache{client: client, ttl: ttl}
}

func summaryKey(runID uuid.UUID) string {
	return fmt.Sprintf("training:run:%s:summary", runID)
}

func (c *SummaryCache) Put(ctx context.Context, summary models.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey(summary.RunID), payload, c.ttl).Err()
}

// Get returns the cached summary, or nil on a cache miss.
func (c *SummaryCache) Get(ctx context.Context, runID uuid.UUID) (*models.RunSummary, error) {
	payload, err := c.client.Get(ctx, summaryKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary models.RunSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
