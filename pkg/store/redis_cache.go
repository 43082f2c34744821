package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSummaryCache keeps short-TTL decision summaries in Redis for
// downstream readers. Best-effort only: callers swallow its errors.
type RedisSummaryCache struct {
	client *redis.Client
	prefix string
}

// NewRedisSummaryCache wraps an existing client.
func NewRedisSummaryCache(client *redis.Client) *RedisSummaryCache {
	return &RedisSummaryCache{client: client, prefix: "decision:summary:"}
}

// PutSummary implements SummaryCache (SETEX semantics).
func (c *RedisSummaryCache) PutSummary(ctx context.Context, decisionID string, summary []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+decisionID, summary, ttl).Err()
}

// GetSummary implements SummaryCache. A miss returns ErrNotFound.
func (c *RedisSummaryCache) GetSummary(ctx context.Context, decisionID string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+decisionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}
