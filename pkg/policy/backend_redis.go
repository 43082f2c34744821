package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend resolves policies from a shared Redis cache, keyed
// "policy:<name>" with JSON object values. It sits behind the remote
// backend in the chain so a degraded policy service can still serve
// recently distributed policies.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "policy:"}
}

// Name implements Backend.
func (b *RedisBackend) Name() string { return "redis" }

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, name string, _ map[string]any) (map[string]any, error) {
	val, err := b.client.Get(ctx, b.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(val, &out); err != nil {
		return nil, fmt.Errorf("corrupt policy JSON for %q: %w", name, err)
	}
	return out, nil
}
