package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache caches derived states under a short TTL. Because every
// cached value is reconstructible by replay, expiry is the only
// consistency mechanism required; writers may additionally Invalidate.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(assetID string) string {
	return "provenance:derived:" + assetID
}

func (c *RedisCache) Get(ctx context.Context, assetID string) (*DerivedState, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(assetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("verification: cache get: %w", err)
	}
	var state DerivedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("verification: corrupt cache entry: %w", err)
	}
	return &state, true, nil
}

func (c *RedisCache) Set(ctx context.Context, state DerivedState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("verification: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(state.AssetID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("verification: cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, assetID string) error {
	if err := c.client.Del(ctx, cacheKey(assetID)).Err(); err != nil {
		return fmt.Errorf("verification: cache invalidate: %w", err)
	}
	return nil
}
