package redis

import (
	"context"
	"encoding/json"
	"time"
)

// CachedResult is the dedup fast path: once a request hash has succeeded, a
// repeat submission inside the TTL resolves without touching the job store.
type CachedResult struct {
	JobID     string `json:"jobId"`
	OutputRef string `json:"outputRef"`
}

type ResultCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewResultCache(client RedisClient, ttl time.Duration) *ResultCache {
	return &ResultCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *ResultCache) Store(ctx context.Context, requestHash string, res CachedResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, resultKey(requestHash), data, c.ttl)
}

// Get returns nil, nil on a miss.
func (c *ResultCache) Get(ctx context.Context, requestHash string) (*CachedResult, error) {
	data, err := c.client.Get(ctx, resultKey(requestHash))
	if err != nil {
		if IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	var res CachedResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Invalidate drops the cached result, used when a failed job is revived.
func (c *ResultCache) Invalidate(ctx context.Context, requestHash string) error {
	return c.client.Del(ctx, resultKey(requestHash))
}

func resultKey(hash string) string { return "genresult:" + hash }
