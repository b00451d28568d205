package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "leadengine:market:snapshot"

// Cache holds the latest quote snapshot for a short TTL.
type Cache interface {
	Get(ctx context.Context) (map[string]Quote, bool, error)
	Set(ctx context.Context, quotes map[string]Quote, ttl time.Duration) error
}

type memoryCache struct {
	mu        sync.RWMutex
	quotes    map[string]Quote
	expiresAt time.Time
	now       func() time.Time
}

// NewMemoryCache returns a process-local cache.
func NewMemoryCache(now func() time.Time) Cache {
	if now == nil {
		now = time.Now
	}
	return &memoryCache{now: now}
}

func (c *memoryCache) Get(context.Context) (map[string]Quote, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.quotes == nil || !c.now().Before(c.expiresAt) {
		return nil, false, nil
	}
	return maps.Clone(c.quotes), true, nil
}

func (c *memoryCache) Set(_ context.Context, quotes map[string]Quote, ttl time.Duration) error {
	c.mu.Lock()
	c.quotes = maps.Clone(quotes)
	c.expiresAt = c.now().Add(ttl)
	c.mu.Unlock()
	return nil
}

type redisCache struct {
	rdb *redis.Client
}

// NewRedisCache shares the snapshot between restarts and processes.
func NewRedisCache(rdb *redis.Client) Cache {
	return &redisCache{rdb: rdb}
}

// DialRedis parses a redis:// URL into a client.
func DialRedis(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse market redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func (c *redisCache) Get(ctx context.Context) (map[string]Quote, bool, error) {
	raw, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read market snapshot: %w", err)
	}
	var quotes map[string]Quote
	if err := json.Unmarshal(raw, &quotes); err != nil {
		return nil, false, fmt.Errorf("decode market snapshot: %w", err)
	}
	return quotes, true, nil
}

func (c *redisCache) Set(ctx context.Context, quotes map[string]Quote, ttl time.Duration) error {
	raw, err := json.Marshal(quotes)
	if err != nil {
		return fmt.Errorf("encode market snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("write market snapshot: %w", err)
	}
	return nil
}
