package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	domain "github.com/example/soundline/domain/chat"
	"github.com/redis/go-redis/v9"
)

// HistoryCache is a cache-aside layer over conversation reads.
// Keys are history:{min}:{max}:{limit} so both directions of a pair share entries.
type HistoryCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

// CacheStats is a snapshot of the cache counters.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// NewHistoryCache creates a cache over an existing redis client.
func NewHistoryCache(client *redis.Client, prefix string, ttl time.Duration) *HistoryCache {
	return &HistoryCache{client: client, prefix: prefix, ttl: ttl}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "history:" + a + ":" + b
}

func (c *HistoryCache) key(a, b string, limit int) string {
	return fmt.Sprintf("%s%s:%d", c.prefix, pairKey(a, b), limit)
}

// Get returns the cached conversation, reporting whether it was a hit.
func (c *HistoryCache) Get(ctx context.Context, a, b string, limit int) ([]domain.Message, bool, error) {
	data, err := c.client.Get(ctx, c.key(a, b, limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, false, nil
		}
		c.errors.Add(1)
		return nil, false, fmt.Errorf("cache get error: %w", err)
	}

	var messages []domain.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		c.errors.Add(1)
		return nil, false, fmt.Errorf("cache unmarshal error: %w", err)
	}
	c.hits.Add(1)
	return messages, true, nil
}

// Set stores a conversation page with the configured TTL.
func (c *HistoryCache) Set(ctx context.Context, a, b string, limit int, messages []domain.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		c.errors.Add(1)
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.client.Set(ctx, c.key(a, b, limit), data, c.ttl).Err(); err != nil {
		c.errors.Add(1)
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

// InvalidatePair drops every cached page of the a/b conversation.
func (c *HistoryCache) InvalidatePair(ctx context.Context, a, b string) error {
	pattern := c.prefix + pairKey(a, b) + ":*"

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.errors.Add(1)
			return fmt.Errorf("cache scan error: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.errors.Add(1)
				return fmt.Errorf("cache delete error: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats returns the current counters.
func (c *HistoryCache) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return CacheStats{Hits: hits, Misses: misses, Errors: c.errors.Load(), HitRate: rate}
}

// Ping checks the redis connection.
func (c *HistoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (c *HistoryCache) Close() error {
	return c.client.Close()
}
