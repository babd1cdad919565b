package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// StatsCache implements ports.StatsCache using Redis. It holds marshaled
// per-endpoint dashboard overviews for a short TTL; delivery executors
// invalidate entries after every attempt.
type StatsCache struct {
	client *goredis.Client
	prefix string
}

// NewStatsCache creates a new Redis-backed stats cache.
func NewStatsCache(client *goredis.Client) *StatsCache {
	return &StatsCache{
		client: client,
		prefix: "endpoint_stats:",
	}
}

// Get retrieves a cached overview. Returns nil, nil on miss.
func (c *StatsCache) Get(ctx context.Context, endpointID uuid.UUID) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+endpointID.String()).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis stats get: %w", err)
	}
	return val, nil
}

// Set stores an overview with TTL.
func (c *StatsCache) Set(ctx context.Context, endpointID uuid.UUID, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+endpointID.String(), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis stats set: %w", err)
	}
	return nil
}

// Invalidate drops the cached overview for an endpoint.
func (c *StatsCache) Invalidate(ctx context.Context, endpointID uuid.UUID) error {
	if err := c.client.Del(ctx, c.prefix+endpointID.String()).Err(); err != nil {
		return fmt.Errorf("redis stats invalidate: %w", err)
	}
	return nil
}
