package crm

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const nameCacheTTL = 7 * 24 * time.Hour

// NameCache remembers the last display name resolved for a phone so identity
// resolution can degrade gracefully when the live CRM lookup is unavailable.
type NameCache struct {
	redis *redis.Client
}

// NewNameCache creates a Redis-backed display-name cache.
func NewNameCache(client *redis.Client) *NameCache {
	if client == nil {
		panic("crm: redis client cannot be nil")
	}
	return &NameCache{redis: client}
}

// Remember stores the display name for a phone.
func (c *NameCache) Remember(ctx context.Context, phone, name string) error {
	if name == "" {
		return nil
	}
	key := nameCacheKey(NormalizePhone(phone))
	if err := c.redis.Set(ctx, key, name, nameCacheTTL).Err(); err != nil {
		return fmt.Errorf("crm: failed to cache display name: %w", err)
	}
	return nil
}

// Lookup returns the cached display name for a phone, or "" when absent.
func (c *NameCache) Lookup(ctx context.Context, phone string) string {
	name, err := c.redis.Get(ctx, nameCacheKey(NormalizePhone(phone))).Result()
	if err != nil {
		return ""
	}
	return name
}

func nameCacheKey(digits string) string {
	return fmt.Sprintf("crm:name:%s", digits)
}
