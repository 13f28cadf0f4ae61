package tenancy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const tenantKeyPrefix = "tenant:profile:"

// RedisCache caches resolved tenants, catalog included, as JSON.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache builds a tenant cache with the given TTL.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

var _ Cache = (*RedisCache)(nil)

func tenantCacheKey(tenantID string) string {
	return tenantKeyPrefix + tenantID
}

// Get returns the cached tenant or nil on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	data, err := c.rdb.Get(ctx, tenantCacheKey(tenantID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("tenancy: cache get: %w", err)
	}
	var t Tenant
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("tenancy: cache unmarshal: %w", err)
	}
	return &t, nil
}

// Set stores tenant under its own id.
func (c *RedisCache) Set(ctx context.Context, tenant *Tenant) error {
	if tenant == nil || tenant.ID == "" {
		return fmt.Errorf("tenancy: cache set: tenant id required")
	}
	data, err := json.Marshal(tenant)
	if err != nil {
		return fmt.Errorf("tenancy: cache marshal: %w", err)
	}
	return c.rdb.Set(ctx, tenantCacheKey(tenant.ID), data, c.ttl).Err()
}
