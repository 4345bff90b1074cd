package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long a resolved location is reused for an IP.
const DefaultCacheTTL = 24 * time.Hour

// cacheKeyPrefix namespaces location entries in Redis.
const cacheKeyPrefix = "geo:ip:"

// Cache stores resolved locations by IP. Implementations must treat every
// failure as a miss; the locator never fails because of its cache.
type Cache interface {
	Get(ctx context.Context, ip string) (*Location, error)
	Set(ctx context.Context, loc *Location) error
}

// ErrCacheMiss is returned by Cache.Get when no entry exists.
var ErrCacheMiss = errors.New("geolocation cache miss")

// RedisCache stores CBOR-encoded locations in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed location cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached location for ip, or ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, ip string) (*Location, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read location cache: %w", err)
	}

	var loc Location
	if err := cbor.Unmarshal(data, &loc); err != nil {
		return nil, fmt.Errorf("failed to decode cached location: %w", err)
	}
	return &loc, nil
}

// Set stores loc under its IP.
func (c *RedisCache) Set(ctx context.Context, loc *Location) error {
	data, err := cbor.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to encode location: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+loc.IP, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write location cache: %w", err)
	}
	return nil
}
