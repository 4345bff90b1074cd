package middleware

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces rate limit counters in Redis.
const redisKeyPrefix = "ratelimit:"

// RedisRateLimitStore implements RateLimitStore with a shared fixed window
// counter in Redis, so limits hold across API replicas.
// Redis failures fail open: the request is allowed with the full quota.
type RedisRateLimitStore struct {
	client  *redis.Client
	metrics *Metrics
	logger  *slog.Logger
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, logger: slog.Default()}
}

// WithMetrics attaches metrics for counting fail-open events.
func (s *RedisRateLimitStore) WithMetrics(m *Metrics) *RedisRateLimitStore {
	s.metrics = m
	return s
}

// WithLogger sets the logger used for Redis errors.
func (s *RedisRateLimitStore) WithLogger(l *slog.Logger) *RedisRateLimitStore {
	if l != nil {
		s.logger = l
	}
	return s
}

// Allow implements RateLimitStore.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	redisKey := redisKeyPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return s.failOpen(key, config, err)
	}

	count := int(incr.Val())
	window := ttl.Val()
	if window < 0 {
		// First hit in this window, or a counter that lost its expiry.
		if err := s.client.PExpire(ctx, redisKey, config.WindowDuration).Err(); err != nil {
			return s.failOpen(key, config, err)
		}
		window = config.WindowDuration
	}

	if count > config.RequestsPerWindow {
		return false, 0, retryAfterSeconds(window)
	}
	return true, config.RequestsPerWindow - count, 0
}

func (s *RedisRateLimitStore) failOpen(key string, config RateLimitConfig, err error) (bool, int, int) {
	s.metrics.IncRateLimitRedisErrors()
	s.logger.Warn("rate limit store unavailable, allowing request",
		slog.String("key", key),
		slog.String("error", err.Error()))
	return true, config.RequestsPerWindow, 0
}
