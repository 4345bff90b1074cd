package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/redis/go-redis/v9"
)

// liveRedis connects to REDIS_URL (default localhost:6379) and skips the
// test when nothing answers.
func liveRedis(t *testing.T) *redis.Client {
	t.Helper()
	opts := &redis.Options{Addr: "localhost:6379"}
	if url := os.Getenv("REDIS_URL"); url != "" {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			t.Fatalf("invalid REDIS_URL: %v", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available, skipping")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func uniqueKey(prefix string) string {
	return prefix + strconv.FormatInt(time.Now().UnixNano(), 10)
}

func TestRedisRateLimitStore_Allow(t *testing.T) {
	client := liveRedis(t)
	store := NewRedisRateLimitStore(client)
	cfg := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	key := uniqueKey("playback:ip:")
	ctx := context.Background()
	t.Cleanup(func() { client.Del(ctx, redisKeyPrefix+key) })

	for i := range 3 {
		allowed, remaining, _ := store.Allow(ctx, key, cfg)
		if !allowed {
			t.Fatalf("request %d blocked, want allowed", i+1)
		}
		if want := 2 - i; remaining != want {
			t.Errorf("request %d: remaining = %d, want %d", i+1, remaining, want)
		}
	}

	allowed, remaining, retryAfter := store.Allow(ctx, key, cfg)
	if allowed {
		t.Error("request over the limit allowed")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d when blocked, want 0", remaining)
	}
	if retryAfter < 1 || retryAfter > 60 {
		t.Errorf("retryAfter = %d, want 1..60", retryAfter)
	}
}

func TestRedisRateLimitStore_KeysAreIndependent(t *testing.T) {
	client := liveRedis(t)
	store := NewRedisRateLimitStore(client)
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	ctx := context.Background()
	ip := uniqueKey("playback:ip:")
	actor := uniqueKey("analytics:actor:")
	t.Cleanup(func() { client.Del(ctx, redisKeyPrefix+ip, redisKeyPrefix+actor) })

	for _, key := range []string{ip, actor} {
		if allowed, _, _ := store.Allow(ctx, key, cfg); !allowed {
			t.Errorf("%s: first request blocked", key)
		}
	}
	for _, key := range []string{ip, actor} {
		if allowed, _, _ := store.Allow(ctx, key, cfg); allowed {
			t.Errorf("%s: second request allowed", key)
		}
	}
}

func TestRedisRateLimitStore_WindowExpiry(t *testing.T) {
	client := liveRedis(t)
	store := NewRedisRateLimitStore(client)
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 100 * time.Millisecond}
	key := uniqueKey("analytics:actor:")
	ctx := context.Background()
	t.Cleanup(func() { client.Del(ctx, redisKeyPrefix+key) })

	store.Allow(ctx, key, cfg)
	if allowed, _, _ := store.Allow(ctx, key, cfg); allowed {
		t.Fatal("second request inside the window allowed")
	}
	time.Sleep(150 * time.Millisecond)
	if allowed, _, _ := store.Allow(ctx, key, cfg); !allowed {
		t.Error("request after the window blocked")
	}
}

func TestRedisRateLimitStore_FailOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	var buf bytes.Buffer
	metrics := NewMetrics()
	store := NewRedisRateLimitStore(client).
		WithMetrics(metrics).
		WithLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	cfg := RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}

	allowed, remaining, _ := store.Allow(context.Background(), "playback:ip:203.0.113.7", cfg)
	if !allowed {
		t.Error("request blocked while Redis is down, want fail open")
	}
	if remaining != cfg.RequestsPerWindow {
		t.Errorf("remaining = %d, want full quota %d", remaining, cfg.RequestsPerWindow)
	}

	m := &dto.Metric{}
	if err := metrics.rateLimitRedisErrors.Write(m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("redis error counter = %v, want 1", got)
	}
	if !strings.Contains(buf.String(), "rate limit store unavailable") {
		t.Errorf("expected fail-open warning in log, got %q", buf.String())
	}
}
