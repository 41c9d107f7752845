// Package cache is a Redis-backed TTL cache in front of expensive
// marketplace reads. The cache is strictly best-effort: if Redis is
// unreachable every Get is a miss and every Set/Clear a no-op, so callers
// always have a live-fetch path and absence never blocks correctness.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vinylhaus/storefront/internal/metrics"
)

// TTL tiers, ordered by how fast the underlying data ages. Availability data
// ages faster than catalog metadata.
const (
	ShippingTTL      = 7 * 24 * time.Hour
	RecordTTL        = 30 * 24 * time.Hour
	InventoryTTL     = 2 * time.Hour
	InventoryBustTTL = 2 * time.Minute // when a cache-buster is supplied
	connectCooldown  = 30 * time.Second
	opTimeout        = 2 * time.Second
)

// Cache wraps a single shared Redis connection, established lazily on first
// use and memoized. Only one connection attempt is ever in flight; while an
// attempt is running or after a failed attempt (until the cooldown passes),
// operations degrade silently.
type Cache struct {
	opt *redis.Options

	mu          sync.Mutex
	client      *redis.Client
	connecting  bool
	lastFailure time.Time
}

// New creates a cache for the given Redis URL. An empty URL yields a cache
// that is permanently degraded (every operation a no-op), which is valid.
func New(redisURL string) *Cache {
	c := &Cache{}
	if redisURL == "" {
		return c
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Warn("invalid redis URL, cache disabled", "err", err)
		return c
	}
	c.opt = opt
	return c
}

// conn returns the shared client, dialing lazily. Returns nil while the
// cache is degraded.
func (c *Cache) conn(ctx context.Context) *redis.Client {
	c.mu.Lock()
	if c.client != nil {
		rdb := c.client
		c.mu.Unlock()
		return rdb
	}
	if c.opt == nil || c.connecting || time.Since(c.lastFailure) < connectCooldown {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	rdb := redis.NewClient(c.opt)
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	err := rdb.Ping(pingCtx).Err()
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	if err != nil {
		rdb.Close()
		c.lastFailure = time.Now()
		slog.Warn("redis unreachable, cache degraded", "err", err)
		return nil
	}
	c.client = rdb
	slog.Info("redis cache connected")
	return c.client
}

// Get returns the cached value for key, or "" with ok=false on a miss or
// when the cache is degraded.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	rdb := c.conn(ctx)
	if rdb == nil {
		metrics.CacheOps.WithLabelValues("get", "skip").Inc()
		return "", false
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := rdb.Get(opCtx, key).Result()
	if err == redis.Nil {
		metrics.CacheOps.WithLabelValues("get", "miss").Inc()
		return "", false
	}
	if err != nil {
		metrics.CacheOps.WithLabelValues("get", "error").Inc()
		c.dropConn()
		return "", false
	}
	metrics.CacheOps.WithLabelValues("get", "hit").Inc()
	return val, true
}

// Set stores value under key with the given TTL. Silent no-op when degraded.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	rdb := c.conn(ctx)
	if rdb == nil {
		metrics.CacheOps.WithLabelValues("set", "skip").Inc()
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := rdb.Set(opCtx, key, value, ttl).Err(); err != nil {
		metrics.CacheOps.WithLabelValues("set", "error").Inc()
		c.dropConn()
		return
	}
	metrics.CacheOps.WithLabelValues("set", "ok").Inc()
}

// Clear deletes every key matching pattern and returns the count deleted.
func (c *Cache) Clear(ctx context.Context, pattern string) int {
	rdb := c.conn(ctx)
	if rdb == nil {
		return 0
	}
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	keys, err := rdb.Keys(opCtx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return 0
	}
	deleted, err := rdb.Del(opCtx, keys...).Result()
	if err != nil {
		return 0
	}
	metrics.CacheOps.WithLabelValues("clear", "ok").Inc()
	return int(deleted)
}

// dropConn discards a connection that started erroring so the next call
// re-dials after the cooldown.
func (c *Cache) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.lastFailure = time.Now()
}

// Close releases the shared connection.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}
