// Package cache memoizes rendered bot views (keyboards, cards) in Redis.
// It is a pure accelerator: every miss or Redis failure degrades to a
// rebuild from storage, never to an error the user sees.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	logx "pricebot/pkg/logx"
)

// Config configures the optional Redis cache.
type Config struct {
	Enabled  bool
	Addr     string
	Username string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache is a JSON-value memo over Redis. The zero value (and any Cache with a
// nil client) is a valid no-op cache: Get always misses, Set/Invalidate do
// nothing. Callers never branch on whether Redis is configured.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log logx.Logger
}

// Nop returns a disabled cache.
func Nop() *Cache { return &Cache{} }

// Connect creates the cache and verifies the connection with a ping. A ping
// failure is returned so the caller can decide to fall back to Nop.
func Connect(ctx context.Context, cfg Config, log logx.Logger) (*Cache, error) {
	if !cfg.Enabled {
		return Nop(), nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl, log: log}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Get unmarshals the cached value under key into dest.
// Returns true on a hit, false on miss or any error.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		c.log.Debug("cache entry undecodable, treating as miss", logx.String("key", key), logx.Err(err))
		return false
	}
	return true
}

// Set stores value under key with the configured TTL. Failures are logged
// and swallowed.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache marshal failed", logx.String("key", key), logx.Err(err))
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Debug("cache set failed", logx.String("key", key), logx.Err(err))
	}
}

// InvalidateUser drops every memoized view for one user.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) {
	c.invalidatePattern(ctx, "user:"+strconv.FormatInt(userID, 10)+":*")
}

// InvalidateAll drops every memoized view. Called after each poll pass, since
// any recorded change can alter status markers on any keyboard.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.invalidatePattern(ctx, "user:*")
}

func (c *Cache) invalidatePattern(ctx context.Context, pattern string) {
	if c == nil || c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Debug("cache scan failed", logx.String("pattern", pattern), logx.Err(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Debug("cache invalidate failed", logx.String("pattern", pattern), logx.Err(err))
	}
}

// UserKey builds the canonical cache key for a per-user view.
func UserKey(userID int64, view string) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":" + view
}
