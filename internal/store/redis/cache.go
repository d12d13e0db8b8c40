// Package redis implements the shared dataset cache on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"stockchart/internal/model"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultPrefix = "chart:dataset:"
)

// CacheConfig configures the Redis dataset cache.
type CacheConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // expiry of cached datasets; 0 means 24h
	Prefix   string        // key prefix; "" means "chart:dataset:"
}

// Cache stores JSON-encoded datasets under their content key. Calls go
// through a Breaker so an unreachable Redis degrades to cache misses fast.
type Cache struct {
	client  *goredis.Client
	ttl     time.Duration
	prefix  string
	breaker *Breaker
}

// NewCache connects to Redis and pings it.
func NewCache(cfg CacheConfig) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis cache connected", "addr", cfg.Addr, "db", cfg.DB)
	return newCache(client, cfg), nil
}

func newCache(client *goredis.Client, cfg CacheConfig) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Cache{
		client:  client,
		ttl:     ttl,
		prefix:  prefix,
		breaker: NewBreaker(5, 10*time.Second),
	}
}

// Breaker exposes the circuit breaker, e.g. to hook state changes to metrics.
func (c *Cache) Breaker() *Breaker { return c.breaker }

func (c *Cache) key(k string) string { return c.prefix + k }

// Get implements model.DatasetCache.
func (c *Cache) Get(ctx context.Context, key string) (*model.Dataset, bool, error) {
	var raw []byte
	err := c.breaker.Do(func() error {
		b, err := c.client.Get(ctx, c.key(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if raw == nil {
		return nil, false, nil
	}

	var ds model.Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return nil, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return &ds, true, nil
}

// Put implements model.DatasetCache. The TTL is refreshed on every put.
func (c *Cache) Put(ctx context.Context, ds *model.Dataset) error {
	raw, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", ds.Key, err)
	}
	err = c.breaker.Do(func() error {
		return c.client.Set(ctx, c.key(ds.Key), raw, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", ds.Key, err)
	}
	return nil
}

// Ping checks connectivity, for health endpoints.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
