package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// unreachable returns a cache pointing at a port nothing listens on.
func unreachable() *Cache {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	return newCache(client, CacheConfig{})
}

func TestNewCache_Defaults(t *testing.T) {
	c := unreachable()
	defer c.Close()
	if c.ttl != defaultTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, defaultTTL)
	}
	if got := c.key("abc"); got != "chart:dataset:abc" {
		t.Errorf("key = %q", got)
	}
}

func TestCache_TripsBreakerWhenUnreachable(t *testing.T) {
	c := unreachable()
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, ok, err := c.Get(ctx, "k"); err == nil || ok {
			t.Fatalf("attempt %d: expected error from unreachable redis", i)
		}
	}
	if c.Breaker().State() != StateOpen {
		t.Fatalf("expected breaker open, got %v", c.Breaker().State())
	}
	_, _, err := c.Get(ctx, "k")
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen once open, got %v", err)
	}
}
