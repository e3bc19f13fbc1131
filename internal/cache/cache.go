// Package cache stores provider responses for a bounded time.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores opaque values under string keys with a TTL. A miss is
// reported as ok=false with a nil error.
type Cache interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Config selects the cache backend.
type Config struct {
	Backend  string `mapstructure:"backend" default:"memory" validate:"oneof=memory redis none"`
	Addr     string `mapstructure:"addr" default:"localhost:6379"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" default:"0" validate:"min=0"`
	Prefix   string `mapstructure:"prefix" default:"assistant"`
	// TTLs for provider responses.
	FundamentalsTTL time.Duration `mapstructure:"fundamentals_ttl" default:"300s"`
	SentimentTTL    time.Duration `mapstructure:"sentiment_ttl" default:"1800s"`
}

// New returns the cache selected by cfg, or nil for "none".
func New(ctx context.Context, cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisCache(ctx, cfg)
	case "none":
		return nil, nil
	default:
		return NewMemoryCache(), nil
	}
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a process-local cache. Expired entries are dropped lazily
// on read and swept on write.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	writes  int
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry), now: time.Now}
}

func (c *MemoryCache) GetBytes(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (c *MemoryCache) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	now := c.now()
	c.entries[key] = entry{value: v, expiresAt: now.Add(ttl)}

	c.writes++
	if c.writes%256 == 0 {
		for k, e := range c.entries {
			if !now.Before(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	return nil
}

func (c *MemoryCache) Close() error { return nil }
