// Package links resolves short links for visitors and keeps the Redis link
// cache coherent with Postgres.
package links

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/shortlink-edge/internal/store"
	"github.com/JakeFAU/shortlink-edge/internal/telemetry"
)

const (
	cacheKeyPrefix  = "linkcache"
	defaultCacheTTL = 24 * time.Hour
)

// Cache stores resolved links in Redis. A Cache without a client is a no-op:
// lookups always miss and writes succeed.
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCache wraps a Redis client. A non-positive ttl uses 24h.
func NewCache(client redis.Cmdable, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// CacheKey returns the Redis key for a domain/key pair. Keys are case-insensitive.
func CacheKey(domain, key string) string {
	return fmt.Sprintf("%s:%s:%s", cacheKeyPrefix, strings.ToLower(domain), strings.ToLower(key))
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Get returns the cached link and whether it was present.
func (c *Cache) Get(ctx context.Context, domain, key string) (store.Link, bool, error) {
	if !c.enabled() {
		return store.Link{}, false, nil
	}
	raw, err := c.client.Get(ctx, CacheKey(domain, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			telemetry.ObserveLinkCacheLookup("miss")
			return store.Link{}, false, nil
		}
		telemetry.ObserveLinkCacheLookup("error")
		return store.Link{}, false, fmt.Errorf("get cached link: %w", err)
	}
	var link store.Link
	if err := json.Unmarshal(raw, &link); err != nil {
		telemetry.ObserveLinkCacheLookup("error")
		return store.Link{}, false, fmt.Errorf("decode cached link: %w", err)
	}
	telemetry.ObserveLinkCacheLookup("hit")
	return link, true, nil
}

// Set caches link under its domain/key.
func (c *Cache) Set(ctx context.Context, link store.Link) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("encode link: %w", err)
	}
	if err := c.client.Set(ctx, CacheKey(link.Domain, link.Key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached link: %w", err)
	}
	return nil
}

// ExpireMany deletes the cache entries for refs in a single pipeline round trip.
func (c *Cache) ExpireMany(ctx context.Context, refs []store.LinkRef) error {
	if !c.enabled() || len(refs) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, ref := range refs {
		pipe.Del(ctx, CacheKey(ref.Domain, ref.Key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("expire cached links: %w", err)
	}
	telemetry.ObserveLinkCacheExpired(len(refs))
	return nil
}
