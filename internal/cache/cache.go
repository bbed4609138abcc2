// Package cache implements the two-tier cache (C5): an in-memory L1 backed
// by a Redis L2, applied generically to users, rooms, usernames, and
// permissions. L1 is patrickmn/go-cache, which evicts by per-entry TTL only:
// L1 has no capacity bound and no LRU ordering. L2 is a plain Redis string
// value. Grounded on the teacher's layered-service style
// (bus.Service wraps redis.Client; this wraps the same client plus an L1).
package cache

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/synctv-org/synctv-core/internal/metrics"
)

// Cache is a two-tier cache for values of type V, keyed by string.
type Cache[V any] struct {
	name      string
	l1        *gocache.Cache
	l2        *redis.Client
	l2Prefix  string
	l2TTL     time.Duration
}

// New builds a Cache. l2 may be nil, in which case the cache operates L1-only
// (single-node mode).
func New[V any](name string, l1TTL, l1CleanupInterval time.Duration, l2 *redis.Client, l2Prefix string, l2TTL time.Duration) *Cache[V] {
	return &Cache[V]{
		name:     name,
		l1:       gocache.New(l1TTL, l1CleanupInterval),
		l2:       l2,
		l2Prefix: l2Prefix,
		l2TTL:    l2TTL,
	}
}

// Get checks L1 first; on miss, reads L2 and promotes into L1.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if v, ok := c.l1.Get(key); ok {
		metrics.CacheHits.WithLabelValues(c.name, "l1").Inc()
		return v.(V), true
	}

	if c.l2 == nil {
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}

	raw, err := c.l2.Get(ctx, c.l2Key(key)).Bytes()
	if err != nil {
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}

	metrics.CacheHits.WithLabelValues(c.name, "l2").Inc()
	c.l1.SetDefault(key, v)
	return v, true
}

// Set writes L2 then L1 (write order is the mirror of invalidation's
// L2-then-L1 delete order; both keep L2 authoritative).
func (c *Cache[V]) Set(ctx context.Context, key string, v V) error {
	if c.l2 != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := c.l2.Set(ctx, c.l2Key(key), data, c.l2TTL).Err(); err != nil {
			return err
		}
	}
	c.l1.SetDefault(key, v)
	return nil
}

// Invalidate deletes L2 first, then L1 (I4: L2 is authoritative).
func (c *Cache[V]) Invalidate(ctx context.Context, key string) error {
	if c.l2 != nil {
		if err := c.l2.Del(ctx, c.l2Key(key)).Err(); err != nil {
			return err
		}
	}
	c.l1.Delete(key)
	return nil
}

// InvalidateByID is the L1-only invalidation used by the C4 listener: the
// node that triggered the change already invalidated its own L2 (or never
// wrote L2 there), so peers only need to drop their local copy.
func (c *Cache[V]) InvalidateByID(id string) {
	c.l1.Delete(id)
}

// GetBatch fetches multiple keys in a single Redis pipeline, falling back
// to L1-only lookups when L2 is unavailable.
func (c *Cache[V]) GetBatch(ctx context.Context, keys []string) map[string]V {
	out := make(map[string]V, len(keys))
	var misses []string

	for _, key := range keys {
		if v, ok := c.l1.Get(key); ok {
			out[key] = v.(V)
			continue
		}
		misses = append(misses, key)
	}

	if c.l2 == nil || len(misses) == 0 {
		return out
	}

	pipe := c.l2.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(misses))
	for _, key := range misses {
		cmds[key] = pipe.Get(ctx, c.l2Key(key))
	}
	_, _ = pipe.Exec(ctx)

	for key, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out[key] = v
		c.l1.SetDefault(key, v)
	}
	return out
}

func (c *Cache[V]) l2Key(key string) string {
	return c.l2Prefix + ":" + key
}
