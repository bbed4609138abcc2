// Package dedup suppresses re-delivery of events that arrive twice — once
// locally, once again as the pub/sub echo of the same broadcast. Grounded
// on the teacher's sharded, lock-per-bucket style (internal/v1/session/room.go)
// generalized from a room's client maps to a flat key set.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/synctv-org/synctv-core/internal/metrics"
	"github.com/synctv-org/synctv-core/internal/shardmap"
)

// Cache is a sliding-window set: should_process(key) returns true iff key
// was absent, inserting it atomically. A background goroutine periodically
// evicts entries older than window. Never errors — a failed insert under
// concurrent access degrades to "allow both", which is always safe for a
// dedup filter (I6 only promises at-most-once-per-node-per-window, not a
// hard guarantee under pathological races).
type Cache struct {
	window  time.Duration
	entries *shardmap.Map[time.Time]

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New starts a Cache with the given window and cleanup tick interval. The
// cleanup goroutine runs until Close is called.
func New(window, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		window:  window,
		entries: shardmap.New[time.Time](),
		stopCh:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.cleanupLoop(cleanupInterval)
	return c
}

// ShouldProcess returns true iff key was not already present and within the
// window; it inserts key unconditionally before returning.
func (c *Cache) ShouldProcess(key string) bool {
	_, inserted := c.entries.GetOrCreate(key, func() time.Time { return time.Now() })
	if !inserted {
		// Key existed; check whether it's actually expired (B1: boundary
		// crossing allows re-emission even if cleanup hasn't swept yet).
		if ts, ok := c.entries.Get(key); ok {
			if time.Since(ts) > c.window {
				c.entries.Set(key, time.Now())
				return true
			}
		}
		return false
	}
	return true
}

// Len returns the number of keys currently tracked (including stale ones
// not yet swept by the cleanup loop).
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	cutoff := time.Now().Add(-c.window)
	var stale []string
	c.entries.Range(func(key string, ts time.Time) bool {
		if ts.Before(cutoff) {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		c.entries.DeleteIf(key, func(ts time.Time) bool { return ts.Before(cutoff) })
	}
	metrics.DedupSetSize.Set(float64(c.entries.Len()))
}

// Close stops the background cleanup goroutine and waits for it to exit.
func (c *Cache) Close(_ context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return nil
}
