// Package shardmap provides a fixed-shard concurrent map so that common
// operations on high-traffic maps (dedup keys, GOP rings, pull stream
// entries) don't serialize behind one global mutex, the
// way the teacher's room/hub code holds one lock per room bucket rather
// than one lock for the whole hub.
package shardmap

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 32

// Map is a generic sharded concurrent map keyed by string; each key is
// assigned to a shard by its xxhash.
type Map[V any] struct {
	shards []*shard[V]
	mask   uint64
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// New builds a Map with the default shard count (32, a power of two).
func New[V any]() *Map[V] {
	return NewWithShards[V](defaultShards)
}

// NewWithShards builds a Map with a caller-chosen shard count, rounded up
// to the next power of two.
func NewWithShards[V any](n int) *Map[V] {
	count := 1
	for count < n {
		count <<= 1
	}
	shards := make([]*shard[V], count)
	for i := range shards {
		shards[i] = &shard[V]{m: make(map[string]V)}
	}
	return &Map[V]{shards: shards, mask: uint64(count - 1)}
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := xxhash.Sum64String(key)
	return m.shards[h&m.mask]
}

func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (m *Map[V]) Set(key string, v V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// GetOrCreate returns the existing value for key, or atomically stores and
// returns the value produced by create if the key was absent. Used for
// double-checked-locking-style lazy creation (GOP rings).
func (m *Map[V]) GetOrCreate(key string, create func() V) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		return v, false
	}
	v := create()
	s.m[key] = v
	return v, true
}

func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// DeleteIf deletes key only if pred(current value) returns true, atomically
// with respect to other writers on the same shard. Reports whether deleted.
func (m *Map[V]) DeleteIf(key string, pred func(V) bool) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok || !pred(v) {
		return false
	}
	delete(s.m, key)
	return true
}

func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for every entry. fn must not call back into the Map.
// Iteration order is unspecified and shard-local snapshots are taken so
// a slow fn on one shard doesn't hold the whole map locked.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		snapshot := make(map[string]V, len(s.m))
		for k, v := range s.m {
			snapshot[k] = v
		}
		s.mu.RUnlock()
		for k, v := range snapshot {
			if !fn(k, v) {
				return
			}
		}
	}
}

// Keys returns a snapshot of all keys.
func (m *Map[V]) Keys() []string {
	keys := make([]string, 0, m.Len())
	m.Range(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}
