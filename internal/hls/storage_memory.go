package hls

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	key     string
	data    []byte
	seq     uint64
	written time.Time
}

// seqHeap is a min-heap over insertion sequence, giving O(log N) access to
// the oldest entry for eviction — the spec explicitly calls for ordering by
// a monotonic sequence rather than by timestamp, since timestamps collide
// at sub-millisecond write rates.
type seqHeap []*memEntry

func (h seqHeap) Len() int            { return len(h) }
func (h seqHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h seqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *seqHeap) Push(x interface{}) { *h = append(*h, x.(*memEntry)) }
func (h *seqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryStorage is an in-process backend bounded by max_memory_bytes and
// max_keys, evicting the oldest entries by insertion sequence on overflow.
type MemoryStorage struct {
	maxBytes int64
	maxKeys  int

	mu        sync.Mutex
	entries   map[string]*memEntry
	heap      seqHeap
	totalSize int64
	nextSeq   uint64
}

func NewMemoryStorage(maxBytes int64, maxKeys int) *MemoryStorage {
	return &MemoryStorage{
		maxBytes: maxBytes,
		maxKeys:  maxKeys,
		entries:  make(map[string]*memEntry),
	}
}

func (s *MemoryStorage) Write(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.totalSize -= int64(len(old.data))
		old.data = data
		old.written = time.Now()
		s.totalSize += int64(len(data))
		s.evictLocked()
		return nil
	}

	s.nextSeq++
	e := &memEntry{key: key, data: data, seq: s.nextSeq, written: time.Now()}
	s.entries[key] = e
	heap.Push(&s.heap, e)
	s.totalSize += int64(len(data))
	s.evictLocked()
	return nil
}

func (s *MemoryStorage) evictLocked() {
	for (s.maxBytes > 0 && s.totalSize > s.maxBytes) || (s.maxKeys > 0 && len(s.entries) > s.maxKeys) {
		if s.heap.Len() == 0 {
			return
		}
		oldest := heap.Pop(&s.heap).(*memEntry)
		if cur, ok := s.entries[oldest.key]; ok && cur.seq == oldest.seq {
			delete(s.entries, oldest.key)
			s.totalSize -= int64(len(cur.data))
		}
	}
}

func (s *MemoryStorage) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("hls: key %q not found", key)
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		s.totalSize -= int64(len(e.data))
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *MemoryStorage) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if e.written.Before(cutoff) {
			s.totalSize -= int64(len(e.data))
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStorage) GetPublicURL(_ context.Context, _ string) (string, bool) {
	return "", false
}
