package shardmap

import (
	"strconv"
	"sync"
	"testing"
)

func TestSetGetDelete(t *testing.T) {
	m := New[int]()
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected miss on empty map")
	}
	m.Set("a", 1)
	v, ok := m.Get("a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestGetOrCreateOnlyCreatesOnce(t *testing.T) {
	m := New[int]()
	calls := 0
	create := func() int {
		calls++
		return 42
	}
	v, created := m.GetOrCreate("k", create)
	if !created || v != 42 {
		t.Fatalf("first call: v=%d created=%v, want 42 true", v, created)
	}
	v, created = m.GetOrCreate("k", create)
	if created || v != 42 {
		t.Fatalf("second call: v=%d created=%v, want 42 false", v, created)
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
}

func TestDeleteIf(t *testing.T) {
	m := New[int]()
	m.Set("k", 5)

	if m.DeleteIf("k", func(v int) bool { return v != 5 }) {
		t.Fatal("DeleteIf should not delete when predicate is false")
	}
	if _, ok := m.Get("k"); !ok {
		t.Fatal("key should still be present")
	}

	if !m.DeleteIf("k", func(v int) bool { return v == 5 }) {
		t.Fatal("DeleteIf should delete when predicate is true")
	}
	if _, ok := m.Get("k"); ok {
		t.Fatal("key should be gone")
	}
}

func TestLenAndKeysAndRange(t *testing.T) {
	m := NewWithShards[int](4)
	want := map[string]int{}
	for i := 0; i < 50; i++ {
		k := strconv.Itoa(i)
		m.Set(k, i)
		want[k] = i
	}
	if got := m.Len(); got != len(want) {
		t.Fatalf("Len() = %d, want %d", got, len(want))
	}

	got := map[string]int{}
	m.Range(func(k string, v int) bool {
		got[k] = v
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("Range produced %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Range entry %q = %d, want %d", k, got[k], v)
		}
	}

	keys := m.Keys()
	if len(keys) != len(want) {
		t.Fatalf("Keys() returned %d, want %d", len(keys), len(want))
	}
}

func TestRangeStopsEarly(t *testing.T) {
	m := New[int]()
	for i := 0; i < 10; i++ {
		m.Set(strconv.Itoa(i), i)
	}
	seen := 0
	m.Range(func(k string, v int) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Errorf("Range visited %d entries after false return, want 1", seen)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := strconv.Itoa(i % 10)
			m.GetOrCreate(k, func() int { return i })
			m.Get(k)
		}(i)
	}
	wg.Wait()
	if m.Len() > 10 {
		t.Errorf("Len() = %d, want at most 10", m.Len())
	}
}
