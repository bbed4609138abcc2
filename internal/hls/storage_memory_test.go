package hls

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStorageWriteReadDelete(t *testing.T) {
	s := NewMemoryStorage(0, 0)
	ctx := context.Background()

	if _, err := s.Read(ctx, "missing"); err == nil {
		t.Fatal("expected an error reading a key that was never written")
	}

	if err := s.Write(ctx, "k1", []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read(ctx, "k1")
	if err != nil || string(got) != "data" {
		t.Fatalf("Read() = %q, %v; want %q, nil", got, err, "data")
	}

	exists, err := s.Exists(ctx, "k1")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v; want true, nil", exists, err)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := s.Exists(ctx, "k1"); exists {
		t.Error("expected the key to be gone after Delete")
	}
}

func TestMemoryStorageEvictsOldestBySequenceOnMaxKeys(t *testing.T) {
	s := NewMemoryStorage(0, 2)
	ctx := context.Background()

	s.Write(ctx, "k1", []byte("a"))
	s.Write(ctx, "k2", []byte("b"))
	s.Write(ctx, "k3", []byte("c"))

	if exists, _ := s.Exists(ctx, "k1"); exists {
		t.Error("expected the oldest key to be evicted once maxKeys was exceeded")
	}
	if exists, _ := s.Exists(ctx, "k3"); !exists {
		t.Error("expected the newest key to survive eviction")
	}
}

func TestMemoryStorageEvictsByMaxBytes(t *testing.T) {
	s := NewMemoryStorage(10, 0)
	ctx := context.Background()

	s.Write(ctx, "k1", make([]byte, 6))
	s.Write(ctx, "k2", make([]byte, 6))

	if exists, _ := s.Exists(ctx, "k1"); exists {
		t.Error("expected k1 to be evicted once total bytes exceeded maxBytes")
	}
}

func TestMemoryStorageCleanupRemovesOldEntries(t *testing.T) {
	s := NewMemoryStorage(0, 0)
	ctx := context.Background()
	s.Write(ctx, "k1", []byte("a"))

	removed, err := s.Cleanup(ctx, -time.Second) // cutoff in the future relative to written time
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Cleanup removed %d, want 1", removed)
	}
	if exists, _ := s.Exists(ctx, "k1"); exists {
		t.Error("expected the entry to be gone after Cleanup")
	}
}

func TestMemoryStorageGetPublicURLAlwaysFalse(t *testing.T) {
	s := NewMemoryStorage(0, 0)
	if _, ok := s.GetPublicURL(context.Background(), "k1"); ok {
		t.Error("expected MemoryStorage to never report a public URL")
	}
}
