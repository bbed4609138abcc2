package settings

import (
	"context"
	"testing"
	"time"
)

func TestListenerShutdownReturnsPromptlyWithoutAnOpenConnection(t *testing.T) {
	storage := newTestStorage()
	// An unparseable DSN makes pgx.Connect fail immediately (no network dial),
	// exercising the reconnect-with-backoff loop without requiring a real
	// Postgres server.
	l := NewListener("not-a-valid-dsn", storage)
	l.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := l.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() = %v, want nil (stopCh should cancel the backoff sleep promptly)", err)
	}
}

func TestListenerShutdownIsIdempotent(t *testing.T) {
	storage := newTestStorage()
	l := NewListener("not-a-valid-dsn", storage)
	l.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := l.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() = %v, want nil", err)
	}
	if err := l.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() = %v, want nil", err)
	}
}
