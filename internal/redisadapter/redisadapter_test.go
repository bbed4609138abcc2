package redisadapter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer raw.Close()

	client := New(raw)
	ctx := context.Background()
	sub := client.Subscribe(ctx, "room:1:events")
	defer sub.Close()

	// Give the subscription time to register with the server before
	// publishing, matching redis pub/sub's usual client setup.
	time.Sleep(50 * time.Millisecond)

	if err := client.Publish(ctx, "room:1:events", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if msg != "hello" {
			t.Errorf("message = %q, want %q", msg, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the published message")
	}
}
