package invalidation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisAdapterPublishSubscribeRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	adapter := &RedisAdapter{Client: client}
	bus := New("test", adapter)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		bus.Shutdown(ctx)
	}()

	local := bus.Subscribe(1)

	otherClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { otherClient.Close() })
	otherBus := New("test", &RedisAdapter{Client: otherClient})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		otherBus.Shutdown(ctx)
	}()

	if err := otherBus.InvalidateRoom(context.Background(), "room42"); err != nil {
		t.Fatalf("InvalidateRoom() = %v, want nil", err)
	}

	select {
	case msg := <-local:
		if msg.Kind != KindRoom || msg.RoomID != "room42" {
			t.Errorf("got %+v, want Kind=room RoomID=room42", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the message to propagate via real redis pub/sub")
	}
}
