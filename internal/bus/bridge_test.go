package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/synctv-org/synctv-core/internal/events"
	"github.com/synctv-org/synctv-core/internal/fanout"
)

func shutdownBridge(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() = %v, want nil", err)
	}
}

func TestBroadcastSingleNodeFansLocallyWithoutRedis(t *testing.T) {
	hub := fanout.New(8)
	b, err := New(Config{NodeID: "node1", DedupWindow: time.Second, DedupCleanup: time.Minute}, hub, nil)
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	defer shutdownBridge(t, b)

	ch := hub.Subscribe("room1", "u1", "conn1")

	res := b.Broadcast(events.Event{Type: events.TypeChatMessage, RoomID: "room1", UserID: "u1", TS: time.Now()})
	if res.LocalSent != 1 {
		t.Errorf("LocalSent = %d, want 1", res.LocalSent)
	}
	if res.RedisSent {
		t.Error("expected RedisSent to be false in single-node mode")
	}

	select {
	case e := <-ch:
		if e.Type != events.TypeChatMessage {
			t.Errorf("received type %q, want chat_message", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the broadcast event")
	}
}

func TestBroadcastDedupsRepeatedEvents(t *testing.T) {
	hub := fanout.New(8)
	b, err := New(Config{NodeID: "node1", DedupWindow: time.Minute, DedupCleanup: time.Minute}, hub, nil)
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	defer shutdownBridge(t, b)

	ch := hub.Subscribe("room1", "u1", "conn1")
	now := time.Now()
	event := events.Event{Type: events.TypeChatMessage, RoomID: "room1", UserID: "u1", TS: now}

	first := b.Broadcast(event)
	second := b.Broadcast(event)

	if first.LocalSent != 1 {
		t.Errorf("first broadcast LocalSent = %d, want 1", first.LocalSent)
	}
	if second.LocalSent != 0 || second.RedisSent {
		t.Errorf("second (duplicate) broadcast = %+v, want the no-op zero value", second)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected exactly one delivered event")
	}
	select {
	case e := <-ch:
		t.Fatalf("received an unexpected second delivery: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeAdminEventsReceivesKickPublisher(t *testing.T) {
	hub := fanout.New(8)
	b, err := New(Config{NodeID: "node1", DedupWindow: time.Second, DedupCleanup: time.Minute}, hub, nil)
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	defer shutdownBridge(t, b)

	admin := b.SubscribeAdminEvents(4)
	b.Broadcast(events.Event{Type: events.TypeKickPublisher, RoomID: "room1", MediaID: "m1", TS: time.Now()})

	select {
	case e := <-admin:
		if e.Type != events.TypeKickPublisher {
			t.Errorf("got %q, want kick_publisher", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("admin subscriber never received the kick event")
	}
}

type fakePermInvalidator struct {
	roomCalls []string
	userCalls [][2]string
}

func (f *fakePermInvalidator) InvalidateRoomPermission(_ context.Context, roomID string) {
	f.roomCalls = append(f.roomCalls, roomID)
}

func (f *fakePermInvalidator) InvalidateUserPermission(_ context.Context, roomID, userID string) {
	f.userCalls = append(f.userCalls, [2]string{roomID, userID})
}

func TestCrossNodeBroadcastPropagatesAndInvalidatesPermissions(t *testing.T) {
	mr := miniredis.RunT(t)

	hub1 := fanout.New(8)
	perm1 := &fakePermInvalidator{}
	b1, err := New(Config{NodeID: "node1", RedisAddr: mr.Addr(), DedupWindow: time.Second, DedupCleanup: time.Minute}, hub1, perm1)
	if err != nil {
		t.Fatalf("New(node1) = %v, want nil", err)
	}
	defer shutdownBridge(t, b1)

	hub2 := fanout.New(8)
	perm2 := &fakePermInvalidator{}
	b2, err := New(Config{NodeID: "node2", RedisAddr: mr.Addr(), DedupWindow: time.Second, DedupCleanup: time.Minute}, hub2, perm2)
	if err != nil {
		t.Fatalf("New(node2) = %v, want nil", err)
	}
	defer shutdownBridge(t, b2)

	ch2 := hub2.Subscribe("roomX", "u1", "conn-on-node2")

	b1.Broadcast(events.Event{
		Type: events.TypePermissionChanged, RoomID: "roomX", TargetUserID: "u42", TS: time.Now(),
	})

	select {
	case e := <-ch2:
		if e.Type != events.TypePermissionChanged {
			t.Errorf("got %q, want permission_changed", e.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("node2 never received the event published by node1 via redis")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(perm2.userCalls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(perm2.userCalls) != 1 || perm2.userCalls[0] != [2]string{"roomX", "u42"} {
		t.Errorf("perm2.userCalls = %v, want [[roomX u42]]", perm2.userCalls)
	}
	if len(perm1.userCalls) != 0 {
		t.Errorf("node1 should not invalidate its own locally-originated event, got %v", perm1.userCalls)
	}
}

func TestBroadcastRateLimitsChatMessagesPerRoomUser(t *testing.T) {
	hub := fanout.New(8)
	b, err := New(Config{
		NodeID: "node1", DedupWindow: time.Second, DedupCleanup: time.Minute,
		RateLimitChat: "1-M",
	}, hub, nil)
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	defer shutdownBridge(t, b)

	hub.Subscribe("room1", "u1", "conn1")

	first := b.Broadcast(events.Event{Type: events.TypeChatMessage, RoomID: "room1", UserID: "u1", TS: time.Now()})
	if first.LocalSent != 1 {
		t.Errorf("first chat message LocalSent = %d, want 1", first.LocalSent)
	}

	second := b.Broadcast(events.Event{Type: events.TypeChatMessage, RoomID: "room1", UserID: "u1", TS: time.Now().Add(time.Millisecond)})
	if second.LocalSent != 0 || second.RedisSent {
		t.Errorf("second chat message should be rate-limited, got %+v", second)
	}

	other := b.Broadcast(events.Event{Type: events.TypeChatMessage, RoomID: "room1", UserID: "u2", TS: time.Now()})
	if other.LocalSent != 1 {
		t.Errorf("u2's message has its own rate budget and should reach the room's subscriber, LocalSent = %d, want 1", other.LocalSent)
	}
	if other.RedisSent {
		t.Error("expected RedisSent to be false in single-node mode")
	}
}

func TestDefaultChannelPrefix(t *testing.T) {
	hub := fanout.New(8)
	b, err := New(Config{NodeID: "node1", DedupWindow: time.Second, DedupCleanup: time.Minute}, hub, nil)
	if err != nil {
		t.Fatalf("New() = %v, want nil", err)
	}
	defer shutdownBridge(t, b)
	if b.channel != "synctv:events" {
		t.Errorf("channel = %q, want synctv:events default", b.channel)
	}
}
