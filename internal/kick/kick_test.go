package kick

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/synctv-org/synctv-core/internal/bus"
	"github.com/synctv-org/synctv-core/internal/events"
	"github.com/synctv-org/synctv-core/internal/invalidation"
	"github.com/synctv-org/synctv-core/internal/publisher"
	"github.com/synctv-org/synctv-core/internal/rtmpingest"
	"github.com/synctv-org/synctv-core/internal/streamhub"
)

type fakeBroadcaster struct {
	events []events.Event
}

func (f *fakeBroadcaster) Broadcast(e events.Event) bus.BroadcastResult {
	f.events = append(f.events, e)
	return bus.BroadcastResult{}
}

func newTestRegistry(t *testing.T) *publisher.Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return publisher.New(client, "test", time.Minute)
}

func TestBanUserKicksEveryPublisherOwnedByUser(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	if _, ok, err := registry.TryRegister(ctx, "room1", "media1", "node-a", "alice"); err != nil || !ok {
		t.Fatalf("TryRegister 1: ok=%v err=%v", ok, err)
	}
	if _, ok, err := registry.TryRegister(ctx, "room2", "media2", "node-a", "alice"); err != nil || !ok {
		t.Fatalf("TryRegister 2: ok=%v err=%v", ok, err)
	}

	bcast := &fakeBroadcaster{}
	issuer := NewIssuer(registry, bcast, nil)

	if err := issuer.BanUser(ctx, "alice"); err != nil {
		t.Fatalf("BanUser: %v", err)
	}

	if len(bcast.events) != 2 {
		t.Fatalf("got %d broadcast events, want 2 (one per publisher)", len(bcast.events))
	}
	for _, e := range bcast.events {
		if e.Type != events.TypeKickPublisher || e.Reason != "user_banned" {
			t.Errorf("unexpected event %+v", e)
		}
	}
}

func TestBanUserWithNoPublishersIsNoop(t *testing.T) {
	registry := newTestRegistry(t)
	bcast := &fakeBroadcaster{}
	issuer := NewIssuer(registry, bcast, nil)

	if err := issuer.BanUser(context.Background(), "nobody"); err != nil {
		t.Fatalf("BanUser: %v", err)
	}
	if len(bcast.events) != 0 {
		t.Errorf("expected no events, got %v", bcast.events)
	}
}

func TestDeleteRoomKicksEveryMediaThenSignalsRoomDeleted(t *testing.T) {
	registry := newTestRegistry(t)
	bcast := &fakeBroadcaster{}
	issuer := NewIssuer(registry, bcast, nil)

	issuer.DeleteRoom(context.Background(), "room1", []string{"media1", "media2"})

	if len(bcast.events) != 3 {
		t.Fatalf("got %d events, want 3 (2 kicks + room_deleted)", len(bcast.events))
	}
	if bcast.events[2].Type != events.TypeRoomDeleted || bcast.events[2].RoomID != "room1" {
		t.Errorf("final event = %+v, want room_deleted for room1", bcast.events[2])
	}
}

func TestDeleteMediaEmitsSingleKickEvent(t *testing.T) {
	registry := newTestRegistry(t)
	bcast := &fakeBroadcaster{}
	issuer := NewIssuer(registry, bcast, nil)

	issuer.DeleteMedia("room1", "media1")

	if len(bcast.events) != 1 {
		t.Fatalf("got %d events, want 1", len(bcast.events))
	}
	e := bcast.events[0]
	if e.Type != events.TypeKickPublisher || e.RoomID != "room1" || e.MediaID != "media1" || e.Reason != "media_deleted" {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestPermissionChangedBroadcastsInvalidationAll(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	inval := invalidation.New("test", &invalidation.RedisAdapter{Client: client})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		inval.Shutdown(ctx)
	}()

	registry := newTestRegistry(t)
	bcast := &fakeBroadcaster{}
	issuer := NewIssuer(registry, bcast, inval)

	local := inval.Subscribe(4)
	issuer.PermissionChanged(context.Background(), "room1", "user1")

	select {
	case msg := <-local:
		if msg.Kind != invalidation.KindUserPermission || msg.RoomID != "room1" || msg.UserID != "user1" {
			t.Errorf("got %+v, want user_permission for room1/user1", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a local invalidation fanout from PermissionChanged")
	}
}

func newTestListener(t *testing.T) (*Listener, *rtmpingest.StreamTracker, streamhub.Identifier) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	registry := publisher.New(client, "test", time.Minute)
	hub := streamhub.New()
	verifier := rtmpingest.NewTokenVerifier("a-sufficiently-long-shared-secret")
	rooms := map[string]rtmpingest.Room{"room1": {ID: "room1", Status: rtmpingest.RoomActive, CreatorID: "alice"}}
	users := map[string]rtmpingest.User{"alice": {ID: "alice", Status: rtmpingest.UserActive}}
	media := map[string]rtmpingest.Media{"room1/media1": {ID: "media1", RoomID: "room1", CreatorID: "alice"}}

	svc := rtmpingest.NewService("node-a", verifier,
		fakeRoomStore(rooms), fakeUserStore(users), fakeMediaStore(media),
		registry, hub, func(events.Event) {})

	tracker := svc.Tracker()
	id := streamhub.Identifier{App: "room1", Stream: "media1"}
	tracker.Insert(id, rtmpingest.StreamKey{UserID: "alice", RoomID: "room1", MediaID: "media1"})

	return NewListener(svc, tracker), tracker, id
}

type fakeRoomStore map[string]rtmpingest.Room

func (f fakeRoomStore) GetRoom(_ context.Context, roomID string) (rtmpingest.Room, bool, error) {
	r, ok := f[roomID]
	return r, ok, nil
}

type fakeUserStore map[string]rtmpingest.User

func (f fakeUserStore) GetUser(_ context.Context, userID string) (rtmpingest.User, bool, error) {
	u, ok := f[userID]
	return u, ok, nil
}

type fakeMediaStore map[string]rtmpingest.Media

func (f fakeMediaStore) GetMedia(_ context.Context, roomID, mediaID string) (rtmpingest.Media, bool, error) {
	m, ok := f[roomID+"/"+mediaID]
	return m, ok, nil
}

func TestHandleAdminEventKickPublisherRemovesTrackedStream(t *testing.T) {
	listener, tracker, id := newTestListener(t)

	listener.HandleAdminEvent(context.Background(), events.Event{
		Type: events.TypeKickPublisher, RoomID: "room1", MediaID: "media1", Reason: "user_banned",
	})

	if _, ok := tracker.LookupByRTMP(id); ok {
		t.Error("expected the kicked stream to be removed from the tracker")
	}
}

func TestHandleAdminEventKickPublisherIgnoresUntrackedMedia(t *testing.T) {
	listener, tracker, id := newTestListener(t)

	listener.HandleAdminEvent(context.Background(), events.Event{
		Type: events.TypeKickPublisher, RoomID: "room1", MediaID: "other-media", Reason: "user_banned",
	})

	if _, ok := tracker.LookupByRTMP(id); !ok {
		t.Error("expected the untouched stream to remain tracked")
	}
}

func TestHandleAdminEventRoomDeletedRemovesEveryStreamInRoom(t *testing.T) {
	listener, tracker, _ := newTestListener(t)
	second := streamhub.Identifier{App: "room1", Stream: "media2"}
	tracker.Insert(second, rtmpingest.StreamKey{UserID: "alice", RoomID: "room1", MediaID: "media2"})

	listener.HandleAdminEvent(context.Background(), events.Event{Type: events.TypeRoomDeleted, RoomID: "room1"})

	if ids := tracker.IdentifiersForRoom("room1"); len(ids) != 0 {
		t.Errorf("expected no streams left tracked for room1, got %v", ids)
	}
}
