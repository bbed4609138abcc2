// Package kick implements kick & lifecycle propagation (C13): admin actions
// (ban user, delete room, delete media, permission change) are turned into
// pub/sub events that every node reacts to locally, tying together the
// publisher registry (C7), the admin-event fan-out already built into
// bus.Bridge, and the streamhub/gop/pull state each node must tear down.
package kick

import (
	"context"

	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/bus"
	"github.com/synctv-org/synctv-core/internal/events"
	"github.com/synctv-org/synctv-core/internal/invalidation"
	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/publisher"
	"github.com/synctv-org/synctv-core/internal/rtmpingest"
)

// Broadcaster is the narrow surface of bus.Bridge that Issuer needs.
type Broadcaster interface {
	Broadcast(events.Event) bus.BroadcastResult
}

// Issuer emits kick/lifecycle events on the admin side (spec §4.13: ban
// user, delete room, delete media, permission change).
type Issuer struct {
	registry *publisher.Registry
	bus      Broadcaster
	inval    *invalidation.Bus
}

func NewIssuer(registry *publisher.Registry, bus Broadcaster, inval *invalidation.Bus) *Issuer {
	return &Issuer{registry: registry, bus: bus, inval: inval}
}

// BanUser kicks every publisher currently owned by userID.
func (i *Issuer) BanUser(ctx context.Context, userID string) error {
	pairs, err := i.registry.GetUserPublishers(ctx, userID)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		i.bus.Broadcast(events.Event{
			Type: events.TypeKickPublisher, RoomID: pair[0], MediaID: pair[1],
			UserID: userID, Reason: "user_banned",
		})
	}
	return nil
}

// DeleteRoom kicks every media in roomID and emits a room_deleted event.
func (i *Issuer) DeleteRoom(ctx context.Context, roomID string, mediaIDs []string) {
	for _, mediaID := range mediaIDs {
		i.bus.Broadcast(events.Event{Type: events.TypeKickPublisher, RoomID: roomID, MediaID: mediaID, Reason: "room_deleted"})
	}
	i.bus.Broadcast(events.Event{Type: events.TypeRoomDeleted, RoomID: roomID})
}

// DeleteMedia kicks just (roomID, mediaID).
func (i *Issuer) DeleteMedia(roomID, mediaID string) {
	i.bus.Broadcast(events.Event{Type: events.TypeKickPublisher, RoomID: roomID, MediaID: mediaID, Reason: "media_deleted"})
}

// PermissionChanged invalidates the user's permission cache fleet-wide.
func (i *Issuer) PermissionChanged(ctx context.Context, roomID, userID string) {
	i.inval.BroadcastAll(ctx, invalidation.Msg{Kind: invalidation.KindUserPermission, RoomID: roomID, UserID: userID})
}

// Listener is the receiving side: every node subscribed to admin events
// terminates the matching local RTMP session (if any). rtmpingest.Service's
// own Unpublish path already tears down the registry record, the stream hub
// bucket, and (via the hub's OnStreamRemoved callback) the GOP cache — so
// the listener only needs to resolve which
// local identifier, if any, the kick refers to.
type Listener struct {
	ingest  *rtmpingest.Service
	tracker *rtmpingest.StreamTracker
}

func NewListener(ingest *rtmpingest.Service, tracker *rtmpingest.StreamTracker) *Listener {
	return &Listener{ingest: ingest, tracker: tracker}
}

// HandleAdminEvent reacts to one event pulled off bus.Bridge's admin
// subscription channel.
func (l *Listener) HandleAdminEvent(ctx context.Context, event events.Event) {
	switch event.Type {
	case events.TypeKickPublisher:
		l.handleKick(ctx, event)
	case events.TypeRoomDeleted:
		l.handleRoomDeleted(ctx, event)
	}
}

func (l *Listener) handleKick(ctx context.Context, event events.Event) {
	id, ok := l.tracker.IdentifierForMedia(event.RoomID, event.MediaID)
	if !ok {
		return // this node isn't hosting that publisher
	}
	logging.Info(ctx, "terminating local publisher due to kick",
		zap.String("room_id", event.RoomID), zap.String("media_id", event.MediaID), zap.String("reason", event.Reason))
	l.ingest.Unpublish(ctx, id)
}

func (l *Listener) handleRoomDeleted(ctx context.Context, event events.Event) {
	for _, id := range l.tracker.IdentifiersForRoom(event.RoomID) {
		l.ingest.Unpublish(ctx, id)
	}
}
