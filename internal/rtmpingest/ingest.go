package rtmpingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	coreerrors "github.com/synctv-org/synctv-core/internal/errors"
	"github.com/synctv-org/synctv-core/internal/events"
	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/publisher"
	"github.com/synctv-org/synctv-core/internal/streamhub"
)

const ttlRefreshInterval = 60 * time.Second

// maxHeartbeatRetries and heartbeatRetryBaseDelay mirror the original
// implementation's publisher heartbeat loop: bounded exponential backoff
// before a refresh failure is treated as fatal to the session.
const (
	maxHeartbeatRetries     = 3
	heartbeatRetryBaseDelay = 100 * time.Millisecond
)

// RoomStatus enumerates the subset of room lifecycle state C8 cares about.
type RoomStatus string

const (
	RoomActive  RoomStatus = "active"
	RoomBanned  RoomStatus = "banned"
	RoomPending RoomStatus = "pending"
)

// Room is the minimal room record needed to authorize a publish attempt.
type Room struct {
	ID        string
	Status    RoomStatus
	CreatorID string
	Admins    map[string]bool
}

// UserStatus enumerates the subset of user lifecycle state C8 cares about.
type UserStatus string

const (
	UserActive UserStatus = "active"
	UserBanned UserStatus = "banned"
	UserGone   UserStatus = "deleted"
)

// User is the minimal user record needed to authorize a publish attempt.
type User struct {
	ID       string
	Status   UserStatus
	IsAdmin  bool
}

// Media is the minimal media record needed to authorize a publish attempt.
type Media struct {
	ID        string
	RoomID    string
	CreatorID string
}

// RoomStore, UserStore, and MediaStore are the persistence collaborators C8
// depends on. Their concrete implementations live outside this package
// (the room/user/media domain model is out of this component's scope); C8
// only needs to read, never write, these records.
type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (Room, bool, error)
}

type UserStore interface {
	GetUser(ctx context.Context, userID string) (User, bool, error)
}

type MediaStore interface {
	GetMedia(ctx context.Context, roomID, mediaID string) (Media, bool, error)
}

// Attempt describes one inbound RTMP publish attempt, already demuxed from
// the RTMP handshake/connect/publish sequence.
type Attempt struct {
	AppName    string // room_id
	StreamName string // media_id
	Token      string
}

// Service implements C8: authorizes publish attempts, claims exclusivity via
// the publisher registry, tracks local sessions, and runs TTL refreshers.
type Service struct {
	nodeID   string
	verifier *TokenVerifier
	rooms    RoomStore
	users    UserStore
	media    MediaStore
	registry *publisher.Registry
	hub      *streamhub.Hub
	tracker  *StreamTracker
	emit     func(events.Event)

	refreshers map[streamhub.Identifier]context.CancelFunc
}

// NewService builds a Service. emit is called for StreamStarted/Stopped
// lifecycle events — typically bus.Bridge.Broadcast.
func NewService(nodeID string, verifier *TokenVerifier, rooms RoomStore, users UserStore, media MediaStore, registry *publisher.Registry, hub *streamhub.Hub, emit func(events.Event)) *Service {
	return &Service{
		nodeID:     nodeID,
		verifier:   verifier,
		rooms:      rooms,
		users:      users,
		media:      media,
		registry:   registry,
		hub:        hub,
		tracker:    NewStreamTracker(),
		emit:       emit,
		refreshers: make(map[streamhub.Identifier]context.CancelFunc),
	}
}

// Authorize runs spec §4.8 steps 1-6: parses the attempt, loads and checks
// room/user/media status, and authorizes the publisher. It does not yet
// claim the registry slot — callers do that via Publish once Authorize
// succeeds, keeping the side-effecting claim separate from pure checks.
func (s *Service) Authorize(ctx context.Context, attempt Attempt) (*PublishClaims, error) {
	room, ok, err := s.rooms.GetRoom(ctx, attempt.AppName)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.Internal, "rtmpingest.authorize", err)
	}
	if !ok {
		return nil, coreerrors.New(coreerrors.NotFound, "rtmpingest.authorize", "room not found")
	}
	if room.Status == RoomBanned || room.Status == RoomPending {
		return nil, coreerrors.New(coreerrors.Authorization, "rtmpingest.authorize", fmt.Sprintf("room status %q does not permit publishing", room.Status))
	}

	claims, err := s.verifier.Verify(attempt.Token, attempt.AppName)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.Authentication, "rtmpingest.authorize", err)
	}

	user, ok, err := s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.Internal, "rtmpingest.authorize", err)
	}
	if !ok || user.Status != UserActive {
		return nil, coreerrors.New(coreerrors.Authorization, "rtmpingest.authorize", "user is not active")
	}

	med, ok, err := s.media.GetMedia(ctx, attempt.AppName, claims.MediaID)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.Internal, "rtmpingest.authorize", err)
	}
	if !ok || med.RoomID != attempt.AppName {
		return nil, coreerrors.New(coreerrors.NotFound, "rtmpingest.authorize", "media does not belong to this room")
	}

	authorized := user.IsAdmin || room.CreatorID == claims.UserID || room.Admins[claims.UserID] || med.CreatorID == claims.UserID
	if !authorized {
		return nil, coreerrors.New(coreerrors.Authorization, "rtmpingest.authorize", "not authorized to publish to this media")
	}

	return claims, nil
}

// Publish runs spec §4.8 steps 7-8: the atomic registry claim, stream
// tracking, TTL refresher, hub publish, and StreamStarted emission.
func (s *Service) Publish(ctx context.Context, claims *PublishClaims) (streamhub.Identifier, error) {
	id := streamhub.Identifier{App: claims.RoomID, Stream: claims.MediaID}

	_, ok, err := s.registry.TryRegister(ctx, claims.RoomID, claims.MediaID, s.nodeID, claims.UserID)
	if err != nil {
		return id, coreerrors.Wrap(coreerrors.Internal, "rtmpingest.publish", err)
	}
	if !ok {
		return id, coreerrors.New(coreerrors.PublisherExists, "rtmpingest.publish", "another publisher is active")
	}

	key := StreamKey{UserID: claims.UserID, RoomID: claims.RoomID, MediaID: claims.MediaID}
	s.tracker.Insert(id, key)
	s.hub.Publish(id, streamhub.OriginLocal)
	s.startRefresher(id, key)

	if s.emit != nil {
		s.emit(events.Event{Type: events.TypeStreamStarted, TS: time.Now(), RoomID: claims.RoomID, MediaID: claims.MediaID, UserID: claims.UserID})
	}
	return id, nil
}

// Unpublish runs spec §4.8's unpublish path: resolve the session, stop the
// refresher, unregister, tear down the hub bucket, and emit StreamStopped.
func (s *Service) Unpublish(ctx context.Context, id streamhub.Identifier) {
	key, ok := s.tracker.Remove(id)
	if !ok {
		return
	}
	s.stopRefresher(id)
	if err := s.registry.Unregister(ctx, key.RoomID, key.MediaID); err != nil {
		logging.Warn(ctx, "failed to unregister publisher on unpublish", zap.Error(err), zap.String("room_id", key.RoomID), zap.String("media_id", key.MediaID))
	}
	s.hub.Unpublish(id)

	if s.emit != nil {
		s.emit(events.Event{Type: events.TypeStreamStopped, TS: time.Now(), RoomID: key.RoomID, MediaID: key.MediaID, UserID: key.UserID})
	}
}

// Tracker exposes the Service's StreamTracker so collaborators (C13's kick
// listener) can resolve a (room, media) pair to a local RTMP identifier.
func (s *Service) Tracker() *StreamTracker {
	return s.tracker
}

// RejectPull unconditionally refuses an inbound RTMP play request — viewers
// must use HTTP-FLV or HLS (spec §4.8).
func (s *Service) RejectPull(_ context.Context, _ streamhub.Identifier) error {
	return coreerrors.New(coreerrors.InvalidInput, "rtmpingest.play", "RTMP pull is not supported; use HTTP-FLV or HLS")
}

func (s *Service) startRefresher(id streamhub.Identifier, key StreamKey) {
	ctx, cancel := context.WithCancel(context.Background())
	s.refreshers[id] = cancel
	go s.refreshLoop(ctx, id, key)
}

func (s *Service) stopRefresher(id streamhub.Identifier) {
	if cancel, ok := s.refreshers[id]; ok {
		cancel()
		delete(s.refreshers, id)
	}
}

// refreshLoop renews the publisher's registry TTL every ttlRefreshInterval,
// making up to maxHeartbeatRetries refresh attempts per tick, with
// exponential backoff between them (100ms, then 200ms), before giving up —
// grounded on the original implementation's
// publisher heartbeat loop (MAX_HEARTBEAT_RETRIES=3, 100ms base delay).
// Giving up does not itself close the RTMP session; the session ends either
// by client disconnect or by the record's server-side TTL expiry letting a
// successor claim a higher epoch (spec §4.7 failure model).
func (s *Service) refreshLoop(ctx context.Context, id streamhub.Identifier, key StreamKey) {
	ticker := time.NewTicker(ttlRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.refreshWithRetry(ctx, key) {
				logging.Warn(ctx, "publisher heartbeat exhausted retries, publisher may be lost",
					zap.String("room_id", key.RoomID), zap.String("media_id", key.MediaID))
				return
			}
		}
	}
}

func (s *Service) refreshWithRetry(ctx context.Context, key StreamKey) bool {
	for attempt := 0; attempt < maxHeartbeatRetries; attempt++ {
		err := s.registry.RefreshTTL(ctx, key.RoomID, key.MediaID, key.UserID)
		if err == nil {
			return true
		}
		if attempt < maxHeartbeatRetries-1 {
			delay := heartbeatRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
	}
	return false
}
