// Package events defines the room event sum type and the playback state
// that rides inside it. Room events are a single JSON-tagged struct rather
// than an interface hierarchy: every variant shares a `type` discriminator
// and a flat set of optional fields, so serialization round-trips exactly
// and callers match on Type instead of a type switch over implementations.
package events

import (
	"strconv"
	"time"
)

// Type discriminates the room event variants.
type Type string

const (
	TypeChatMessage           Type = "chat_message"
	TypePlaybackStateChanged  Type = "playback_state_changed"
	TypeUserJoined            Type = "user_joined"
	TypeUserLeft              Type = "user_left"
	TypeMediaAdded            Type = "media_added"
	TypeMediaRemoved          Type = "media_removed"
	TypePermissionChanged     Type = "permission_changed"
	TypeRoomSettingsChanged   Type = "room_settings_changed"
	TypeWebRTCSignaling       Type = "webrtc_signaling"
	TypeWebRTCJoin            Type = "webrtc_join"
	TypeWebRTCLeave           Type = "webrtc_leave"
	TypeSystemNotification    Type = "system_notification"
	TypeKickPublisher         Type = "kick_publisher"
	TypeStreamStarted         Type = "stream_started"
	TypeStreamStopped         Type = "stream_stopped"
	TypeRoomDeleted           Type = "room_deleted"
)

// SignalingKind enumerates webrtc_signaling sub-kinds.
type SignalingKind string

const (
	SignalingOffer        SignalingKind = "offer"
	SignalingAnswer       SignalingKind = "answer"
	SignalingICECandidate SignalingKind = "ice_candidate"
)

// NotificationLevel enumerates system_notification severities.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// PlaybackState carries the synchronized playback position for a room.
// Mutations are applied by compare-and-swap on Seq (optimistic locking).
type PlaybackState struct {
	PositionMS int64     `json:"position_ms"`
	Rate       float64   `json:"rate"`
	Paused     bool      `json:"paused"`
	Seq        uint64    `json:"seq"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Media identifies a playlist entry.
type Media struct {
	MediaID string `json:"media_id"`
	Title   string `json:"title,omitempty"`
}

// Event is the tagged room event. Only the fields relevant to Type are
// populated; the rest are left at their zero value and omitted from JSON.
type Event struct {
	Type Type      `json:"type"`
	TS   time.Time `json:"ts"`

	RoomID string `json:"room_id,omitempty"`

	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// chat_message
	Text         string `json:"text,omitempty"`
	VideoPosMS   *int64 `json:"video_position_ms,omitempty"`
	Color        string `json:"color,omitempty"`

	// playback_state_changed
	Playback *PlaybackState `json:"playback,omitempty"`

	// user_joined / permission_changed
	Permissions []string `json:"permissions,omitempty"`

	// media_added / media_removed
	Media *Media `json:"media,omitempty"`

	// permission_changed
	TargetUserID   string `json:"target_user_id,omitempty"`
	TargetUsername string `json:"target_username,omitempty"`
	ActorUserID    string `json:"actor_user_id,omitempty"`
	ActorUsername  string `json:"actor_username,omitempty"`

	// webrtc_signaling
	SignalingKind SignalingKind `json:"signaling_kind,omitempty"`
	From          string        `json:"from,omitempty"`
	To            string        `json:"to,omitempty"`
	Data          any           `json:"data,omitempty"`

	// webrtc_join / webrtc_leave
	ConnectionID string `json:"connection_id,omitempty"`

	// system_notification
	Level NotificationLevel `json:"level,omitempty"`

	// kick_publisher
	MediaID string `json:"media_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// HasRoom reports whether this variant carries a room_id. Notifications
// don't, and the fanout hub skips them rather than broadcasting to "".
func (e Event) HasRoom() bool {
	return e.RoomID != "" && e.Type != TypeSystemNotification
}

// DedupKey derives the key used by the dedup cache (C1). User-initiated
// events key on (type, room, user, second); system notifications key on
// (type, text, minute) since they have no room or user.
func (e Event) DedupKey() string {
	switch e.Type {
	case TypeSystemNotification:
		return string(e.Type) + "|" + hashText(e.Text) + "|" + e.TS.UTC().Truncate(time.Minute).Format(time.RFC3339)
	default:
		return string(e.Type) + "|" + e.RoomID + "|" + e.UserID + "|" + e.TS.UTC().Truncate(time.Second).Format(time.RFC3339)
	}
}

func hashText(s string) string {
	// FNV-1a, good enough for a dedup key component — not a security hash.
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return strconv.FormatUint(h, 36)
}
