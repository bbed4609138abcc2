package rtmpingest

import (
	"sync"

	"github.com/synctv-org/synctv-core/internal/streamhub"
)

// StreamKey identifies a publishing session by (user, room, media).
type StreamKey struct {
	UserID  string
	RoomID  string
	MediaID string
}

// StreamTracker maintains the bidirectional mapping between a publishing
// session's (user, room, media) identity and the RTMP (app_name, stream_name)
// identifier the hub uses. LookupByRTMP and LookupBySession resolve either
// direction in O(1) (spec §4.8 step 8, §4.13); IdentifiersForUser,
// IdentifiersForRoom and IdentifierForMedia scan every tracked entry.
type StreamTracker struct {
	mu        sync.RWMutex
	byRTMP    map[streamhub.Identifier]StreamKey
	bySession map[StreamKey]streamhub.Identifier
}

func NewStreamTracker() *StreamTracker {
	return &StreamTracker{
		byRTMP:    make(map[streamhub.Identifier]StreamKey),
		bySession: make(map[StreamKey]streamhub.Identifier),
	}
}

// Insert records both directions of the mapping.
func (t *StreamTracker) Insert(id streamhub.Identifier, key StreamKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byRTMP[id] = key
	t.bySession[key] = id
}

// Remove deletes both directions of the mapping for the RTMP identifier id
// and returns the session key it held.
func (t *StreamTracker) Remove(id streamhub.Identifier) (StreamKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.byRTMP[id]
	if !ok {
		return StreamKey{}, false
	}
	delete(t.byRTMP, id)
	delete(t.bySession, key)
	return key, true
}

// LookupByRTMP resolves (app_name, stream_name) -> (user, room, media).
func (t *StreamTracker) LookupByRTMP(id streamhub.Identifier) (StreamKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.byRTMP[id]
	return key, ok
}

// LookupBySession resolves (user, room, media) -> (app_name, stream_name).
func (t *StreamTracker) LookupBySession(key StreamKey) (streamhub.Identifier, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.bySession[key]
	return id, ok
}

// IdentifiersForUser returns every RTMP identifier currently tracked for
// userID, used by kick-on-ban to find local sessions to terminate.
func (t *StreamTracker) IdentifiersForUser(userID string) []streamhub.Identifier {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []streamhub.Identifier
	for id, key := range t.byRTMP {
		if key.UserID == userID {
			out = append(out, id)
		}
	}
	return out
}

// IdentifiersForRoom returns every RTMP identifier currently tracked for
// roomID, used by kick-on-delete-room.
func (t *StreamTracker) IdentifiersForRoom(roomID string) []streamhub.Identifier {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []streamhub.Identifier
	for id, key := range t.byRTMP {
		if key.RoomID == roomID {
			out = append(out, id)
		}
	}
	return out
}

// IdentifierForMedia returns the RTMP identifier tracked for (room, media),
// if any, used by kick-on-delete-media.
func (t *StreamTracker) IdentifierForMedia(roomID, mediaID string) (streamhub.Identifier, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, key := range t.byRTMP {
		if key.RoomID == roomID && key.MediaID == mediaID {
			return id, true
		}
	}
	return streamhub.Identifier{}, false
}
