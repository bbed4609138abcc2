// Package fanout implements the in-process room event hub (C2): it maps
// room_id to the set of local subscribers and delivers events to them over
// per-subscriber channels. Grounded on the teacher's session/room.go
// broadcast loop — non-blocking per-client send, failed sends collected and
// cleaned up after the loop rather than mutating the map mid-iteration.
package fanout

import (
	"sync"

	"github.com/synctv-org/synctv-core/internal/events"
	"github.com/synctv-org/synctv-core/internal/metrics"
)

// ConnectionID identifies one subscription.
type ConnectionID string

type subscriber struct {
	connID ConnectionID
	userID string
	ch     chan events.Event
}

type roomBucket struct {
	mu   sync.RWMutex
	subs map[ConnectionID]*subscriber
}

// Hub is the room fanout hub. Zero value is not usable; use New.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*roomBucket

	connMu sync.RWMutex
	conns  map[ConnectionID]connLocation

	chanBuffer int
}

type connLocation struct {
	room string
	user string
}

// New builds an empty Hub. chanBuffer sizes each subscriber's delivery
// channel; 0 yields an unbuffered channel (not recommended — broadcast never
// blocks, so any subscriber not already waiting on a receive counts as full
// and is unsubscribed).
func New(chanBuffer int) *Hub {
	return &Hub{
		rooms:      make(map[string]*roomBucket),
		conns:      make(map[ConnectionID]connLocation),
		chanBuffer: chanBuffer,
	}
}

// Subscribe creates a delivery channel for (room, user) and registers it.
// The caller owns draining the returned channel until Unsubscribe.
func (h *Hub) Subscribe(room, user string, connID ConnectionID) <-chan events.Event {
	sub := &subscriber{connID: connID, userID: user, ch: make(chan events.Event, h.chanBuffer)}

	h.mu.Lock()
	b, ok := h.rooms[room]
	if !ok {
		b = &roomBucket{subs: make(map[ConnectionID]*subscriber)}
		h.rooms[room] = b
		metrics.RoomsActive.Inc()
	}
	h.mu.Unlock()

	b.mu.Lock()
	b.subs[connID] = sub
	count := len(b.subs)
	b.mu.Unlock()
	metrics.RoomSubscribers.WithLabelValues(room).Set(float64(count))

	h.connMu.Lock()
	h.conns[connID] = connLocation{room: room, user: user}
	h.connMu.Unlock()

	return sub.ch
}

// Unsubscribe removes conn from its room bucket, closing its channel and
// deleting the room bucket if it becomes empty (I3).
func (h *Hub) Unsubscribe(connID ConnectionID) {
	h.connMu.Lock()
	loc, ok := h.conns[connID]
	delete(h.conns, connID)
	h.connMu.Unlock()
	if !ok {
		return
	}

	h.mu.RLock()
	b, ok := h.rooms[loc.room]
	h.mu.RUnlock()
	if !ok {
		return
	}

	b.mu.Lock()
	sub, ok := b.subs[connID]
	if ok {
		delete(b.subs, connID)
		close(sub.ch)
	}
	empty := len(b.subs) == 0
	remaining := len(b.subs)
	b.mu.Unlock()
	metrics.RoomSubscribers.WithLabelValues(loc.room).Set(float64(remaining))

	if empty {
		h.mu.Lock()
		if cur, ok := h.rooms[loc.room]; ok && cur == b {
			cur.mu.RLock()
			stillEmpty := len(cur.subs) == 0
			cur.mu.RUnlock()
			if stillEmpty {
				delete(h.rooms, loc.room)
				metrics.RoomsActive.Dec()
			}
		}
		h.mu.Unlock()
	}
}

// Broadcast delivers event to every subscriber of room and returns the
// number of subscribers it was successfully handed to. Subscribers whose
// channel is full (send would block) are collected and unsubscribed after
// the loop completes, never mid-iteration.
func (h *Hub) Broadcast(room string, event events.Event) int {
	h.mu.RLock()
	b, ok := h.rooms[room]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	b.mu.RLock()
	snapshot := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		snapshot = append(snapshot, s)
	}
	b.mu.RUnlock()

	delivered := 0
	var failed []ConnectionID
	for _, s := range snapshot {
		select {
		case s.ch <- event:
			delivered++
		default:
			failed = append(failed, s.connID)
		}
	}
	for _, connID := range failed {
		h.Unsubscribe(connID)
	}
	metrics.EventsBroadcast.WithLabelValues(string(event.Type)).Inc()
	return delivered
}

// BroadcastToUser delivers event only to subscribers of room matching user.
func (h *Hub) BroadcastToUser(room, user string, event events.Event) int {
	h.mu.RLock()
	b, ok := h.rooms[room]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	b.mu.RLock()
	var snapshot []*subscriber
	for _, s := range b.subs {
		if s.userID == user {
			snapshot = append(snapshot, s)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	var failed []ConnectionID
	for _, s := range snapshot {
		select {
		case s.ch <- event:
			delivered++
		default:
			failed = append(failed, s.connID)
		}
	}
	for _, connID := range failed {
		h.Unsubscribe(connID)
	}
	return delivered
}

func (h *Hub) SubscriberCount(room string) int {
	h.mu.RLock()
	b, ok := h.rooms[room]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ConnectionCount() int {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	return len(h.conns)
}

// GetRoomSubscribers returns the user IDs currently subscribed to room.
func (h *Hub) GetRoomSubscribers(room string) []string {
	h.mu.RLock()
	b, ok := h.rooms[room]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	users := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		users = append(users, s.userID)
	}
	return users
}
