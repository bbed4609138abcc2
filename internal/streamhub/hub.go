package streamhub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
)

// Subscriber receives frames from a publisher. TrySend must never block;
// a full buffer should be treated as backpressure (drop + log), matching
// spec §4.10's HTTP-FLV try_send behavior.
type Subscriber interface {
	TrySend(Frame) bool
	ID() string
}

type publisherRecord struct {
	mu          sync.RWMutex
	origin      Origin
	subs        map[string]Subscriber
	videoSeqHdr *Frame // cached AVC sequence header for late joiners
	audioSeqHdr *Frame // cached AAC sequence header for late joiners
}

// Hub is the in-process stream hub (C10). One Hub instance is shared by an
// entire node; a stream is created by Publish, and Subscribe to a stream
// that has not been published fails.
type Hub struct {
	mu        sync.RWMutex
	streams   map[string]*publisherRecord
	onFrame   []func(Identifier, Frame)
	onRemoved []func(Identifier)
}

func New() *Hub {
	return &Hub{streams: make(map[string]*publisherRecord)}
}

// OnFrame registers a callback invoked for every frame published to any
// stream — used by the GOP cache (C9) to observe the same stream of frames
// without the hub needing to know about GOP caching directly.
func (h *Hub) OnFrame(fn func(Identifier, Frame)) {
	h.mu.Lock()
	h.onFrame = append(h.onFrame, fn)
	h.mu.Unlock()
}

// OnStreamRemoved registers a callback invoked when a stream's publisher
// bucket is torn down (Unpublish with zero remaining subscribers is NOT
// torn down automatically — callers drive removal explicitly via Unpublish).
func (h *Hub) OnStreamRemoved(fn func(Identifier)) {
	h.mu.Lock()
	h.onRemoved = append(h.onRemoved, fn)
	h.mu.Unlock()
}

// Publish registers id as having an active publisher of the given origin.
// Double-checked locking: the fast path under RLock returns the existing
// record if present; only a genuinely new stream takes the write lock.
func (h *Hub) Publish(id Identifier, origin Origin) *publisherRecord {
	key := id.Key()

	h.mu.RLock()
	if rec, ok := h.streams[key]; ok {
		h.mu.RUnlock()
		return rec
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.streams[key]; ok {
		return rec
	}
	rec := &publisherRecord{origin: origin, subs: make(map[string]Subscriber)}
	h.streams[key] = rec
	return rec
}

// Unpublish tears down id's publisher bucket, notifying subscribers are on
// their own to notice the closed feed (frames simply stop arriving — the
// FLV/HLS sessions' own timeout paths handle that per spec §4.10).
func (h *Hub) Unpublish(id Identifier) {
	key := id.Key()
	h.mu.Lock()
	_, existed := h.streams[key]
	delete(h.streams, key)
	h.mu.Unlock()

	if existed {
		for _, fn := range h.onRemoved {
			fn(id)
		}
	}
}

// Subscribe adds sub as a receiver of id's frames. Returns false if id has
// no active publisher.
func (h *Hub) Subscribe(id Identifier, sub Subscriber) bool {
	h.mu.RLock()
	rec, ok := h.streams[id.Key()]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	rec.mu.Lock()
	rec.subs[sub.ID()] = sub
	seqHdrs := []*Frame{rec.videoSeqHdr, rec.audioSeqHdr}
	rec.mu.Unlock()

	for _, f := range seqHdrs {
		if f != nil {
			sub.TrySend(*f)
		}
	}
	return true
}

// Unsubscribe removes sub from id's publisher bucket.
func (h *Hub) Unsubscribe(id Identifier, sub Subscriber) {
	h.mu.RLock()
	rec, ok := h.streams[id.Key()]
	h.mu.RUnlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	delete(rec.subs, sub.ID())
	rec.mu.Unlock()
}

// SubscriberCount returns the current subscriber count for id.
func (h *Hub) SubscriberCount(id Identifier) int {
	h.mu.RLock()
	rec, ok := h.streams[id.Key()]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return len(rec.subs)
}

// Origin reports the origin of id's current publisher, if any.
func (h *Hub) Origin(id Identifier) (Origin, bool) {
	h.mu.RLock()
	rec, ok := h.streams[id.Key()]
	h.mu.RUnlock()
	if !ok {
		return 0, false
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.origin, true
}

// BroadcastFrame delivers frame to every subscriber of id. Subscribers are
// snapshotted under a read lock before sending so slow I/O never holds the
// bucket lock, mirroring the teacher's registry.go BroadcastMessage.
// Sequence headers (the first keyframe-adjacent AVC/AAC config frame) are
// cached for late joiners.
func (h *Hub) BroadcastFrame(id Identifier, frame Frame) {
	h.mu.RLock()
	rec, ok := h.streams[id.Key()]
	fnsFrame := h.onFrame
	h.mu.RUnlock()
	if !ok {
		return
	}

	if frame.IsSequenceHeader {
		rec.mu.Lock()
		f := frame
		if frame.Kind == FrameVideo {
			rec.videoSeqHdr = &f
		} else {
			rec.audioSeqHdr = &f
		}
		rec.mu.Unlock()
	}

	rec.mu.RLock()
	subs := make([]Subscriber, 0, len(rec.subs))
	for _, s := range rec.subs {
		subs = append(subs, s)
	}
	rec.mu.RUnlock()

	for _, sub := range subs {
		if !sub.TrySend(frame) {
			logging.Warn(context.Background(), "dropped frame for slow subscriber", zap.String("stream_key", id.Key()))
		}
	}

	for _, fn := range fnsFrame {
		fn(id, frame)
	}
}
