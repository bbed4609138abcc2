// Package pull implements the pull-stream manager (C11): lazy cross-node
// RTMP pulls created on first local viewer demand rather than on every
// remote publish event. Grounded on
// original_source/synctv-stream/src/streaming/pull_manager.rs's
// PullStreamManager/PullStream pair — the double-checked-locking
// get_or_create, the RAII-style subscriber count, and the idle-cleanup
// ticker are all adapted from there into Go's mutex + goroutine idiom.
package pull

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	coreerrors "github.com/synctv-org/synctv-core/internal/errors"
	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/publisher"
	"github.com/synctv-org/synctv-core/internal/shardmap"
	"github.com/synctv-org/synctv-core/internal/streamhub"
)

// Puller is the gRPC collaborator that actually pulls frames from a remote
// publisher node and injects them into the local hub. Expressed as an
// interface so this package never constructs a grpc.Server/ClientConn
// itself — wiring a concrete gRPC client is left to cmd/synctv-node.
type Puller interface {
	// Run pulls frames for (roomID, mediaID) from the node at grpcAddr and
	// feeds them to onFrame until ctx is canceled or the remote stream ends.
	Run(ctx context.Context, roomID, mediaID, grpcAddr string, onFrame func(streamhub.Frame)) error
}

type stream struct {
	roomID, mediaID string
	identifier      streamhub.Identifier

	mu          sync.Mutex
	subscribers int
	lastActive  time.Time
	running     bool
	stopping    bool
	cancel      context.CancelFunc
}

func (s *stream) isHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.stopping
}

func (s *stream) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *stream) incrementSubscribers() {
	s.mu.Lock()
	s.subscribers++
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *stream) decrementSubscribers() {
	s.mu.Lock()
	if s.subscribers > 0 {
		s.subscribers--
	}
	s.mu.Unlock()
}

// Manager implements C11.
type Manager struct {
	hub      *streamhub.Hub
	registry *publisher.Registry
	puller   Puller
	nodeID   string

	idleTimeout   time.Duration
	checkInterval time.Duration

	streams *shardmap.Map[*stream]
	mu      sync.Map // stream key -> *sync.Mutex, the per-key creation lock
}

// New builds a Manager. idleTimeout/checkInterval default to the original
// implementation's constants (5 min / 60 s) when zero.
func New(hub *streamhub.Hub, registry *publisher.Registry, puller Puller, nodeID string, idleTimeout, checkInterval time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	if checkInterval <= 0 {
		checkInterval = 60 * time.Second
	}
	return &Manager{
		hub:           hub,
		registry:      registry,
		puller:        puller,
		nodeID:        nodeID,
		idleTimeout:   idleTimeout,
		checkInterval: checkInterval,
		streams:       shardmap.New[*stream](),
	}
}

func key(roomID, mediaID string) string {
	return roomID + ":" + mediaID
}

// Subscriber is a RAII-style guard: hold it for the viewer session's
// lifetime and call Release when done, decrementing the pull stream's
// subscriber count.
type Subscriber struct {
	m    *Manager
	s    *stream
	once sync.Once
}

func (sub *Subscriber) Release() {
	sub.once.Do(func() {
		sub.s.decrementSubscribers()
	})
}

// GetOrCreate returns a live pull stream for (roomID, mediaID), creating one
// on first demand if the publisher is on another node. Returns a Subscriber
// guard the caller must Release when done viewing.
func (m *Manager) GetOrCreate(ctx context.Context, roomID, mediaID string) (*Subscriber, error) {
	k := key(roomID, mediaID)

	if s, ok := m.streams.Get(k); ok && s.isHealthy() {
		s.incrementSubscribers()
		return &Subscriber{m: m, s: s}, nil
	}

	lockIface, _ := m.mu.LoadOrStore(k, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the creation lock (double-checked locking): another
	// goroutine may have just finished creating it.
	if s, ok := m.streams.Get(k); ok && s.isHealthy() {
		s.incrementSubscribers()
		return &Subscriber{m: m, s: s}, nil
	}
	m.streams.Delete(k) // drop stale/unhealthy entry, if any

	info, ok, err := m.registry.Get(ctx, roomID, mediaID)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.Internal, "pull.get_or_create", err)
	}
	if !ok {
		return nil, coreerrors.New(coreerrors.NoPublisher, "pull.get_or_create", fmt.Sprintf("no publisher for %s/%s", roomID, mediaID))
	}

	s := &stream{
		roomID:     roomID,
		mediaID:    mediaID,
		identifier: streamhub.Identifier{App: roomID, Stream: mediaID},
		lastActive: time.Now(),
	}

	pullCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	m.hub.Publish(s.identifier, streamhub.OriginPulled)

	go m.runPuller(pullCtx, s, info.GRPCAddr)

	s.incrementSubscribers()
	m.streams.Set(k, s)
	go m.cleanupLoop(k, s)

	logging.Info(ctx, "pull stream created", zap.String("room_id", roomID), zap.String("media_id", mediaID), zap.String("publisher_node", info.NodeID))
	return &Subscriber{m: m, s: s}, nil
}

func (m *Manager) runPuller(ctx context.Context, s *stream, grpcAddr string) {
	err := m.puller.Run(ctx, s.roomID, s.mediaID, grpcAddr, func(f streamhub.Frame) {
		s.touch()
		m.hub.BroadcastFrame(s.identifier, f)
	})
	if err != nil && ctx.Err() == nil {
		logging.Warn(context.Background(), "pull stream puller exited with error", zap.Error(err), zap.String("room_id", s.roomID), zap.String("media_id", s.mediaID))
	}
}

func (m *Manager) stop(s *stream) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.hub.Unpublish(s.identifier)
}

// cleanupLoop implements the mark-stopping + re-check protocol from spec
// §4.11: every checkInterval, if the stream has had zero subscribers for
// longer than idleTimeout, mark it stopping and re-verify the subscriber
// count before actually tearing it down, so a subscriber that arrives during
// the check is not lost to a race.
func (m *Manager) cleanupLoop(k string, s *stream) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		idle := s.subscribers == 0 && time.Since(s.lastActive) > m.idleTimeout
		if !idle {
			s.mu.Unlock()
			continue
		}
		s.stopping = true
		s.mu.Unlock()

		// Re-check: a subscriber may have arrived between the idle check and
		// marking stopping.
		s.mu.Lock()
		stillIdle := s.subscribers == 0
		if !stillIdle {
			s.stopping = false
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		m.stop(s)
		m.streams.DeleteIf(k, func(v *stream) bool { return v == s })
		return
	}
}

// Stats reports subscriber count and idle duration for a tracked stream.
func (m *Manager) Stats(roomID, mediaID string) (subscribers int, idleFor time.Duration, ok bool) {
	s, found := m.streams.Get(key(roomID, mediaID))
	if !found {
		return 0, 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribers, time.Since(s.lastActive), true
}
