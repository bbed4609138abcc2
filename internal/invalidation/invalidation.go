// Package invalidation implements the cache-invalidation bus (C4): a
// dedicated Redis channel carrying cache-purge messages, separate from the
// room event channel (C3) since invalidations must reach every node
// regardless of room subscription. Structurally a sibling of bus.Bridge,
// grounded on the same teacher redis.go wrapping style.
package invalidation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/metrics"
)

// Kind discriminates invalidation message variants.
type Kind string

const (
	KindUserPermission Kind = "user_permission"
	KindRoomPermission Kind = "room_permission"
	KindUser           Kind = "user"
	KindRoom           Kind = "room"
	KindAll            Kind = "all"
)

// Msg is a cache invalidation message.
type Msg struct {
	Kind   Kind   `json:"kind"`
	RoomID string `json:"room_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// Bus is the invalidation pub/sub bridge.
type Bus struct {
	channel string
	redis   redisClient

	mu   sync.RWMutex
	subs []chan Msg

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// redisClient is the minimal surface Bus needs; satisfied by
// bus's internal redis wrapper through a small adapter constructed in
// cmd/synctv-node wiring, kept here as an interface so tests can supply a
// fake without spinning up miniredis if they only care about local fanout.
type redisClient interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channel string) MessageChannel
	Close() error
}

// MessageChannel abstracts a redis.PubSub's Channel() for testability.
type MessageChannel interface {
	Messages() <-chan string
	Close() error
}

// New constructs a Bus. client may be nil for local-only mode.
func New(keyPrefix string, client redisClient) *Bus {
	prefix := keyPrefix
	if prefix == "" {
		prefix = "synctv"
	}
	b := &Bus{
		channel: prefix + ":cache:invalidation",
		redis:   client,
		stopCh:  make(chan struct{}),
	}
	if client != nil {
		b.wg.Add(1)
		go b.receiveLoop()
	}
	return b
}

// Subscribe registers a local listener for invalidation messages, whether
// they originated locally (BroadcastAll) or from a peer node.
func (b *Bus) Subscribe(buffer int) <-chan Msg {
	ch := make(chan Msg, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// BroadcastRemote publishes msg to Redis only; the caller has already
// invalidated its own L1 entry.
func (b *Bus) BroadcastRemote(ctx context.Context, msg Msg) error {
	return b.publish(ctx, msg)
}

// BroadcastAll publishes msg to Redis and fans it out to local subscribers.
func (b *Bus) BroadcastAll(ctx context.Context, msg Msg) error {
	b.fanLocal(msg)
	return b.publish(ctx, msg)
}

func (b *Bus) InvalidateUserPermission(ctx context.Context, room, user string) error {
	return b.BroadcastAll(ctx, Msg{Kind: KindUserPermission, RoomID: room, UserID: user})
}

func (b *Bus) InvalidateRoomPermission(ctx context.Context, room string) error {
	return b.BroadcastAll(ctx, Msg{Kind: KindRoomPermission, RoomID: room})
}

func (b *Bus) InvalidateUser(ctx context.Context, user string) error {
	return b.BroadcastAll(ctx, Msg{Kind: KindUser, UserID: user})
}

func (b *Bus) InvalidateRoom(ctx context.Context, room string) error {
	return b.BroadcastAll(ctx, Msg{Kind: KindRoom, RoomID: room})
}

func (b *Bus) InvalidateAll(ctx context.Context) error {
	return b.BroadcastAll(ctx, Msg{Kind: KindAll})
}

func (b *Bus) fanLocal(msg Msg) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	metrics.CacheInvalidations.WithLabelValues(string(msg.Kind)).Inc()
}

func (b *Bus) publish(ctx context.Context, msg Msg) error {
	if b.redis == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, b.channel, data)
}

func (b *Bus) receiveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithCancel(context.Background())
		sub := b.redis.Subscribe(ctx, b.channel)
		if sub == nil {
			cancel()
			return
		}

		msgs := sub.Messages()
		done := false
		for !done {
			select {
			case <-b.stopCh:
				sub.Close()
				cancel()
				return
			case raw, ok := <-msgs:
				if !ok {
					done = true
					break
				}
				var msg Msg
				if err := json.Unmarshal([]byte(raw), &msg); err != nil {
					logging.Error(context.Background(), "failed to unmarshal invalidation message", zap.Error(err))
					continue
				}
				b.fanLocal(msg)
			}
		}
		sub.Close()
		cancel()

		select {
		case <-b.stopCh:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Shutdown stops the receive loop.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}
