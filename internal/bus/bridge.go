package bus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/dedup"
	"github.com/synctv-org/synctv-core/internal/events"
	"github.com/synctv-org/synctv-core/internal/fanout"
	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/metrics"
	"github.com/synctv-org/synctv-core/internal/ratelimit"
)

const publishQueueCapacity = 4096

// PermissionInvalidator is the optional collaborator notified when a
// permission_changed or room_settings_changed event is received from a
// peer, so the local permission cache can be purged.
type PermissionInvalidator interface {
	InvalidateRoomPermission(ctx context.Context, roomID string)
	InvalidateUserPermission(ctx context.Context, roomID, userID string)
}

// BroadcastResult reports what a Bridge.Broadcast call actually did.
type BroadcastResult struct {
	LocalSent int
	RedisSent bool
}

// Bridge is the pub/sub bridge (C3): dedup → local fanout → bounded publish
// queue → single-writer Redis publish; and the mirror receive path.
type Bridge struct {
	nodeID  string
	channel string

	hub         *fanout.Hub
	dedup       *dedup.Cache
	perm        PermissionInvalidator
	chatLimiter *ratelimit.ChatLimiter

	redis *redisService

	queue chan events.Event

	adminMu  sync.RWMutex
	adminSub []chan events.Event

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Config configures a Bridge.
type Config struct {
	NodeID        string
	RedisAddr     string
	RedisPassword string
	KeyPrefix     string
	DedupWindow   time.Duration
	DedupCleanup  time.Duration

	// RateLimitChat is a ulule/limiter rate string (e.g. "5-S") bounding
	// chat_message broadcasts per (room, user). Empty disables the gate.
	RateLimitChat string
}

// New constructs a Bridge. If RedisAddr is empty, the bridge runs in
// single-node mode: Broadcast still fans out locally but never touches
// Redis, matching the teacher's nil-safe Service methods.
func New(cfg Config, hub *fanout.Hub, perm PermissionInvalidator) (*Bridge, error) {
	var svc *redisService
	if cfg.RedisAddr != "" {
		var err error
		svc, err = newRedisService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "synctv"
	}

	var chatLimiter *ratelimit.ChatLimiter
	if cfg.RateLimitChat != "" {
		var err error
		chatLimiter, err = ratelimit.New(cfg.RateLimitChat, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
	}

	b := &Bridge{
		nodeID:      cfg.NodeID,
		channel:     prefix + ":events",
		hub:         hub,
		dedup:       dedup.New(cfg.DedupWindow, cfg.DedupCleanup),
		perm:        perm,
		chatLimiter: chatLimiter,
		redis:       svc,
		queue:       make(chan events.Event, publishQueueCapacity),
		stopCh:      make(chan struct{}),
	}

	b.wg.Add(1)
	go b.publishLoop()

	if svc != nil {
		b.wg.Add(1)
		go b.receiveLoop()
	}

	return b, nil
}

// Broadcast runs an event through dedup, fans it out to local subscribers
// of its room (if any), and enqueues it for publication to peers.
func (b *Bridge) Broadcast(event events.Event) BroadcastResult {
	if event.Type == events.TypeChatMessage && !b.chatLimiter.Allow(context.Background(), event.RoomID, event.UserID) {
		return BroadcastResult{}
	}

	if !b.dedup.ShouldProcess(event.DedupKey()) {
		return BroadcastResult{}
	}

	local := 0
	if event.HasRoom() {
		local = b.hub.Broadcast(event.RoomID, event)
	}
	if event.Type == events.TypeKickPublisher {
		b.fanAdmin(event)
	}

	if b.redis == nil {
		return BroadcastResult{LocalSent: local, RedisSent: false}
	}

	select {
	case b.queue <- event:
		metrics.PublishQueueDepth.Set(float64(len(b.queue)))
		return BroadcastResult{LocalSent: local, RedisSent: true}
	default:
		metrics.PublishQueueDropped.WithLabelValues("queue_full").Inc()
		logging.Warn(context.Background(), "publish queue full, dropping event", zap.String("type", string(event.Type)))
		return BroadcastResult{LocalSent: local, RedisSent: false}
	}
}

// Subscribe is a thin passthrough to the fanout hub.
func (b *Bridge) Subscribe(room, user string, connID fanout.ConnectionID) <-chan events.Event {
	return b.hub.Subscribe(room, user, connID)
}

func (b *Bridge) Unsubscribe(connID fanout.ConnectionID) {
	b.hub.Unsubscribe(connID)
}

// SubscribeAdminEvents returns a channel fed kick_publisher and other admin
// events, independent of room subscription — e.g. an RTMP ingest monitor.
func (b *Bridge) SubscribeAdminEvents(buffer int) <-chan events.Event {
	ch := make(chan events.Event, buffer)
	b.adminMu.Lock()
	b.adminSub = append(b.adminSub, ch)
	b.adminMu.Unlock()
	return ch
}

func (b *Bridge) fanAdmin(event events.Event) {
	b.adminMu.RLock()
	defer b.adminMu.RUnlock()
	for _, ch := range b.adminSub {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Bridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case event := <-b.queue:
			metrics.PublishQueueDepth.Set(float64(len(b.queue)))
			b.publishWithRetry(event)
		}
	}
}

func (b *Bridge) publishWithRetry(event events.Event) {
	if b.redis == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal event", zap.Error(err))
		return
	}
	env := envelope{OriginNode: b.nodeID, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal envelope", zap.Error(err))
		return
	}

	op := func() (struct{}, error) {
		err := b.redis.publish(context.Background(), b.channel, data)
		if err != nil && isTransient(err) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(context.Background(), op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		logging.Error(context.Background(), "redis publish failed after retries", zap.Error(err), zap.String("event_type", string(event.Type)))
	}
}

func (b *Bridge) receiveLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithCancel(context.Background())
		pubsub := b.redis.subscribe(ctx, b.channel)
		if pubsub == nil {
			cancel()
			return
		}

		ch := pubsub.Channel()
		done := false
		for !done {
			select {
			case <-b.stopCh:
				pubsub.Close()
				cancel()
				return
			case msg, ok := <-ch:
				if !ok {
					done = true
					break
				}
				b.handleMessage(msg.Payload)
			}
		}
		pubsub.Close()
		cancel()

		select {
		case <-b.stopCh:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (b *Bridge) handleMessage(raw string) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logging.Error(context.Background(), "failed to unmarshal envelope", zap.Error(err))
		return
	}
	if env.OriginNode == b.nodeID {
		return // self-echo
	}

	var event events.Event
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		logging.Error(context.Background(), "failed to unmarshal event payload", zap.Error(err))
		return
	}

	if !b.dedup.ShouldProcess(event.DedupKey()) {
		metrics.EventsDeduped.WithLabelValues(string(event.Type)).Inc()
		return
	}

	if event.HasRoom() {
		b.hub.Broadcast(event.RoomID, event)
	}

	switch event.Type {
	case events.TypePermissionChanged:
		if b.perm != nil {
			b.perm.InvalidateUserPermission(context.Background(), event.RoomID, event.TargetUserID)
		}
	case events.TypeRoomSettingsChanged:
		if b.perm != nil {
			b.perm.InvalidateRoomPermission(context.Background(), event.RoomID)
		}
	case events.TypeKickPublisher:
		b.fanAdmin(event)
	}
}

// Shutdown stops the publish and receive loops and waits for them to exit.
func (b *Bridge) Shutdown(ctx context.Context) error {
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
	if err := b.chatLimiter.Close(); err != nil {
		logging.Warn(context.Background(), "failed to close chat rate limiter redis client", zap.Error(err))
	}
	if b.redis != nil {
		return b.redis.close()
	}
	return nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timed out", "timeout", "connection reset", "connection refused", "connection aborted", "broken pipe", "unexpected eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
