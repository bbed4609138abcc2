// Package ratelimit gates chat-message broadcasts per (room, user) using
// github.com/ulule/limiter/v3, the same library the teacher uses for its
// REST/WebSocket middleware. synctv-core has no REST surface of its own
// (see cmd/synctv-node's package doc), so the one consumer here is
// internal/bus.Bridge.Broadcast rather than a gin.HandlerFunc.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/metrics"
)

// ChatLimiter enforces a configured rate per (room, user) for chat_message
// events, failing open on store errors (same posture as the teacher's
// GlobalMiddleware: availability over strict enforcement).
type ChatLimiter struct {
	limiter *limiter.Limiter
	client  *redis.Client
}

// New builds a ChatLimiter from a ulule/limiter rate string (e.g. "5-S" for
// five per second). If addr is empty the limiter tracks state in local
// memory only, matching Bridge's own single-node fallback when Redis is
// absent.
func New(rate, addr, password string) (*ChatLimiter, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid chat rate limit %q: %w", rate, err)
	}

	var store limiter.Store
	var client *redis.Client
	if addr != "" {
		client = redis.NewClient(&redis.Options{Addr: addr, Password: password})
		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "synctv:ratelimit:chat"})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("chat rate limiter redis store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}

	return &ChatLimiter{limiter: limiter.New(store, r), client: client}, nil
}

// Allow reports whether a chat message from user in room is within the
// configured rate, incrementing the rate_limit_exceeded metric on reject.
// A nil receiver always allows, so callers can leave chat rate limiting
// disabled without guarding every call site.
func (c *ChatLimiter) Allow(ctx context.Context, room, user string) bool {
	if c == nil {
		return true
	}

	res, err := c.limiter.Get(ctx, room+":"+user)
	if err != nil {
		logging.Error(ctx, "chat rate limiter store failed", zap.Error(err))
		return true
	}

	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("chat_message").Inc()
		return false
	}
	return true
}

// Close releases the limiter's own Redis client, if it created one.
func (c *ChatLimiter) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
