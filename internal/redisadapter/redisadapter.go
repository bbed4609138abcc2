// Package redisadapter wraps a *redis.Client to satisfy the small
// Publish/Subscribe/Close surface internal/invalidation declares as its
// unexported client interface, so the wiring entrypoint can hand a plain
// *redis.Client to the invalidation bus.
package redisadapter

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/synctv-org/synctv-core/internal/invalidation"
)

// Client adapts *redis.Client to the Publish/Subscribe/Close surface
// internal/invalidation.redisClient expects.
type Client struct {
	Raw *redis.Client
}

func New(raw *redis.Client) *Client {
	return &Client{Raw: raw}
}

func (c *Client) Publish(ctx context.Context, channel string, data []byte) error {
	return c.Raw.Publish(ctx, channel, data).Err()
}

func (c *Client) Subscribe(ctx context.Context, channel string) invalidation.MessageChannel {
	return &Subscription{pubsub: c.Raw.Subscribe(ctx, channel)}
}

func (c *Client) Close() error {
	return c.Raw.Close()
}

// Subscription adapts *redis.PubSub to invalidation.MessageChannel.
type Subscription struct {
	pubsub *redis.PubSub
}

func (s *Subscription) Messages() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range s.pubsub.Channel() {
			out <- msg.Payload
		}
	}()
	return out
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
