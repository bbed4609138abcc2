package invalidation

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter adapts a *redis.Client to the Bus's redisClient interface.
// Kept as a thin adapter (rather than depending on internal/bus) so Bus has
// no circular dependency on the room event bridge.
type RedisAdapter struct {
	Client *redis.Client
}

func (a *RedisAdapter) Publish(ctx context.Context, channel string, data []byte) error {
	return a.Client.Publish(ctx, channel, data).Err()
}

func (a *RedisAdapter) Subscribe(ctx context.Context, channel string) MessageChannel {
	return &pubsubAdapter{ps: a.Client.Subscribe(ctx, channel)}
}

func (a *RedisAdapter) Close() error {
	return a.Client.Close()
}

type pubsubAdapter struct {
	ps *redis.PubSub
}

func (p *pubsubAdapter) Messages() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range p.ps.Channel() {
			out <- msg.Payload
		}
	}()
	return out
}

func (p *pubsubAdapter) Close() error {
	return p.ps.Close()
}
