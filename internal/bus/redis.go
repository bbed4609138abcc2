// Package bus implements the pub/sub bridge (C3): it serializes room events,
// publishes them to a shared Redis channel, consumes the same channel,
// and routes received events through the dedup cache into the fanout hub.
//
// redis.go is the low-level Redis wrapper, adapted directly from the
// teacher's internal/v1/bus/redis.go: a gobreaker-wrapped *redis.Client,
// nil-safe methods (single-node mode when Redis is absent), and an open
// breaker reported as errOpen, which the bridge's publish path treats as a
// permanent (non-retried) failure and logs.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/metrics"
)

// envelope is the wire format published to the shared channel: origin_node
// lets every consumer suppress its own echo (spec §6 event serialization).
type envelope struct {
	OriginNode string          `json:"origin_node"`
	Payload    json.RawMessage `json:"payload"`
}

// redisService wraps a *redis.Client behind a circuit breaker, exactly the
// way the teacher wraps its video-conferencing Redis client.
type redisService struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

func newRedisService(addr, password string) (*redisService, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis_bus",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis_bus").Set(v)
		},
	}

	logging.Info(context.Background(), "connected to redis pub/sub bus", zap.String("addr", addr))
	return &redisService{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

func (s *redisService) publish(ctx context.Context, channel string, data []byte) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Publish(ctx, channel, data).Err()
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis_bus").Inc()
		return errOpen
	}
	return err
}

func (s *redisService) subscribe(ctx context.Context, channel string) *redis.PubSub {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Subscribe(ctx, channel)
}

func (s *redisService) close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var errOpen = fmt.Errorf("redis_bus: circuit breaker open")
