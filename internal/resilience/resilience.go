// Package resilience provides the timeout, retry, and circuit breaker
// primitives (C15) shared by every external-service call. Circuit breaking
// is github.com/sony/gobreaker (the teacher's choice in bus/redis.go and
// pkg/sfu/client.go). For retry the package provides the configuration,
// delay calculation and transient-error classification only: it has no
// retry loop of its own and does not use github.com/cenkalti/backoff/v5.
package resilience

import (
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/synctv-org/synctv-core/internal/metrics"
)

// TimeoutConfig holds the default per-dependency timeouts from spec §4.15.
type TimeoutConfig struct {
	DBQuery time.Duration
	Redis   time.Duration
	HTTP    time.Duration
	GRPC    time.Duration
}

// DefaultTimeouts matches the original implementation's constants exactly
// (synctv-core/src/resilience.rs): db=30s, redis=5s, http=30s, grpc=30s.
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		DBQuery: 30 * time.Second,
		Redis:   5 * time.Second,
		HTTP:    30 * time.Second,
		GRPC:    30 * time.Second,
	}
}

// RetryConfig holds exponential-backoff retry parameters.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry matches the original's RetryConfig::default(): 3 attempts,
// 100ms base, 5000ms cap.
func DefaultRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// CalculateDelay returns the exponential-backoff delay before retry attempt
// number attempt (1-based), capped at MaxDelay.
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 20 {
		shift = 20 // avoid overflow; MaxDelay caps well before this matters
	}
	delay := c.BaseDelay * time.Duration(1<<uint(shift))
	if delay > c.MaxDelay || delay <= 0 {
		delay = c.MaxDelay
	}
	return delay
}

// transientSubstrings are checked against an error's lower-cased message,
// which also covers wrapped errors (gRPC status, Redis client errors).
// Classification is by message text only; error types are not inspected.
var transientSubstrings = []string{
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"connection aborted",
	"broken pipe",
	"unexpected eof",
}

// IsTransient classifies err per spec §4.15: true for the error kinds that
// should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether a failed attempt should be retried: err is
// transient and attempt has not yet reached maxAttempts.
func ShouldRetry(err error, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	return IsTransient(err)
}

// CircuitBreakerConfig configures NewBreaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
}

// DefaultCircuitBreaker matches the original's CircuitBreakerConfig::default:
// 5 consecutive failures to open, 2 successes in half-open to close, 60s
// open-state timeout before probing again.
func DefaultCircuitBreaker(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{Name: name, FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second}
}

// NewBreaker builds a gobreaker.CircuitBreaker wired to export its state as
// a Prometheus gauge, the same OnStateChange pattern as the teacher's
// bus.NewService.
func NewBreaker(cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
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
			metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}
