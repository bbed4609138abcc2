// Package metrics declares every Prometheus metric exported by a synctv-core
// node. Naming convention: namespace_subsystem_name, namespace "synctv".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "room", Name: "active",
		Help: "Current number of rooms with at least one subscriber.",
	})

	RoomSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "room", Name: "subscribers",
		Help: "Number of local subscribers per room.",
	}, []string{"room_id"})

	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "bus", Name: "events_broadcast_total",
		Help: "Room events accepted by the dedup filter and fanned out.",
	}, []string{"event_type"})

	EventsDeduped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "dedup", Name: "suppressed_total",
		Help: "Events suppressed as duplicates.",
	}, []string{"event_type"})

	DedupSetSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "dedup", Name: "set_size",
		Help: "Current number of keys held in the dedup set.",
	})

	PublishQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "bus", Name: "publish_queue_depth",
		Help: "Current depth of the outbound Redis publish queue.",
	})

	PublishQueueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "bus", Name: "publish_queue_dropped_total",
		Help: "Events dropped because the publish queue was full or closed.",
	}, []string{"reason"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "cache", Name: "hits_total",
		Help: "Cache lookups satisfied from a given tier.",
	}, []string{"cache", "tier"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "cache", Name: "misses_total",
		Help: "Cache lookups that found nothing in either tier.",
	}, []string{"cache"})

	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "cache", Name: "invalidations_total",
		Help: "Cache invalidation messages processed.",
	}, []string{"kind"})

	NodesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "node", Name: "live",
		Help: "Number of peer nodes currently visible in the node registry.",
	})

	PublisherClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "publisher", Name: "claims_total",
		Help: "Publisher registration attempts, by outcome.",
	}, []string{"outcome"})

	PublisherActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "publisher", Name: "active",
		Help: "Publisher records currently held by this node.",
	})

	GOPFrameCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "gop", Name: "frame_count",
		Help: "Frames currently buffered in a stream's GOP ring.",
	}, []string{"stream_key"})

	PullStreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "pull", Name: "active",
		Help: "Cross-node pull streams currently running on this node.",
	})

	PullStreamSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "pull", Name: "subscribers",
		Help: "Local subscriber count per pull stream.",
	}, []string{"stream_key"})

	HLSSegmentsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "hls", Name: "segments_written_total",
		Help: "TS segments written to a storage backend.",
	}, []string{"backend"})

	KicksIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "kick", Name: "issued_total",
		Help: "Kick events issued, by reason.",
	}, []string{"reason"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "synctv", Subsystem: "circuit_breaker", Name: "state",
		Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "circuit_breaker", Name: "failures_total",
		Help: "Requests rejected outright by an open circuit breaker.",
	}, []string{"service"})

	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "resilience", Name: "retry_attempts_total",
		Help: "Retry attempts made for transient I/O failures.",
	}, []string{"operation"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "rate_limit", Name: "exceeded_total",
		Help: "Requests rejected by a rate limiter.",
	}, []string{"scope"})

	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synctv", Subsystem: "redis", Name: "operations_total",
		Help: "Redis operations, by outcome.",
	}, []string{"operation", "status"})

	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "synctv", Subsystem: "redis", Name: "operation_duration_seconds",
		Help:    "Redis operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
