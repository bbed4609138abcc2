// Package publisher implements the publisher registry (C7): a global
// single-publisher-per-(room,media) guarantee backed by an atomic Redis
// claim, a monotonically increasing epoch counter, and TTL renewal.
//
// The atomic claim is a Lua script (go-redis redis.Script), the idiomatic
// Go way to get compare-and-set-plus-increment semantics without a
// round-trip race — grounded on the teacher's pattern of wrapping every
// Redis call through a single typed Service (bus/redis.go), generalized
// here to a script instead of a plain command.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synctv-org/synctv-core/internal/metrics"
)

// Info is the publisher record stored in Redis.
type Info struct {
	NodeID     string `json:"node_id"`
	UserID     string `json:"user_id"`
	StartedAt  int64  `json:"started_at"`
	Epoch      uint64 `json:"epoch"`
	GRPCAddr   string `json:"grpc_address,omitempty"`
	AppName    string `json:"app_name,omitempty"`
}

// Registry is the Redis-backed publisher registry.
type Registry struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func New(client *redis.Client, keyPrefix string, ttl time.Duration) *Registry {
	prefix := keyPrefix
	if prefix == "" {
		prefix = "synctv"
	}
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	return &Registry{client: client, keyPrefix: prefix, ttl: ttl}
}

func (r *Registry) recordKey(room, media string) string {
	return fmt.Sprintf("%s:publisher:%s:%s", r.keyPrefix, room, media)
}

func (r *Registry) epochKey(room, media string) string {
	return fmt.Sprintf("%s:publisher_epoch:%s:%s", r.keyPrefix, room, media)
}

// tryRegisterScript atomically: fails if the record key exists; otherwise
// increments the epoch counter and writes the record with the new epoch
// and a TTL, returning the new epoch (0 means "already claimed").
var tryRegisterScript = redis.NewScript(`
local record_key = KEYS[1]
local epoch_key = KEYS[2]
local record_val = ARGV[1]
local ttl_seconds = ARGV[2]

if redis.call("EXISTS", record_key) == 1 then
	return 0
end

local epoch = redis.call("INCR", epoch_key)
local decoded = cjson.decode(record_val)
decoded["epoch"] = epoch
redis.call("SET", record_key, cjson.encode(decoded), "EX", ttl_seconds)
return epoch
`)

// TryRegister attempts an atomic compare-and-set claim for (room, media).
// On success it returns the newly assigned epoch and true. On contention it
// returns (0, false) without error.
func (r *Registry) TryRegister(ctx context.Context, room, media, nodeID, userID string) (uint64, bool, error) {
	rec := Info{NodeID: nodeID, UserID: userID, StartedAt: time.Now().Unix(), AppName: room}
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, false, err
	}

	result, err := tryRegisterScript.Run(ctx, r.client,
		[]string{r.recordKey(room, media), r.epochKey(room, media)},
		string(data), int(r.ttl.Seconds()),
	).Int64()
	if err != nil {
		metrics.PublisherClaims.WithLabelValues("error").Inc()
		return 0, false, err
	}
	if result == 0 {
		metrics.PublisherClaims.WithLabelValues("rejected").Inc()
		return 0, false, nil
	}
	metrics.PublisherClaims.WithLabelValues("accepted").Inc()
	metrics.PublisherActive.Inc()
	return uint64(result), true, nil
}

// refreshTTLScript only extends the TTL if the stored record's user_id still
// matches — guards against renewing a successor's registration (B4).
var refreshTTLScript = redis.NewScript(`
local record_key = KEYS[1]
local expected_user = ARGV[1]
local ttl_seconds = ARGV[2]

local raw = redis.call("GET", record_key)
if not raw then
	return 0
end
local decoded = cjson.decode(raw)
if decoded["user_id"] ~= expected_user then
	return 0
end
redis.call("EXPIRE", record_key, ttl_seconds)
return 1
`)

// RefreshTTL touches the record's TTL; no-op if userID no longer matches.
func (r *Registry) RefreshTTL(ctx context.Context, room, media, userID string) error {
	_, err := refreshTTLScript.Run(ctx, r.client,
		[]string{r.recordKey(room, media)}, userID, int(r.ttl.Seconds()),
	).Result()
	return err
}

// Unregister deletes the record unconditionally.
func (r *Registry) Unregister(ctx context.Context, room, media string) error {
	err := r.client.Del(ctx, r.recordKey(room, media)).Err()
	if err == nil {
		metrics.PublisherActive.Dec()
	}
	return err
}

// Get returns the current record, or (Info{}, false) if none exists.
func (r *Registry) Get(ctx context.Context, room, media string) (Info, bool, error) {
	raw, err := r.client.Get(ctx, r.recordKey(room, media)).Bytes()
	if err == redis.Nil {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, err
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, false, err
	}
	return info, true, nil
}

// ValidateEpoch reports whether epoch matches the record's current epoch.
func (r *Registry) ValidateEpoch(ctx context.Context, room, media string, epoch uint64) (bool, error) {
	info, ok, err := r.Get(ctx, room, media)
	if err != nil || !ok {
		return false, err
	}
	return info.Epoch == epoch, nil
}

// CleanupAllPublishersForNode bulk-removes every publisher record owned by
// nodeID, for graceful shutdown.
func (r *Registry) CleanupAllPublishersForNode(ctx context.Context, nodeID string) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+":publisher:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var info Info
		if err := json.Unmarshal(raw, &info); err != nil {
			continue
		}
		if info.NodeID == nodeID {
			r.client.Del(ctx, key)
		}
	}
	return iter.Err()
}

// GetUserPublishers returns every (room, media) pair currently published by
// userID, for kick-on-ban (C13).
func (r *Registry) GetUserPublishers(ctx context.Context, userID string) ([][2]string, error) {
	var out [][2]string
	iter := r.client.Scan(ctx, 0, r.keyPrefix+":publisher:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var info Info
		if err := json.Unmarshal(raw, &info); err != nil {
			continue
		}
		if info.UserID != userID {
			continue
		}
		room, media, ok := parseRecordKey(key, r.keyPrefix)
		if ok {
			out = append(out, [2]string{room, media})
		}
	}
	return out, iter.Err()
}

// UnregisterAllUserPublishers removes every record owned by userID.
func (r *Registry) UnregisterAllUserPublishers(ctx context.Context, userID string) error {
	pairs, err := r.GetUserPublishers(ctx, userID)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		if err := r.Unregister(ctx, pair[0], pair[1]); err != nil {
			return err
		}
	}
	return nil
}

func parseRecordKey(key, prefix string) (room, media string, ok bool) {
	want := prefix + ":publisher:"
	if len(key) <= len(want) || key[:len(want)] != want {
		return "", "", false
	}
	rest := key[len(want):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i], rest[i+1:], true
		}
	}
	return "", "", false
}
