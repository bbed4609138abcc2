// Package noderegistry implements C6: each node registers itself in Redis
// with a TTL heartbeat, lists live peers, and (in Kubernetes) resolves a
// headless service name to discover peers by DNS as a fallback/complement.
package noderegistry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/metrics"
)

// Info describes one node.
type Info struct {
	NodeID    string    `json:"node_id"`
	Address   string    `json:"address"`
	GRPCAddr  string    `json:"grpc_address"`
	StartedAt time.Time `json:"started_at"`
}

// Registry is the Redis-backed node registry.
type Registry struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// New constructs a Registry. client may be nil for single-node mode.
func New(client *redis.Client, keyPrefix string, ttl time.Duration) *Registry {
	prefix := keyPrefix
	if prefix == "" {
		prefix = "synctv"
	}
	return &Registry{client: client, keyPrefix: prefix, ttl: ttl}
}

func (r *Registry) key(nodeID string) string {
	return fmt.Sprintf("%s:nodes:%s", r.keyPrefix, nodeID)
}

// RegisterLocal writes this node's record with a TTL.
func (r *Registry) RegisterLocal(ctx context.Context, info Info) error {
	if r.client == nil {
		return nil
	}
	if err := ValidateNodeID(info.NodeID); err != nil {
		return err
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(info.NodeID), data, r.ttl).Err()
}

// HeartbeatRemote refreshes the TTL for a (possibly peer-owned) node record
// without altering its payload.
func (r *Registry) HeartbeatRemote(ctx context.Context, nodeID string) error {
	if r.client == nil {
		return nil
	}
	return r.client.Expire(ctx, r.key(nodeID), r.ttl).Err()
}

// UnregisterRemote deletes a node record (graceful shutdown or forced purge).
func (r *Registry) UnregisterRemote(ctx context.Context, nodeID string) error {
	if r.client == nil {
		return nil
	}
	return r.client.Del(ctx, r.key(nodeID)).Err()
}

// GetAllNodes scans for every live node record. SCAN is used instead of
// KEYS so this never blocks Redis on a large fleet.
func (r *Registry) GetAllNodes(ctx context.Context) ([]Info, error) {
	if r.client == nil {
		return nil, nil
	}
	var nodes []Info
	iter := r.client.Scan(ctx, 0, r.keyPrefix+":nodes:*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var info Info
		if err := json.Unmarshal(raw, &info); err != nil {
			continue
		}
		nodes = append(nodes, info)
	}
	metrics.NodesLive.Set(float64(len(nodes)))
	return nodes, iter.Err()
}

// ValidateNodeID enforces the gRPC-boundary validation from spec §4.6:
// non-empty, ≤64 chars, ASCII [A-Za-z0-9_-].
func ValidateNodeID(id string) error {
	if id == "" || len(id) > 64 {
		return fmt.Errorf("node_id must be 1-64 characters, got %d", len(id))
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return fmt.Errorf("node_id contains invalid character %q", r)
		}
	}
	return nil
}

// ValidateAddress enforces "host:port" with a numeric port.
func ValidateAddress(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("address must be host:port: %w", err)
	}
	if host == "" {
		return fmt.Errorf("address host must not be empty")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("address port must be numeric 1-65535, got %q", portStr)
	}
	return nil
}

// DNSDiscovery resolves a Kubernetes headless service name on an interval,
// filtering out this node's own pod IP, and caches the last good result so
// a transient resolution failure doesn't empty the peer list.
type DNSDiscovery struct {
	serviceName string
	selfIP      string
	interval    time.Duration
	resolver    func(string) ([]string, error)

	mu    sync.RWMutex
	peers []string

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDNSDiscovery, when serviceName is non-empty, resolves it once and
// starts a background refresh loop; an empty serviceName starts nothing.
func NewDNSDiscovery(serviceName, selfIP string, interval time.Duration) *DNSDiscovery {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	d := &DNSDiscovery{
		serviceName: serviceName,
		selfIP:      selfIP,
		interval:    interval,
		resolver:    net.LookupHost,
		stopCh:      make(chan struct{}),
	}
	if serviceName != "" {
		d.refresh()
		d.wg.Add(1)
		go d.loop()
	}
	return d
}

func (d *DNSDiscovery) loop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.refresh()
		}
	}
}

func (d *DNSDiscovery) refresh() {
	ips, err := d.resolver(d.serviceName)
	if err != nil {
		logging.Warn(context.Background(), "dns discovery resolution failed, keeping last snapshot",
			zap.String("service", d.serviceName), zap.Error(err))
		return
	}
	filtered := ips[:0]
	for _, ip := range ips {
		if ip != d.selfIP {
			filtered = append(filtered, ip)
		}
	}
	d.mu.Lock()
	d.peers = append([]string(nil), filtered...)
	d.mu.Unlock()
}

// Peers returns the last successfully resolved peer IP list.
func (d *DNSDiscovery) Peers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.peers...)
}

func (d *DNSDiscovery) Close() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}
