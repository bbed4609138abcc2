// Package cluster implements the client side of the cluster service
// contract (spec §6 "gRPC — cluster service"): node membership
// (register/heartbeat/deregister/list) and the local-fanout presence
// queries a node answers about its own connections. Same
// gobreaker-wrapped-call shape as internal/relay, grounded on the
// teacher's pkg/sfu/client.go.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/metrics"
	"github.com/synctv-org/synctv-core/internal/rpcutil"
)

// NodeInfo mirrors one entry of GetNodes' response.
type NodeInfo struct {
	NodeID      string `json:"node_id"`
	Address     string `json:"address"`
	LastSeenSec int64  `json:"last_seen_unix"`
}

type RegisterNodeRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

type HeartbeatRequest struct {
	NodeID string `json:"node_id"`
}

type DeregisterRequest struct {
	NodeID string `json:"node_id"`
}

type GetNodesResponse struct {
	Nodes []NodeInfo `json:"nodes"`
}

// GetUserOnlineStatusRequest caps at 1000 user IDs per spec §6.
type GetUserOnlineStatusRequest struct {
	UserIDs []string `json:"user_ids"`
}

type UserOnlineStatus struct {
	UserID string   `json:"user"`
	Online bool     `json:"online"`
	Rooms  []string `json:"rooms"`
	NodeID string   `json:"node_id"`
}

type GetUserOnlineStatusResponse struct {
	Statuses []UserOnlineStatus `json:"statuses"`
}

type GetRoomConnectionsRequest struct {
	RoomID string `json:"room_id"`
}

type RoomConnection struct {
	UserID        string `json:"user"`
	NodeID        string `json:"node"`
	ConnectedAt   int64  `json:"connected_at"`
	LastActivity  int64  `json:"last_activity"`
}

type GetRoomConnectionsResponse struct {
	Connections []RoomConnection `json:"connections"`
}

// NodeServiceClient is the contract one node uses to talk to another
// node's cluster service: membership RPCs plus the presence queries that
// "reflect the local fanout only" (spec §6) — each node answers for its
// own connections; a global view is the caller's job to fan out and merge.
type NodeServiceClient interface {
	RegisterNode(ctx context.Context, nodeID, address string) error
	Heartbeat(ctx context.Context, nodeID string) error
	Deregister(ctx context.Context, nodeID string) error
	GetNodes(ctx context.Context) ([]NodeInfo, error)
	GetUserOnlineStatus(ctx context.Context, userIDs []string) ([]UserOnlineStatus, error)
	GetRoomConnections(ctx context.Context, roomID string) ([]RoomConnection, error)
	Close() error
}

const (
	serviceName                 = "synctv.cluster.NodeService"
	methodRegisterNode          = "/" + serviceName + "/RegisterNode"
	methodHeartbeat             = "/" + serviceName + "/Heartbeat"
	methodDeregister            = "/" + serviceName + "/Deregister"
	methodGetNodes              = "/" + serviceName + "/GetNodes"
	methodGetUserOnlineStatus   = "/" + serviceName + "/GetUserOnlineStatus"
	methodGetRoomConnections    = "/" + serviceName + "/GetRoomConnections"
	maxUserIDsPerStatusRequest  = 1000
)

// Client is the gRPC-backed NodeServiceClient implementation.
type Client struct {
	conn    *grpc.ClientConn
	rpc     *gobreaker.CircuitBreaker
	nodeTag string
}

func NewClient(address string) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("cluster: dial %s: %w", address, err)
	}
	st := gobreaker.Settings{
		Name:        "cluster:" + address,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}
	return &Client{conn: conn, rpc: gobreaker.NewCircuitBreaker(st), nodeTag: address}, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	_, err := c.rpc.Execute(func() (interface{}, error) {
		return nil, c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(rpcutil.JSONCodecName))
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues(c.nodeTag).Inc()
		return status.Error(codes.Unavailable, "cluster: circuit breaker open for "+c.nodeTag)
	}
	return err
}

func (c *Client) RegisterNode(ctx context.Context, nodeID, address string) error {
	return c.invoke(ctx, methodRegisterNode, &RegisterNodeRequest{NodeID: nodeID, Address: address}, &struct{}{})
}

func (c *Client) Heartbeat(ctx context.Context, nodeID string) error {
	return c.invoke(ctx, methodHeartbeat, &HeartbeatRequest{NodeID: nodeID}, &struct{}{})
}

func (c *Client) Deregister(ctx context.Context, nodeID string) error {
	return c.invoke(ctx, methodDeregister, &DeregisterRequest{NodeID: nodeID}, &struct{}{})
}

func (c *Client) GetNodes(ctx context.Context) ([]NodeInfo, error) {
	resp := &GetNodesResponse{}
	if err := c.invoke(ctx, methodGetNodes, &struct{}{}, resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *Client) GetUserOnlineStatus(ctx context.Context, userIDs []string) ([]UserOnlineStatus, error) {
	if len(userIDs) > maxUserIDsPerStatusRequest {
		return nil, fmt.Errorf("cluster: GetUserOnlineStatus accepts at most %d user ids, got %d", maxUserIDsPerStatusRequest, len(userIDs))
	}
	resp := &GetUserOnlineStatusResponse{}
	if err := c.invoke(ctx, methodGetUserOnlineStatus, &GetUserOnlineStatusRequest{UserIDs: userIDs}, resp); err != nil {
		return nil, err
	}
	return resp.Statuses, nil
}

func (c *Client) GetRoomConnections(ctx context.Context, roomID string) ([]RoomConnection, error) {
	resp := &GetRoomConnectionsResponse{}
	if err := c.invoke(ctx, methodGetRoomConnections, &GetRoomConnectionsRequest{RoomID: roomID}, resp); err != nil {
		return nil, err
	}
	return resp.Connections, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	logging.Info(context.Background(), "closing cluster client", zap.String("node", c.nodeTag))
	return c.conn.Close()
}
