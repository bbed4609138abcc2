// Package relay implements the client side of the cross-node stream relay
// contract (spec §6 "gRPC — cross-node stream relay"): looking up which
// node currently holds a publisher, and pulling its RTMP frames as a
// server-streaming RPC. Grounded on the teacher's pkg/sfu/client.go —
// same gobreaker-wrapped-call shape, same Close()-the-ClientConn lifecycle
// — generalized from the teacher's single hardcoded SFU address to dialing
// whatever remote node's grpc_address the publisher registry (C7) names.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/metrics"
	"github.com/synctv-org/synctv-core/internal/rpcutil"
	"github.com/synctv-org/synctv-core/internal/rtmp/chunk"
	"github.com/synctv-org/synctv-core/internal/streamhub"
)

// PublisherInfo mirrors the publisher registry's JSON record (spec §6
// "Publisher record JSON"), returned by GetPublisher/ListStreams.
type PublisherInfo struct {
	NodeID      string `json:"node_id"`
	UserID      string `json:"user_id"`
	GRPCAddress string `json:"grpc_address"`
	StartedAt   int64  `json:"started_at"`
	Epoch       uint64 `json:"epoch"`
	AppName     string `json:"app_name"`
	RoomID      string `json:"room_id"`
	MediaID     string `json:"media_id"`
}

// RtmpPacket is one media unit forwarded by PullRtmpStream.
type RtmpPacket struct {
	Kind        string `json:"kind"` // "video" | "audio"
	TimestampMS int64  `json:"timestamp"`
	PTS         int64  `json:"pts"`
	Payload     []byte `json:"payload"`
	IsKeyframe  bool   `json:"is_keyframe"`
}

type GetPublisherRequest struct {
	RoomID  string `json:"room_id"`
	MediaID string `json:"media_id"`
}

type GetPublisherResponse struct {
	Publisher *PublisherInfo `json:"publisher,omitempty"`
	Exists    bool           `json:"exists"`
}

type PullRtmpStreamRequest struct {
	RoomID       string `json:"room_id"`
	MediaID      string `json:"media_id"`
	FromSequence *int64 `json:"from_sequence,omitempty"`
}

type RegisterPublisherRequest struct {
	Publisher PublisherInfo `json:"publisher"`
}

type UnregisterPublisherRequest struct {
	RoomID  string `json:"room_id"`
	MediaID string `json:"media_id"`
}

type ListStreamsRequest struct {
	NodeFilter string `json:"node_filter,omitempty"`
}

type ListStreamsResponse struct {
	Streams []PublisherInfo `json:"streams"`
}

// PacketStream is the receive half of a PullRtmpStream call.
type PacketStream interface {
	Recv() (*RtmpPacket, error)
	CloseSend() error
}

// PublisherRelayClient is the cross-node contract spec §6 names: locating a
// publisher, streaming its frames, and (optionally) delegating
// registration. A room/media's authoritative registration always lives in
// the publisher registry (C7); RegisterPublisher/UnregisterPublisher here
// exist only for nodes that choose to delegate rather than write directly.
type PublisherRelayClient interface {
	GetPublisher(ctx context.Context, roomID, mediaID string) (*GetPublisherResponse, error)
	PullRtmpStream(ctx context.Context, req PullRtmpStreamRequest) (PacketStream, error)
	RegisterPublisher(ctx context.Context, pub PublisherInfo) error
	UnregisterPublisher(ctx context.Context, roomID, mediaID string) error
	ListStreams(ctx context.Context, nodeFilter string) ([]PublisherInfo, error)
	Close() error
}

const (
	serviceName              = "synctv.relay.PublisherRelay"
	methodGetPublisher       = "/" + serviceName + "/GetPublisher"
	methodPullRtmpStream     = "/" + serviceName + "/PullRtmpStream"
	methodRegisterPublisher  = "/" + serviceName + "/RegisterPublisher"
	methodUnregisterPublishr = "/" + serviceName + "/UnregisterPublisher"
	methodListStreams        = "/" + serviceName + "/ListStreams"
)

// Client is the gRPC-backed PublisherRelayClient implementation: every call
// goes through a circuit breaker, mirroring the teacher's SFUClient so one
// unreachable remote node degrades gracefully instead of piling up
// blocked callers.
type Client struct {
	conn    *grpc.ClientConn
	rpc     *gobreaker.CircuitBreaker
	nodeTag string
}

// NewClient dials address (a remote node's grpc_address) and wraps it in a
// per-node circuit breaker.
func NewClient(address string) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", address, err)
	}
	st := gobreaker.Settings{
		Name:        "relay:" + address,
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
		return status.Error(codes.Unavailable, "relay: circuit breaker open for "+c.nodeTag)
	}
	return err
}

func (c *Client) GetPublisher(ctx context.Context, roomID, mediaID string) (*GetPublisherResponse, error) {
	resp := &GetPublisherResponse{}
	if err := c.invoke(ctx, methodGetPublisher, &GetPublisherRequest{RoomID: roomID, MediaID: mediaID}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// PullRtmpStream opens a server-streaming RPC of RtmpPacket frames. The
// circuit breaker only protects stream establishment (NewStream), matching
// the teacher's note on ListenEvents that breakers don't fit an
// already-open stream's per-message flow.
func (c *Client) PullRtmpStream(ctx context.Context, req PullRtmpStreamRequest) (PacketStream, error) {
	streamDesc := &grpc.StreamDesc{ServerStreams: true}
	v, err := c.rpc.Execute(func() (interface{}, error) {
		return c.conn.NewStream(ctx, streamDesc, methodPullRtmpStream, grpc.CallContentSubtype(rpcutil.JSONCodecName))
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues(c.nodeTag).Inc()
			return nil, status.Error(codes.Unavailable, "relay: circuit breaker open for "+c.nodeTag)
		}
		return nil, err
	}
	stream := v.(grpc.ClientStream)
	if err := stream.SendMsg(&req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &packetStream{stream: stream}, nil
}

type packetStream struct {
	stream grpc.ClientStream
}

func (p *packetStream) Recv() (*RtmpPacket, error) {
	pkt := &RtmpPacket{}
	if err := p.stream.RecvMsg(pkt); err != nil {
		return nil, err
	}
	return pkt, nil
}

func (p *packetStream) CloseSend() error { return p.stream.CloseSend() }

func (c *Client) RegisterPublisher(ctx context.Context, pub PublisherInfo) error {
	return c.invoke(ctx, methodRegisterPublisher, &RegisterPublisherRequest{Publisher: pub}, &struct{}{})
}

func (c *Client) UnregisterPublisher(ctx context.Context, roomID, mediaID string) error {
	return c.invoke(ctx, methodUnregisterPublishr, &UnregisterPublisherRequest{RoomID: roomID, MediaID: mediaID}, &struct{}{})
}

func (c *Client) ListStreams(ctx context.Context, nodeFilter string) ([]PublisherInfo, error) {
	resp := &ListStreamsResponse{}
	if err := c.invoke(ctx, methodListStreams, &ListStreamsRequest{NodeFilter: nodeFilter}, resp); err != nil {
		return nil, err
	}
	return resp.Streams, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	logging.Info(context.Background(), "closing relay client", zap.String("node", c.nodeTag))
	return c.conn.Close()
}

// Puller adapts this package's per-call Client to pull.Puller: dial the
// remote node fresh for each pull (a node only has a handful of concurrent
// pulls at once, so a connection pool keyed by address would be premature),
// stream frames until the caller's context is canceled, and translate each
// RtmpPacket into a streamhub.Frame.
type Puller struct{}

// Run implements pull.Puller.
func (Puller) Run(ctx context.Context, roomID, mediaID, grpcAddr string, onFrame func(streamhub.Frame)) error {
	client, err := NewClient(grpcAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	stream, err := client.PullRtmpStream(ctx, PullRtmpStreamRequest{RoomID: roomID, MediaID: mediaID})
	if err != nil {
		return err
	}

	for {
		pkt, err := stream.Recv()
		if err != nil {
			return err
		}
		kind := streamhub.FrameAudio
		if pkt.Kind == "video" {
			kind = streamhub.FrameVideo
		}
		onFrame(streamhub.Frame{
			Kind:             kind,
			TimestampMS:      pkt.TimestampMS,
			Payload:          pkt.Payload,
			IsKeyframe:       pkt.IsKeyframe,
			IsSequenceHeader: chunk.IsSequenceHeaderTag(typeIDFor(kind), pkt.Payload),
		})
	}
}

func typeIDFor(kind streamhub.FrameKind) uint8 {
	if kind == streamhub.FrameVideo {
		return chunk.TypeVideo
	}
	return chunk.TypeAudio
}
