// Package streamhub implements the in-process stream hub (C10): it owns
// per-(app,stream) publishers and multicasts media frames to subscribers of
// distinct types (RTMP relay, HTTP-FLV remux, HLS remux). Grounded on
// alxayo-rtmp-go's internal/rtmp/server/registry.go — the same
// double-checked-locking stream creation and broadcast-under-RLock pattern,
// adapted from a generic "app/stream" identifier to SyncTV's (room, media)
// domain and from net.Conn subscribers to typed channel subscribers.
package streamhub

// FrameKind discriminates a media frame.
type FrameKind int

const (
	FrameAudio FrameKind = iota
	FrameVideo
	FrameMetadata
)

// Frame is one unit of media data flowing through the hub. IsSequenceHeader
// is set by the RTMP ingest demuxer (not inferred here) when a frame is an
// AVC/AAC sequence header rather than ordinary media payload, so the hub
// can cache it for late joiners without re-parsing codec internals itself.
type Frame struct {
	Kind             FrameKind
	TimestampMS      int64
	Payload          []byte
	IsKeyframe       bool
	IsSequenceHeader bool
}

// Identifier names a stream: the (room, media) pair expressed as RTMP's
// (app_name, stream_name), per spec §4.8.
type Identifier struct {
	App    string // room_id
	Stream string // media_id
}

func (id Identifier) Key() string {
	return id.App + "/" + id.Stream
}

// Origin distinguishes a hub-local publisher that arrived over native RTMP
// ingest from one injected by the pull-stream manager (C11). This resolves
// the open question about the hub/pull relationship (SPEC_FULL.md §9(a)):
// both share the same (app, stream) identifier namespace, and Origin records
// which one backs the stream key. Hub.Origin reports it; the HTTP-FLV
// handler uses it to see whether a stream is present before starting a
// pull. The GOP cache and kick listener do not read it.
type Origin int

const (
	OriginLocal Origin = iota
	OriginPulled
)
