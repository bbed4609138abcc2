// Package httpmedia serves the viewer-facing byte streams spec §4.10/§4.12
// describe: HTTP-FLV (remux the hub's frames into an FLV byte stream per
// connected viewer) and HLS (serve the sliding-window M3U8 playlist and its
// TS segments). The FLV handler subscribes to the local stream hub (C10),
// pulling a remote publisher's frames in via the pull-stream manager (C11)
// first if the publisher isn't already local. The HLS handler serves only
// what the local segmenters have written to Storage; it does not subscribe
// to the hub and does not start a pull stream. Grounded on alxayo-rtmp-go's
// internal/rtmp/server — the flv package there mirrors this tag-framing
// byte-for-byte, adapted from its net.Conn-writing subscriber to an
// http.ResponseWriter one.
package httpmedia

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/pull"
	"github.com/synctv-org/synctv-core/internal/streamhub"
)

// noFrameTimeout ends a viewer session once nothing has arrived for this
// long — the publisher most likely went away without an explicit Unpublish
// reaching this node (network partition, crashed encoder).
const noFrameTimeout = 5 * time.Second

// warmupFrames is how many frames the session observes before committing to
// an FLV header's audio/video presence flags, per spec §4.10.
const warmupFrames = 10

const (
	flvTagAudio = 8
	flvTagVideo = 9
)

// flvSubscriber is the streamhub.Subscriber a viewer session registers.
// TrySend never blocks: a full buffer means the viewer can't keep up, and
// the frame is dropped rather than stalling the broadcaster.
type flvSubscriber struct {
	id   string
	ch   chan streamhub.Frame
	once sync.Once
}

func newFLVSubscriber() *flvSubscriber {
	return &flvSubscriber{id: uuid.New().String(), ch: make(chan streamhub.Frame, 256)}
}

func (s *flvSubscriber) ID() string { return s.id }

func (s *flvSubscriber) TrySend(f streamhub.Frame) bool {
	select {
	case s.ch <- f:
		return true
	default:
		return false
	}
}

func (s *flvSubscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// FLVHandler serves GET /live/flv/<room>/<media> (spec §4.10).
type FLVHandler struct {
	Hub  *streamhub.Hub
	Pull *pull.Manager
}

func NewFLVHandler(hub *streamhub.Hub, pullManager *pull.Manager) *FLVHandler {
	return &FLVHandler{Hub: hub, Pull: pullManager}
}

func (h *FLVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	mediaID := r.PathValue("media")
	if roomID == "" || mediaID == "" {
		http.Error(w, "room and media are required", http.StatusBadRequest)
		return
	}
	id := streamhub.Identifier{App: roomID, Stream: mediaID}
	ctx := r.Context()

	var pullSub *pull.Subscriber
	if _, ok := h.Hub.Origin(id); !ok {
		sub, err := h.Pull.GetOrCreate(ctx, roomID, mediaID)
		if err != nil {
			logging.Warn(ctx, "flv session: no publisher available", zap.String("room_id", roomID), zap.String("media_id", mediaID), zap.Error(err))
			http.Error(w, "stream not found", http.StatusNotFound)
			return
		}
		pullSub = sub
	}

	sub := newFLVSubscriber()
	if !h.Hub.Subscribe(id, sub) {
		if pullSub != nil {
			pullSub.Release()
		}
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}
	defer func() {
		h.Hub.Unsubscribe(id, sub)
		sub.close()
		if pullSub != nil {
			pullSub.Release()
		}
	}()

	w.Header().Set("Content-Type", "video/x-flv")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	if err := runFLVSession(ctx, w, sub.ch); err != nil {
		logging.Info(ctx, "flv session ended", zap.String("room_id", roomID), zap.String("media_id", mediaID), zap.Error(err))
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}

// runFLVSession drains frames from ch into w: it buffers warmupFrames frames
// (fewer only if ch closes or the no-frame timeout fires first) to decide
// the FLV header's audio/video flags, then
// streams every subsequent frame as an FLV tag until ch closes or no frame
// arrives within noFrameTimeout.
func runFLVSession(ctx context.Context, w http.ResponseWriter, ch <-chan streamhub.Frame) error {
	mux := &flvMuxer{w: w}
	flusher, _ := w.(http.Flusher)

	var pending []streamhub.Frame
	hasAudio, hasVideo := false, false
	headerWritten := false

	flushPending := func() error {
		if err := mux.writeHeader(hasAudio, hasVideo); err != nil {
			return err
		}
		headerWritten = true
		for _, f := range pending {
			if err := mux.writeTag(f); err != nil {
				return err
			}
		}
		pending = nil
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-ch:
			if !ok {
				if !headerWritten {
					return flushPending()
				}
				return nil
			}
			if !headerWritten {
				if f.Kind == streamhub.FrameAudio {
					hasAudio = true
				} else if f.Kind == streamhub.FrameVideo {
					hasVideo = true
				}
				pending = append(pending, f)
				if len(pending) >= warmupFrames {
					if err := flushPending(); err != nil {
						return err
					}
				}
				continue
			}
			if err := mux.writeTag(f); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-time.After(noFrameTimeout):
			if !headerWritten && len(pending) > 0 {
				return flushPending()
			}
			if !headerWritten {
				return fmt.Errorf("httpmedia: no frames received within %s", noFrameTimeout)
			}
			return fmt.Errorf("httpmedia: idle for %s", noFrameTimeout)
		}
	}
}

// flvMuxer writes the FLV file header once and then one tag per frame,
// tracking the previous tag's size as the format requires.
type flvMuxer struct {
	w            http.ResponseWriter
	prevTagSize  uint32
	headerPassed bool
}

func (m *flvMuxer) writeHeader(hasAudio, hasVideo bool) error {
	var flags byte
	if hasAudio {
		flags |= 0x04
	}
	if hasVideo {
		flags |= 0x01
	}
	buf := make([]byte, 0, 13)
	buf = append(buf, 'F', 'L', 'V', 1, flags)
	buf = append(buf, 0, 0, 0, 9) // header size
	buf = append(buf, 0, 0, 0, 0) // PreviousTagSize0
	_, err := m.w.Write(buf)
	m.headerPassed = true
	return err
}

func (m *flvMuxer) writeTag(f streamhub.Frame) error {
	tagType := byte(flvTagAudio)
	if f.Kind == streamhub.FrameVideo {
		tagType = flvTagVideo
	}

	var buf bytes.Buffer
	buf.WriteByte(tagType)
	dataSize := uint32(len(f.Payload))
	buf.Write(u24(dataSize))

	ts := uint32(f.TimestampMS)
	buf.Write(u24(ts & 0x00FFFFFF))
	buf.WriteByte(byte((uint32(f.TimestampMS) >> 24) & 0xFF))

	buf.Write([]byte{0, 0, 0}) // StreamID, always 0
	buf.Write(f.Payload)

	tagSize := uint32(11 + len(f.Payload))
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], tagSize)
	buf.Write(sizeBuf[:])

	_, err := m.w.Write(buf.Bytes())
	m.prevTagSize = tagSize
	return err
}

func u24(v uint32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}
