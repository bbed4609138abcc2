package hls

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/synctv-org/synctv-core/internal/logging"
	"github.com/synctv-org/synctv-core/internal/metrics"
	"github.com/synctv-org/synctv-core/internal/streamhub"
)

// Segment describes one emitted TS segment.
type Segment struct {
	Key      string
	Sequence uint64
	Duration time.Duration
}

// Segmenter buffers frames from one stream into TS segments of
// targetDuration and writes them to Storage, maintaining a sliding window
// for the live M3U8 playlist (spec §4.12).
type Segmenter struct {
	id              streamhub.Identifier
	storage         Storage
	targetDuration  time.Duration
	windowSize      int

	mu         sync.Mutex
	buf        bytes.Buffer
	segStartMS int64
	haveFirst  bool
	nextSeq    uint64
	window     []Segment
}

func NewSegmenter(id streamhub.Identifier, storage Storage, targetDuration time.Duration, windowSize int) *Segmenter {
	if targetDuration <= 0 {
		targetDuration = 5 * time.Second
	}
	if windowSize <= 0 {
		windowSize = 6
	}
	return &Segmenter{id: id, storage: storage, targetDuration: targetDuration, windowSize: windowSize}
}

// OnFrame should be wired to streamhub.Hub.OnFrame, filtered to this
// Segmenter's identifier by the caller.
func (s *Segmenter) OnFrame(ctx context.Context, frame streamhub.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveFirst {
		s.segStartMS = frame.TimestampMS
		s.haveFirst = true
	}

	// A video keyframe past the target duration closes the current segment
	// and opens the next one, so every segment after the first starts on
	// that keyframe.
	elapsed := time.Duration(frame.TimestampMS-s.segStartMS) * time.Millisecond
	if frame.Kind == streamhub.FrameVideo && frame.IsKeyframe && elapsed >= s.targetDuration {
		s.flushLocked(ctx, elapsed)
		s.segStartMS = frame.TimestampMS
		s.haveFirst = true
	}

	// Remux of raw frames into MPEG-TS packets is a media-container
	// concern outside this package; Payload is appended as-is so the
	// segment boundary/window logic here is exercised independently of a
	// specific TS muxer implementation.
	s.buf.Write(frame.Payload)
}

func (s *Segmenter) flushLocked(ctx context.Context, duration time.Duration) {
	if s.buf.Len() == 0 {
		return
	}
	seq := s.nextSeq
	s.nextSeq++
	key := fmt.Sprintf("%s/%s/seg-%d.ts", s.id.App, s.id.Stream, seq)

	data := make([]byte, s.buf.Len())
	copy(data, s.buf.Bytes())
	s.buf.Reset()
	s.segStartMS = 0
	s.haveFirst = false

	if err := s.storage.Write(ctx, key, data); err != nil {
		logging.Error(ctx, "failed to write hls segment", zap.Error(err), zap.String("key", key))
		return
	}
	metrics.HLSSegmentsWritten.WithLabelValues(s.id.Key()).Inc()

	s.window = append(s.window, Segment{Key: key, Sequence: seq, Duration: duration})
	if len(s.window) > s.windowSize {
		stale := s.window[:len(s.window)-s.windowSize]
		s.window = s.window[len(s.window)-s.windowSize:]
		for _, seg := range stale {
			if err := s.storage.Delete(ctx, seg.Key); err != nil {
				logging.Warn(ctx, "failed to delete stale hls segment", zap.Error(err), zap.String("key", seg.Key))
			}
		}
	}
}

// Window returns a snapshot of the current sliding-window segment list, in
// chronological order — this is the "current window head" the playlist's
// #EXT-X-MEDIA-SEQUENCE derives from.
func (s *Segmenter) Window() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, len(s.window))
	copy(out, s.window)
	return out
}
