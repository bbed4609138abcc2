package hls

import (
	"context"
	"testing"
	"time"

	"github.com/synctv-org/synctv-core/internal/streamhub"
)

func TestSegmenterFlushesOnKeyframePastTargetDuration(t *testing.T) {
	storage := NewMemoryStorage(1<<20, 100)
	id := streamhub.Identifier{App: "room1", Stream: "media1"}
	seg := NewSegmenter(id, storage, 2*time.Second, 3)
	ctx := context.Background()

	seg.OnFrame(ctx, streamhub.Frame{Kind: streamhub.FrameVideo, IsKeyframe: true, TimestampMS: 0, Payload: []byte{1}})
	seg.OnFrame(ctx, streamhub.Frame{Kind: streamhub.FrameAudio, TimestampMS: 500, Payload: []byte{2}})
	if len(seg.Window()) != 0 {
		t.Fatal("expected no segment to be flushed before the target duration elapses")
	}

	seg.OnFrame(ctx, streamhub.Frame{Kind: streamhub.FrameVideo, IsKeyframe: true, TimestampMS: 2500, Payload: []byte{3}})

	window := seg.Window()
	if len(window) != 1 {
		t.Fatalf("Window() = %v, want 1 flushed segment", window)
	}
	data, err := storage.Read(ctx, window[0].Key)
	if err != nil {
		t.Fatalf("Read flushed segment: %v", err)
	}
	if len(data) != 2 { // the two frames buffered before the flushing keyframe
		t.Errorf("flushed segment payload length = %d, want 2", len(data))
	}
}

func TestSegmenterSlidesWindowAndDeletesStaleSegments(t *testing.T) {
	storage := NewMemoryStorage(1<<20, 100)
	id := streamhub.Identifier{App: "room1", Stream: "media1"}
	seg := NewSegmenter(id, storage, time.Second, 2)
	ctx := context.Background()

	ts := int64(0)
	for i := 0; i < 4; i++ {
		seg.OnFrame(ctx, streamhub.Frame{Kind: streamhub.FrameVideo, IsKeyframe: true, TimestampMS: ts, Payload: []byte{byte(i)}})
		ts += 1500
	}

	window := seg.Window()
	if len(window) != 2 {
		t.Fatalf("Window() length = %d, want windowSize 2", len(window))
	}

	if _, err := storage.Read(ctx, "room1/media1/seg-0.ts"); err == nil {
		t.Error("expected the oldest segment to have been deleted once it fell out of the window")
	}
}

func TestSegmenterDoesNotFlushWithoutVideoKeyframe(t *testing.T) {
	storage := NewMemoryStorage(1<<20, 100)
	id := streamhub.Identifier{App: "room1", Stream: "media1"}
	seg := NewSegmenter(id, storage, time.Second, 3)
	ctx := context.Background()

	ts := int64(0)
	for i := 0; i < 10; i++ {
		seg.OnFrame(ctx, streamhub.Frame{Kind: streamhub.FrameAudio, TimestampMS: ts, Payload: []byte{byte(i)}})
		ts += 200
	}
	if len(seg.Window()) != 0 {
		t.Error("expected no flush to occur without a video keyframe, regardless of elapsed time")
	}
}
