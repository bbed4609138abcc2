package httpmedia

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/synctv-org/synctv-core/internal/streamhub"
)

func TestFLVMuxerWritesFileHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	mux := &flvMuxer{w: rec}

	if err := mux.writeHeader(true, true); err != nil {
		t.Fatalf("writeHeader: %v", err)
	}

	out := rec.Body.Bytes()
	if len(out) != 13 {
		t.Fatalf("header length = %d, want 13", len(out))
	}
	if string(out[0:3]) != "FLV" {
		t.Errorf("signature = %q, want FLV", out[0:3])
	}
	if out[3] != 1 {
		t.Errorf("version = %d, want 1", out[3])
	}
	if out[4] != 0x05 { // audio (0x04) | video (0x01)
		t.Errorf("flags = %#x, want 0x05", out[4])
	}
}

func TestFLVMuxerWriteTagFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	mux := &flvMuxer{w: rec}

	frame := streamhub.Frame{Kind: streamhub.FrameVideo, TimestampMS: 1000, Payload: []byte{0x17, 0x01, 0, 0, 0, 0xAA}}
	if err := mux.writeTag(frame); err != nil {
		t.Fatalf("writeTag: %v", err)
	}

	out := rec.Body.Bytes()
	wantLen := 11 + len(frame.Payload) + 4
	if len(out) != wantLen {
		t.Fatalf("tag length = %d, want %d", len(out), wantLen)
	}
	if out[0] != flvTagVideo {
		t.Errorf("tag type = %d, want %d", out[0], flvTagVideo)
	}
	dataSize := int(out[1])<<16 | int(out[2])<<8 | int(out[3])
	if dataSize != len(frame.Payload) {
		t.Errorf("data size = %d, want %d", dataSize, len(frame.Payload))
	}
	timestamp := uint32(out[4])<<16 | uint32(out[5])<<8 | uint32(out[6])
	if timestamp != uint32(frame.TimestampMS) {
		t.Errorf("timestamp = %d, want %d", timestamp, frame.TimestampMS)
	}
}

func TestRunFLVSessionFlushesOnClose(t *testing.T) {
	rec := httptest.NewRecorder()
	ch := make(chan streamhub.Frame, 4)
	ch <- streamhub.Frame{Kind: streamhub.FrameVideo, TimestampMS: 0, Payload: []byte{0x17, 0x00}, IsSequenceHeader: true}
	ch <- streamhub.Frame{Kind: streamhub.FrameVideo, TimestampMS: 40, Payload: []byte{0x17, 0x01, 0xAA}, IsKeyframe: true}
	close(ch)

	if err := runFLVSession(context.Background(), rec, ch); err != nil {
		t.Fatalf("runFLVSession: %v", err)
	}

	out := rec.Body.Bytes()
	if len(out) < 13 || string(out[0:3]) != "FLV" {
		t.Fatalf("expected an FLV header to be flushed, got %d bytes", len(out))
	}
}

func TestRunFLVSessionTimesOutWithoutFrames(t *testing.T) {
	ch := make(chan streamhub.Frame)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() { done <- runFLVSession(context.Background(), rec, ch) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an idle-timeout error")
		}
	case <-time.After(noFrameTimeout + 2*time.Second):
		t.Fatal("runFLVSession did not return after the idle timeout")
	}
}
