package httpmedia

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/synctv-org/synctv-core/internal/hls"
	"github.com/synctv-org/synctv-core/internal/streamhub"
)

func TestSegmentName(t *testing.T) {
	cases := map[string]string{
		"room/media/seg-3.ts": "seg-3.ts",
		"seg-0.ts":            "seg-0.ts",
	}
	for key, want := range cases {
		if got := segmentName(key); got != want {
			t.Errorf("segmentName(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestSegmenterRegistryLazyCreation(t *testing.T) {
	storage := hls.NewMemoryStorage(1<<20, 100)
	reg := NewSegmenterRegistry(storage, time.Second, 3)
	id := streamhub.Identifier{App: "room1", Stream: "media1"}

	if _, ok := reg.Existing(id); ok {
		t.Fatal("expected no segmenter before first use")
	}

	first := reg.ForStream(id)
	second := reg.ForStream(id)
	if first != second {
		t.Error("expected the same segmenter instance on repeated lookups")
	}
	if got, ok := reg.Existing(id); !ok || got != first {
		t.Error("expected Existing to report the created segmenter")
	}
}

func TestHLSHandlerServePlaylistNotFound(t *testing.T) {
	storage := hls.NewMemoryStorage(1<<20, 100)
	reg := NewSegmenterRegistry(storage, time.Second, 3)
	h := NewHLSHandler(storage, reg)

	req := httptest.NewRequest("GET", "/hls/room1/media1/playlist.m3u8", nil)
	req.SetPathValue("room", "room1")
	req.SetPathValue("media", "media1")
	rec := httptest.NewRecorder()

	h.ServePlaylist(rec, req)

	if rec.Code != 404 {
		t.Errorf("status = %d, want 404 for a stream with no segmenter yet", rec.Code)
	}
}

func TestHLSHandlerServesSegmentBytes(t *testing.T) {
	storage := hls.NewMemoryStorage(1<<20, 100)
	reg := NewSegmenterRegistry(storage, time.Second, 3)
	h := NewHLSHandler(storage, reg)

	if err := storage.Write(context.Background(), "room1/media1/seg-0.ts", []byte("tsdata")); err != nil {
		t.Fatalf("seed segment: %v", err)
	}

	req := httptest.NewRequest("GET", "/hls/room1/media1/seg-0.ts", nil)
	req.SetPathValue("room", "room1")
	req.SetPathValue("media", "media1")
	req.SetPathValue("segment", "seg-0.ts")
	rec := httptest.NewRecorder()

	h.ServeSegment(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "tsdata" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "tsdata")
	}
}
