package hls

import (
	"strings"
	"testing"
	"time"
)

func TestBuildPlaylistEmptyWindow(t *testing.T) {
	out := BuildPlaylist(nil, func(key string) string { return key })
	if !strings.Contains(out, "#EXTM3U") {
		t.Error("expected the playlist to start with #EXTM3U")
	}
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:0") {
		t.Errorf("expected media sequence 0 for an empty window, got:\n%s", out)
	}
}

func TestBuildPlaylistIncludesEverySegment(t *testing.T) {
	window := []Segment{
		{Key: "seg-3.ts", Sequence: 3, Duration: 4 * time.Second},
		{Key: "seg-4.ts", Sequence: 4, Duration: 5 * time.Second},
	}
	out := BuildPlaylist(window, func(key string) string { return "https://cdn.example/" + key })

	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:3") {
		t.Errorf("expected media sequence to be the window head (3), got:\n%s", out)
	}
	if !strings.Contains(out, "https://cdn.example/seg-3.ts") || !strings.Contains(out, "https://cdn.example/seg-4.ts") {
		t.Errorf("expected both segment URLs to appear, got:\n%s", out)
	}
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:5") {
		t.Errorf("expected target duration to be the ceiling of the longest segment (5), got:\n%s", out)
	}
}

func TestBuildPlaylistTargetDurationNeverBelowOne(t *testing.T) {
	window := []Segment{{Key: "seg-0.ts", Sequence: 0, Duration: 200 * time.Millisecond}}
	out := BuildPlaylist(window, func(key string) string { return key })
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:1") {
		t.Errorf("expected a minimum target duration of 1, got:\n%s", out)
	}
}
