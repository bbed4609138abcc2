package httpmedia

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/synctv-org/synctv-core/internal/hls"
	"github.com/synctv-org/synctv-core/internal/streamhub"
)

// SegmenterRegistry lazily creates one hls.Segmenter per live stream,
// mirroring the hub/GOP cache's own per-key lazy-creation pattern. The
// wiring entrypoint feeds it every hub frame via streamhub.Hub.OnFrame;
// HLSHandler reads the resulting sliding window back out per request.
type SegmenterRegistry struct {
	storage        hls.Storage
	targetDuration time.Duration
	windowSize     int

	mu   sync.Mutex
	byID map[streamhub.Identifier]*hls.Segmenter
}

func NewSegmenterRegistry(storage hls.Storage, targetDuration time.Duration, windowSize int) *SegmenterRegistry {
	return &SegmenterRegistry{
		storage:        storage,
		targetDuration: targetDuration,
		windowSize:     windowSize,
		byID:           make(map[streamhub.Identifier]*hls.Segmenter),
	}
}

// ForStream returns id's segmenter, creating it on first use.
func (r *SegmenterRegistry) ForStream(id streamhub.Identifier) *hls.Segmenter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		return s
	}
	s := hls.NewSegmenter(id, r.storage, r.targetDuration, r.windowSize)
	r.byID[id] = s
	return s
}

// Existing reports whether id already has a segmenter, without creating one
// — used by the playlist handler to 404 streams nobody has ever published.
func (r *SegmenterRegistry) Existing(id streamhub.Identifier) (*hls.Segmenter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// HLSHandler serves the M3U8 playlist and TS segments spec §4.12 describes.
type HLSHandler struct {
	Storage    hls.Storage
	Segmenters *SegmenterRegistry
	// PublicBaseURL, if set, is prefixed to segment keys instead of
	// proxying segment bytes through ServeSegment — used when Storage is
	// backed by an object store exposing its own public URLs.
	PublicBaseURL string
}

func NewHLSHandler(storage hls.Storage, segmenters *SegmenterRegistry) *HLSHandler {
	return &HLSHandler{Storage: storage, Segmenters: segmenters}
}

func (h *HLSHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	mediaID := r.PathValue("media")
	id := streamhub.Identifier{App: roomID, Stream: mediaID}

	seg, ok := h.Segmenters.Existing(id)
	if !ok {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	urlFor := func(key string) string {
		if h.PublicBaseURL != "" {
			return h.PublicBaseURL + "/" + key
		}
		if url, ok := h.Storage.GetPublicURL(r.Context(), key); ok {
			return url
		}
		return "/hls/" + roomID + "/" + mediaID + "/" + segmentName(key)
	}

	playlist := hls.BuildPlaylist(seg.Window(), urlFor)
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, playlist)
}

func (h *HLSHandler) ServeSegment(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	mediaID := r.PathValue("media")
	name := r.PathValue("segment")
	if roomID == "" || mediaID == "" || name == "" {
		http.Error(w, "room, media and segment are required", http.StatusBadRequest)
		return
	}

	key := roomID + "/" + mediaID + "/" + name
	data, err := h.Storage.Read(r.Context(), key)
	if err != nil {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "max-age=60")
	w.Write(data)
}

// segmentName strips the "<room>/<media>/" prefix hls.Segmenter bakes into
// its storage keys, leaving the bare "seg-N.ts" name ServeSegment expects
// back in the URL path.
func segmentName(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}
