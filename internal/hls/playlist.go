package hls

import (
	"fmt"
	"math"
	"strings"
)

// URLFunc maps a segment key to the URL a client should fetch — callers can
// supply one backed by Storage.GetPublicURL, a signed-URL scheme, or a
// same-process proxy path.
type URLFunc func(key string) string

// BuildPlaylist renders a live M3U8 playlist for the given segment window,
// with #EXT-X-MEDIA-SEQUENCE set to the window's head sequence number (spec
// §4.12): monotonically non-decreasing across successive calls as the
// window slides forward, since old segments are only ever dropped from the
// front.
func BuildPlaylist(window []Segment, urlFor URLFunc) string {
	target := 1
	for _, seg := range window {
		if secs := int(math.Ceil(seg.Duration.Seconds())); secs > target {
			target = secs
		}
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", target)

	mediaSequence := uint64(0)
	if len(window) > 0 {
		mediaSequence = window[0].Sequence
	}
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence)

	for _, seg := range window {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration.Seconds())
		b.WriteString(urlFor(seg.Key))
		b.WriteString("\n")
	}

	return b.String()
}
