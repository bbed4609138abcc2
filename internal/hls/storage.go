// Package hls implements HLS remux & storage (C12): TS segmentation of
// frames from the stream hub, M3U8 playlist generation, and a pluggable
// Storage backend (filesystem, memory, object store). The object-store
// backend is grounded on alxayo-rtmp-go's azure/blob-sidecar go.mod
// (azure-sdk-for-go/sdk/storage/azblob + azidentity) — the only example in
// the pack that wires cloud object storage.
package hls

import (
	"context"
	"time"
)

// Storage is the pluggable segment/playlist storage backend (spec §4.12).
type Storage interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Cleanup deletes every object older than olderThan, returning the count
	// removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	// GetPublicURL returns a URL the client can fetch key from directly, or
	// ("", false) if the backend has none (caller should proxy the bytes).
	GetPublicURL(ctx context.Context, key string) (string, bool)
}
