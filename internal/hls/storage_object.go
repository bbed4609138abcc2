package hls

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

// ObjectStorage is an S3-compatible-via-Azure-Blob backend: storage keys are
// SHA-256-hashed to prevent traversal/abuse, and GetPublicURL prefers a
// configured CDN base URL, falling back to a time-limited SAS URL.
type ObjectStorage struct {
	client      *azblob.Client
	containerURL string
	cdnBaseURL  string // e.g. "https://cdn.example.com/hls" — empty disables CDN URLs
	presignTTL  time.Duration
}

// ObjectStorageConfig configures an ObjectStorage backend.
type ObjectStorageConfig struct {
	Client       *azblob.Client
	ContainerURL string
	CDNBaseURL   string
	PresignTTL   time.Duration
}

func NewObjectStorage(cfg ObjectStorageConfig) *ObjectStorage {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ObjectStorage{
		client:       cfg.Client,
		containerURL: cfg.ContainerURL,
		cdnBaseURL:   cfg.CDNBaseURL,
		presignTTL:   ttl,
	}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *ObjectStorage) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.containerURL, hashKey(key), data, nil)
	if err != nil {
		return fmt.Errorf("hls: object store write %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStorage) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.containerURL, hashKey(key), nil)
	if err != nil {
		return nil, fmt.Errorf("hls: object store read %s: %w", key, err)
	}
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return nil, fmt.Errorf("hls: object store drain %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (s *ObjectStorage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.containerURL, hashKey(key), nil)
	if err != nil {
		return fmt.Errorf("hls: object store delete %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.ServiceClient().NewContainerClient(s.containerURL).NewBlobClient(hashKey(key)).GetProperties(ctx, nil)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Cleanup is a no-op here: lifecycle-managed object stores expire blobs via
// a container lifecycle policy configured out-of-band, not by this process
// scanning every key.
func (s *ObjectStorage) Cleanup(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

// GetPublicURL prefers a configured CDN URL; absent that, it mints a
// time-limited SAS URL via the blob client's own shared-key credential, so
// the client can fetch a segment directly without proxying through this
// process.
func (s *ObjectStorage) GetPublicURL(_ context.Context, key string) (string, bool) {
	hashed := hashKey(key)
	if s.cdnBaseURL != "" {
		return s.cdnBaseURL + "/" + hashed, true
	}

	blobClient := s.client.ServiceClient().NewContainerClient(s.containerURL).NewBlobClient(hashed)
	sasURL, err := blobClient.GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(s.presignTTL), nil)
	if err != nil {
		return "", false
	}
	return sasURL, true
}
