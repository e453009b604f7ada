/*
Package storage provides the blob store used for chat images: an S3-compatible
implementation and an in-memory one for development and tests.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// PurposeChatImage is the key prefix for images sent into chat rooms.
const PurposeChatImage = "chat-images"

// ErrNotFound is returned when a URL does not refer to a stored blob.
var ErrNotFound = errors.New("storage: blob not found")

// Metadata describes an upload. Extra is stored alongside the blob where the
// backend supports user metadata.
type Metadata struct {
	ContentType string
	Extra       map[string]string
}

// BlobStore stores binary payloads and hands out retrievable URLs.
type BlobStore interface {
	// Upload stores data under key and returns a URL the payload can be fetched from.
	Upload(ctx context.Context, key string, data []byte, meta Metadata) (string, error)

	// Delete removes the blob that url refers to.
	Delete(ctx context.Context, url string) error
}

// ServiceConfig holds the settings for the S3-compatible backend.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// PublicBaseURL, when set, is the public prefix of the bucket and URLs are
	// built from it; otherwise long-lived presigned URLs are issued.
	PublicBaseURL string
}

// NewStorageService builds the S3-compatible BlobStore.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (BlobStore, error) {
	return NewS3Store(ctx, cfg)
}

// ImageKey builds the blob key for an image: <purpose>/<roomID>/<unixMillis>_<fileName>.
// Only the base name of fileName is kept.
func ImageKey(purpose, roomID string, at time.Time, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "image"
	}

	return fmt.Sprintf("%s/%s/%d_%s", purpose, roomID, at.UnixMilli(), name)
}
