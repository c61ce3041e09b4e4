package core

import (
	"context"
	"time"
)

// ObjectStore is the contract for object storage backends.
type ObjectStore interface {
	// EnsureBucket creates the bucket if it does not already exist.
	EnsureBucket(ctx context.Context, bucket string) error

	// BucketExists reports whether the bucket exists.
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// Upload copies a local file to bucket/key.
	Upload(ctx context.Context, bucket, key, localPath, contentType string) (*ObjectInfo, error)

	// Download copies bucket/key to a local file.
	Download(ctx context.Context, bucket, key, localPath string) (*ObjectInfo, error)

	// Stat returns object metadata.
	Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error)
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket       string
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}
