package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/leapstack-labs/leapflow/pkg/core"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// GCSInteropEndpoint is the S3-compatible XML API endpoint of Google Cloud Storage.
const GCSInteropEndpoint = "storage.googleapis.com"

// MinioConfig holds the settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

// MinioConfigFromConnection derives endpoint settings from a connection.
// Google connections without an explicit endpoint use the GCS interop endpoint
// with HMAC keys in Login/Password.
func MinioConfigFromConnection(conn *core.Connection) (MinioConfig, error) {
	cfg := MinioConfig{
		AccessKeyID:     conn.Login,
		SecretAccessKey: conn.Password,
		Region:          conn.ExtraString("region"),
		UseSSL:          conn.ExtraBool("secure", true),
	}

	endpoint := conn.ExtraString("endpoint")
	if endpoint == "" && conn.Host != "" {
		endpoint = conn.Host
		if conn.Port != 0 {
			endpoint = fmt.Sprintf("%s:%d", conn.Host, conn.Port)
		}
	}
	if endpoint == "" && isGoogleType(conn.Type) {
		endpoint = GCSInteropEndpoint
	}
	if endpoint == "" {
		return MinioConfig{}, wrapError(CodeEndpointUnreachable, false,
			fmt.Errorf("connection %s has no endpoint", conn.ID))
	}

	// Accept endpoints written as URLs.
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			cfg.UseSSL = true
		} else if u.Scheme == "http" {
			cfg.UseSSL = false
		}
	}
	cfg.Endpoint = endpoint
	return cfg, nil
}

// MinioStore implements core.ObjectStore with the minio-go SDK.
type MinioStore struct {
	client *minio.Client
	cfg    MinioConfig
	logger *slog.Logger
}

// NewMinioStore creates a client for an S3-compatible endpoint.
// No network call is made until the first operation.
func NewMinioStore(cfg MinioConfig, logger *slog.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Endpoint == "" {
		return nil, wrapError(CodeEndpointUnreachable, false, fmt.Errorf("endpoint is required"))
	}

	var creds *credentials.Credentials
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		creds = credentials.NewEnvAWS()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, wrapError(CodeEndpointUnreachable, false, fmt.Errorf("failed to create minio client: %w", err))
	}
	return &MinioStore{client: client, cfg: cfg, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	if bucket == "" {
		return wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket name is required"))
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return classifyMinioError(err, CodeEndpointUnreachable)
	}
	if exists {
		return nil
	}

	s.logger.Info("creating bucket", slog.String("bucket", bucket), slog.String("endpoint", s.cfg.Endpoint))
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		// Lost a creation race with another writer.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return classifyMinioError(err, CodeUploadFailed)
	}
	return nil
}

// BucketExists reports whether the bucket exists.
func (s *MinioStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if bucket == "" {
		return false, nil
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, classifyMinioError(err, CodeEndpointUnreachable)
	}
	return exists, nil
}

// Upload streams a local file to bucket/key.
func (s *MinioStore) Upload(ctx context.Context, bucket, key, localPath, contentType string) (*ObjectInfo, error) {
	if key == "" {
		return nil, wrapError(CodeUploadFailed, false, fmt.Errorf("object key is required"))
	}
	info, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, classifyMinioError(err, CodeUploadFailed)
	}
	return &ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         info.Size,
		ContentType:  contentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// Download writes bucket/key to a local file.
func (s *MinioStore) Download(ctx context.Context, bucket, key, localPath string) (*ObjectInfo, error) {
	if err := s.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return nil, classifyMinioError(err, CodeDownloadFailed)
	}
	return s.Stat(ctx, bucket, key)
}

// Stat returns object metadata.
func (s *MinioStore) Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, classifyMinioError(err, CodeObjectNotFound)
	}
	return &ObjectInfo{
		Bucket:       bucket,
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

var _ core.ObjectStore = (*MinioStore)(nil)
