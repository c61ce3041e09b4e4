package storage

import (
	"context"
	"crypto/md5" //nolint:gosec // ETag parity with S3, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// LocalStore is a directory-backed object store: <root>/<bucket>/<key>.
type LocalStore struct {
	root   string
	logger *slog.Logger
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocalStore{root: dir, logger: logger}
}

// Root returns the directory backing the store.
func (s *LocalStore) Root() string { return s.root }

// EnsureBucket creates the bucket directory if it does not exist.
func (s *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	return nil
}

// BucketExists reports whether the bucket directory exists.
func (s *LocalStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if bucket == "" {
		return false, nil
	}
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, wrapError(CodePermissionDenied, false, err)
	}
	return fi.IsDir(), nil
}

// Upload copies a local file into bucket/key. The bucket must exist.
// The object is written to a temporary file and renamed into place.
func (s *LocalStore) Upload(ctx context.Context, bucket, key, localPath, contentType string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exists, err := s.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket %q does not exist", bucket))
	}
	dst, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return nil, wrapError(CodeUploadFailed, false, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return nil, wrapError(CodeUploadFailed, false, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := copyFile(tmp, localPath); err != nil {
		_ = tmp.Close()
		return nil, wrapError(CodeUploadFailed, false, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, wrapError(CodeUploadFailed, false, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, wrapError(CodeUploadFailed, false, err)
	}

	s.logger.Debug("stored object", slog.String("bucket", bucket), slog.String("key", key), slog.String("path", dst))

	info, err := s.Stat(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		info.ContentType = contentType
	}
	return info, nil
}

// Download copies bucket/key to localPath.
func (s *LocalStore) Download(ctx context.Context, bucket, key, localPath string) (*ObjectInfo, error) {
	info, err := s.Stat(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	src, _ := s.objectPath(bucket, key)

	out, err := os.Create(localPath) //nolint:gosec // caller-provided destination
	if err != nil {
		return nil, wrapError(CodeDownloadFailed, false, err)
	}
	if _, err := copyFile(out, src); err != nil {
		_ = out.Close()
		return nil, wrapError(CodeDownloadFailed, false, err)
	}
	if err := out.Close(); err != nil {
		return nil, wrapError(CodeDownloadFailed, false, err)
	}
	return info, nil
}

// Stat returns object metadata. The ETag is the MD5 of the content, as S3
// reports for single-part uploads.
func (s *LocalStore) Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if os.IsNotExist(err) {
		if ok, _ := s.BucketExists(ctx, bucket); !ok {
			return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket %q does not exist", bucket))
		}
		return nil, wrapError(CodeObjectNotFound, false, fmt.Errorf("object %s/%s does not exist", bucket, key))
	}
	if err != nil {
		return nil, wrapError(CodePermissionDenied, false, err)
	}
	if fi.IsDir() {
		return nil, wrapError(CodeObjectNotFound, false, fmt.Errorf("object %s/%s is a prefix", bucket, key))
	}

	etag, err := fileMD5(p)
	if err != nil {
		return nil, wrapError(CodePermissionDenied, false, err)
	}
	return &ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         fi.Size(),
		ContentType:  contentTypeFor(key),
		ETag:         etag,
		LastModified: fi.ModTime(),
	}, nil
}

func (s *LocalStore) bucketDir(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", wrapError(CodeBucketNotFound, false, fmt.Errorf("invalid bucket name %q", bucket))
	}
	return filepath.Join(s.root, bucket), nil
}

// objectPath resolves a key inside its bucket, rejecting keys that escape it.
func (s *LocalStore) objectPath(bucket, key string) (string, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", wrapError(CodeObjectNotFound, false, fmt.Errorf("invalid object key %q", key))
	}
	return filepath.Join(dir, clean), nil
}

func copyFile(dst io.Writer, srcPath string) (int64, error) {
	src, err := os.Open(srcPath) //nolint:gosec // paths come from configuration
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()
	return io.Copy(dst, src)
}

func fileMD5(p string) (string, error) {
	h := md5.New() //nolint:gosec // see import
	if _, err := copyFile(h, p); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func contentTypeFor(key string) string {
	if ft, ok := core.FileTypeFromPath(key); ok {
		return ft.ContentType()
	}
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ core.ObjectStore = (*LocalStore)(nil)
