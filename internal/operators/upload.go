package operators

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// LocalToObjectStoreTask copies a local file into a bucket.
type LocalToObjectStoreTask struct {
	TaskID   string
	Src      string
	Dst      string
	Bucket   string
	ConnID   string
	MimeType string
}

// ID returns the task id.
func (t *LocalToObjectStoreTask) ID() string { return t.TaskID }

// Describe summarizes the upload.
func (t *LocalToObjectStoreTask) Describe() string {
	return fmt.Sprintf("upload %s to %s/%s (%s)", t.Src, t.Bucket, t.Dst, t.ConnID)
}

func (t *LocalToObjectStoreTask) contentType() string {
	if t.MimeType != "" {
		return t.MimeType
	}
	if ft, ok := core.FileTypeFromPath(t.Src); ok {
		return ft.ContentType()
	}
	return "application/octet-stream"
}

// Validate checks paths and names without contacting storage.
func (t *LocalToObjectStoreTask) Validate(r *pipeline.Resources) error {
	var errs []error
	if err := requireFile(r, t.Src, "source file"); err != nil {
		errs = append(errs, err)
	}
	if !ValidBucket(t.Bucket) {
		errs = append(errs, fmt.Errorf("invalid bucket name %q", t.Bucket))
	}
	if !ValidObjectKey(t.Dst) {
		errs = append(errs, fmt.Errorf("invalid destination key %q", t.Dst))
	}
	if t.ConnID == "" {
		errs = append(errs, errors.New("connection id is not set"))
	}
	return errors.Join(errs...)
}

// Execute ensures the bucket and uploads the file.
func (t *LocalToObjectStoreTask) Execute(ctx context.Context, tc *pipeline.TaskContext) error {
	store, _, err := tc.Resources.ObjectStore(t.ConnID, tc.Logger)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx, t.Bucket); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", t.Bucket, err)
	}
	info, err := store.Upload(ctx, t.Bucket, t.Dst, tc.Resources.Path(t.Src), t.contentType())
	if err != nil {
		return fmt.Errorf("upload %s: %w", t.Src, err)
	}
	tc.Logger.Info("file uploaded", "bucket", t.Bucket, "key", t.Dst, "size", info.Size)
	tc.SetOutput("uploaded %d bytes to %s/%s", info.Size, t.Bucket, t.Dst)
	return nil
}
