package operators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// LoadFileTask replaces a warehouse table with the contents of a file,
// local or in object storage.
type LoadFileTask struct {
	TaskID string
	Input  core.FileRef
	Output core.TableRef
	// UseNativeSupport asks the warehouse to read the object directly.
	// Adapters that cannot fall back to download-then-load.
	UseNativeSupport bool
}

// ID returns the task id.
func (t *LoadFileTask) ID() string { return t.TaskID }

// Describe summarizes the load.
func (t *LoadFileTask) Describe() string {
	return fmt.Sprintf("load %s into %s (%s)", t.Input.Path, t.Output.Qualified(), t.Output.ConnID)
}

func (t *LoadFileTask) fileType() (core.FileType, error) {
	if t.Input.FileType != "" {
		return core.ParseFileType(string(t.Input.FileType))
	}
	if ft, ok := core.FileTypeFromPath(t.Input.Path); ok {
		return ft, nil
	}
	return "", fmt.Errorf("cannot infer file type of %s", t.Input.Path)
}

// Validate checks the input reference and target table.
func (t *LoadFileTask) Validate(r *pipeline.Resources) error {
	var errs []error
	if t.Input.Path == "" {
		errs = append(errs, errors.New("input path is not set"))
	} else if t.Input.IsObject() {
		uri, err := core.ParseObjectURI(t.Input.Path)
		switch {
		case err != nil:
			errs = append(errs, err)
		case !ValidBucket(uri.Bucket):
			errs = append(errs, fmt.Errorf("invalid bucket name %q", uri.Bucket))
		}
		if t.Input.ConnID == "" {
			errs = append(errs, errors.New("input connection id is not set"))
		}
	} else if err := requireFile(r, t.Input.Path, "input file"); err != nil {
		errs = append(errs, err)
	}
	if _, err := t.fileType(); err != nil {
		errs = append(errs, err)
	}
	if err := validateTable(t.Output); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Execute loads the file and records the row count.
func (t *LoadFileTask) Execute(ctx context.Context, tc *pipeline.TaskContext) error {
	ft, err := t.fileType()
	if err != nil {
		return err
	}
	if err := validateTable(t.Output); err != nil {
		return err
	}
	adp, _, err := tc.Resources.Warehouse(ctx, t.Output.ConnID)
	if err != nil {
		return err
	}

	var rows int64
	if t.Input.IsObject() {
		rows, err = t.loadObject(ctx, tc, adp, ft)
	} else {
		rows, err = adp.LoadFile(ctx, t.Output, tc.Resources.Path(t.Input.Path), ft)
	}
	if err != nil {
		return fmt.Errorf("load %s into %s: %w", t.Input.Path, t.Output.Qualified(), err)
	}

	tc.Logger.Info("file loaded", "table", t.Output.Qualified(), "rows", rows)
	tc.SetOutput("loaded %d rows into %s", rows, t.Output.Qualified())
	return nil
}

func (t *LoadFileTask) loadObject(ctx context.Context, tc *pipeline.TaskContext, adp core.Adapter, ft core.FileType) (int64, error) {
	uri, err := core.ParseObjectURI(t.Input.Path)
	if err != nil {
		return 0, err
	}

	if t.UseNativeSupport {
		conn, err := tc.Resources.Connection(t.Input.ConnID)
		if err != nil {
			return 0, err
		}
		rows, err := adp.LoadObject(ctx, t.Output, uri, ft, conn)
		if !errors.Is(err, core.ErrNativeUnsupported) {
			return rows, err
		}
		tc.Logger.Warn("native load not supported, downloading instead",
			"adapter", adp.DialectName(), "uri", uri.String())
	}

	store, _, err := tc.Resources.ObjectStore(t.Input.ConnID, tc.Logger)
	if err != nil {
		return 0, err
	}
	dir, err := os.MkdirTemp("", "leapflow-load-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	local := filepath.Join(dir, path.Base(uri.Key))
	info, err := store.Download(ctx, uri.Bucket, uri.Key, local)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", uri, err)
	}
	tc.Logger.Debug("object downloaded", "uri", uri.String(), "size", info.Size, "path", local)
	return adp.LoadFile(ctx, t.Output, local, ft)
}
