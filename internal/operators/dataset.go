package operators

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// CreateEmptyDatasetTask creates a warehouse schema.
type CreateEmptyDatasetTask struct {
	TaskID    string
	DatasetID string
	ConnID    string
	// ExistsOK tolerates an existing dataset. Nil means true.
	ExistsOK *bool
}

// ID returns the task id.
func (t *CreateEmptyDatasetTask) ID() string { return t.TaskID }

// Describe summarizes the task.
func (t *CreateEmptyDatasetTask) Describe() string {
	return fmt.Sprintf("create dataset %s (%s)", t.DatasetID, t.ConnID)
}

func (t *CreateEmptyDatasetTask) existsOK() bool {
	return t.ExistsOK == nil || *t.ExistsOK
}

// Validate checks the dataset name.
func (t *CreateEmptyDatasetTask) Validate(*pipeline.Resources) error {
	var errs []error
	if !core.ValidIdentifier(t.DatasetID) {
		errs = append(errs, fmt.Errorf("invalid dataset name %q", t.DatasetID))
	}
	if t.ConnID == "" {
		errs = append(errs, errors.New("connection id is not set"))
	}
	return errors.Join(errs...)
}

// Execute creates the dataset if it is missing.
func (t *CreateEmptyDatasetTask) Execute(ctx context.Context, tc *pipeline.TaskContext) error {
	adp, _, err := tc.Resources.Warehouse(ctx, t.ConnID)
	if err != nil {
		return err
	}
	exists, err := adp.SchemaExists(ctx, t.DatasetID)
	if err != nil {
		return err
	}
	if exists {
		if !t.existsOK() {
			return fmt.Errorf("dataset %s already exists", t.DatasetID)
		}
		tc.Logger.Info("dataset already exists", "dataset", t.DatasetID)
		tc.SetOutput("dataset %s already exists", t.DatasetID)
		return nil
	}
	if err := adp.CreateSchema(ctx, t.DatasetID); err != nil {
		return fmt.Errorf("create dataset %s: %w", t.DatasetID, err)
	}
	tc.Logger.Info("dataset created", "dataset", t.DatasetID)
	tc.SetOutput("dataset %s created", t.DatasetID)
	return nil
}
