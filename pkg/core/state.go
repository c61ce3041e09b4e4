package core

import (
	"context"
	"time"
)

// Store defines the interface for run state persistence.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Run operations
	CreateRun(ctx context.Context, dagID string, trigger RunTrigger) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string) error
	GetLatestRun(ctx context.Context, dagID string) (*Run, error)
	ListRuns(ctx context.Context, dagID string, limit int) ([]*Run, error)

	// Task run operations
	RecordTaskRun(ctx context.Context, tr *TaskRun) error
	UpdateTaskRun(ctx context.Context, tr *TaskRun) error
	GetTaskRunsForRun(ctx context.Context, runID string) ([]*TaskRun, error)

	// Check result operations
	SaveCheckResults(ctx context.Context, runID string, results []CheckResult) error
	GetCheckResults(ctx context.Context, runID string) ([]CheckResult, error)
}

// RunTrigger records what started a run.
type RunTrigger string

// Run trigger constants.
const (
	TriggerManual RunTrigger = "manual"
	TriggerAPI    RunTrigger = "api"
	TriggerWatch  RunTrigger = "watch"
)

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Run represents one execution of a DAG.
type Run struct {
	ID          string     `json:"id"`
	DAGID       string     `json:"dag_id"`
	Trigger     RunTrigger `json:"trigger"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// TaskState represents the status of an individual task within a run.
type TaskState string

// Task state constants.
const (
	TaskStatePending        TaskState = "pending"
	TaskStateRunning        TaskState = "running"
	TaskStateSuccess        TaskState = "success"
	TaskStateFailed         TaskState = "failed"
	TaskStateUpstreamFailed TaskState = "upstream_failed"
	TaskStateSkipped        TaskState = "skipped"
)

// Finished reports whether the state is terminal.
func (s TaskState) Finished() bool {
	switch s {
	case TaskStateSuccess, TaskStateFailed, TaskStateUpstreamFailed, TaskStateSkipped:
		return true
	default:
		return false
	}
}

// TaskRun represents a single task execution within a run.
type TaskRun struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	TaskID      string     `json:"task_id"`
	GroupID     string     `json:"group_id,omitempty"`
	State       TaskState  `json:"state"`
	Attempts    int        `json:"attempts"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// CheckOutcome is the evaluation result of one data-quality check.
type CheckOutcome string

// Check outcome constants.
const (
	CheckPass  CheckOutcome = "pass"
	CheckWarn  CheckOutcome = "warn"
	CheckFail  CheckOutcome = "fail"
	CheckError CheckOutcome = "error"
)

// CheckResult records one evaluated check.
type CheckResult struct {
	ScanName string       `json:"scan_name"`
	Check    string       `json:"check"`
	Table    string       `json:"table"`
	Outcome  CheckOutcome `json:"outcome"`
	Value    *float64     `json:"value,omitempty"`
	Message  string       `json:"message,omitempty"`
}
