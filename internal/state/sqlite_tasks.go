package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// RecordTaskRun inserts a task run, assigning an ID when empty.
func (s *SQLiteStore) RecordTaskRun(ctx context.Context, tr *core.TaskRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if tr.ID == "" {
		tr.ID = generateID()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs
		   (id, run_id, task_id, group_id, state, attempts, started_at, completed_at, duration_ms, output, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.RunID, tr.TaskID, tr.GroupID, string(tr.State), tr.Attempts,
		formatTimePtr(tr.StartedAt), formatTimePtr(tr.CompletedAt), tr.DurationMS, tr.Output, tr.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record task run %s: %w", tr.TaskID, err)
	}
	return nil
}

// UpdateTaskRun writes the mutable fields of a task run.
func (s *SQLiteStore) UpdateTaskRun(ctx context.Context, tr *core.TaskRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE task_runs
		 SET state = ?, attempts = ?, started_at = ?, completed_at = ?, duration_ms = ?, output = ?, error = ?
		 WHERE id = ?`,
		string(tr.State), tr.Attempts, formatTimePtr(tr.StartedAt), formatTimePtr(tr.CompletedAt),
		tr.DurationMS, tr.Output, tr.Error, tr.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task run %s: %w", tr.TaskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task run %s: %w", tr.ID, ErrNotFound)
	}
	return nil
}

// GetTaskRunsForRun returns the task runs of a run in start order.
func (s *SQLiteStore) GetTaskRunsForRun(ctx context.Context, runID string) ([]*core.TaskRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, task_id, group_id, state, attempts, started_at, completed_at, duration_ms, output, error
		 FROM task_runs
		 WHERE run_id = ?
		 ORDER BY COALESCE(started_at, '9999'), rowid`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.TaskRun
	for rows.Next() {
		var (
			tr                     core.TaskRun
			taskState              string
			startedAt, completedAt sql.NullString
		)
		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.TaskID, &tr.GroupID, &taskState, &tr.Attempts,
			&startedAt, &completedAt, &tr.DurationMS, &tr.Output, &tr.Error); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		tr.State = core.TaskState(taskState)
		if tr.StartedAt, err = parseTimePtr(startedAt); err != nil {
			return nil, err
		}
		if tr.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		out = append(out, &tr)
	}
	return out, rows.Err()
}
