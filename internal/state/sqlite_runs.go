package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// CreateRun inserts a new running run for a DAG.
func (s *SQLiteStore) CreateRun(ctx context.Context, dagID string, trigger core.RunTrigger) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.Run{
		ID:        generateID(),
		DAGID:     dagID,
		Trigger:   trigger,
		Status:    core.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("run_id", run.ID), slog.String("dag_id", dagID))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, dag_id, run_trigger, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.DAGID, string(run.Trigger), string(run.Status), formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as finished with the given status.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status core.RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errVal sql.NullString
	if errMsg != "" {
		errVal = sql.NullString{String: errMsg, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), errVal, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetLatestRun returns the most recently started run of a DAG.
func (s *SQLiteStore) GetLatestRun(ctx context.Context, dagID string) (*core.Run, error) {
	runs, err := s.ListRuns(ctx, dagID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs for dag %s: %w", dagID, ErrNotFound)
	}
	return runs[0], nil
}

// ListRuns returns runs newest first. An empty dagID lists every DAG;
// a non-positive limit means no limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, dagID string, limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE ? = '' OR dag_id = ?
		 ORDER BY started_at DESC, rowid DESC
		 LIMIT ?`,
		dagID, dagID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const runColumns = `id, dag_id, run_trigger, status, started_at, completed_at, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	var (
		run                  core.Run
		trigger, status      string
		startedAt            string
		completedAt, errText sql.NullString
	)
	if err := row.Scan(&run.ID, &run.DAGID, &trigger, &status, &startedAt, &completedAt, &errText); err != nil {
		return nil, err
	}
	run.Trigger = core.RunTrigger(trigger)
	run.Status = core.RunStatus(status)
	run.Error = errText.String

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &run, nil
}
