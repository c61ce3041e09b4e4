package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// SaveCheckResults stores the results of one scan in a single transaction.
func (s *SQLiteStore) SaveCheckResults(ctx context.Context, runID string, results []core.CheckResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO check_results (run_id, scan_name, check_def, table_ref, outcome, value, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range results {
		var value sql.NullFloat64
		if r.Value != nil {
			value = sql.NullFloat64{Float64: *r.Value, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, runID, r.ScanName, r.Check, r.Table, string(r.Outcome), value, r.Message); err != nil {
			return fmt.Errorf("failed to save check result %q: %w", r.Check, err)
		}
	}
	return tx.Commit()
}

// GetCheckResults returns the check results of a run in insertion order.
func (s *SQLiteStore) GetCheckResults(ctx context.Context, runID string) ([]core.CheckResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT scan_name, check_def, table_ref, outcome, value, message
		 FROM check_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query check results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.CheckResult
	for rows.Next() {
		var (
			r       core.CheckResult
			outcome string
			value   sql.NullFloat64
		)
		if err := rows.Scan(&r.ScanName, &r.Check, &r.Table, &outcome, &value, &r.Message); err != nil {
			return nil, fmt.Errorf("failed to scan check result: %w", err)
		}
		r.Outcome = core.CheckOutcome(outcome)
		if value.Valid {
			v := value.Float64
			r.Value = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
