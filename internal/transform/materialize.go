package transform

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// materialize creates the relation for m from the rendered select.
func materialize(ctx context.Context, adp core.Adapter, m *core.Model, sql string) (int64, error) {
	rel := m.Relation()

	for _, stmt := range statements(adp.DialectName(), m.Materialized, rel, sql) {
		if err := adp.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("create %s %s: %w", m.Materialized, rel, err)
		}
	}
	if m.Materialized != core.MaterializationTable {
		return 0, nil
	}
	return countRows(ctx, adp, rel)
}

// statements returns the DDL sequence for a materialization.
func statements(dialect, materialized, rel, sql string) []string {
	switch {
	case materialized == core.MaterializationView && dialect == "postgres":
		return []string{
			fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", rel),
			fmt.Sprintf("CREATE VIEW %s AS %s", rel, sql),
		}
	case materialized == core.MaterializationView:
		return []string{fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", rel, sql)}
	case dialect == "postgres":
		return []string{
			fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", rel),
			fmt.Sprintf("CREATE TABLE %s AS %s", rel, sql),
		}
	default:
		return []string{fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", rel, sql)}
	}
}

func countRows(ctx context.Context, adp core.Adapter, rel string) (int64, error) {
	rows, err := adp.Query(ctx, "SELECT COUNT(*) FROM "+rel)
	if err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", rel, err)
	}
	defer func() { _ = rows.Close() }()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}
