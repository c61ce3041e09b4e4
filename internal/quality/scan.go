// Package quality runs data-quality scans: SodaCL-style check files
// evaluated against a warehouse, one SQL query per check.
package quality

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// AdapterProvider hands out connected warehouse adapters.
type AdapterProvider interface {
	Adapter(ctx context.Context, cfg core.AdapterConfig) (core.Adapter, error)
}

// Counts tallies check outcomes.
type Counts struct {
	Pass  int `json:"pass"`
	Warn  int `json:"warn"`
	Fail  int `json:"fail"`
	Error int `json:"error"`
}

func (c *Counts) add(o core.CheckOutcome) {
	switch o {
	case core.CheckPass:
		c.Pass++
	case core.CheckWarn:
		c.Warn++
	case core.CheckFail:
		c.Fail++
	default:
		c.Error++
	}
}

// ScanResult is the outcome of one scan. It is also the JSON document a
// subprocess scan writes to stdout.
type ScanResult struct {
	ScanName   string             `json:"scan_name"`
	DataSource string             `json:"data_source"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMS int64              `json:"duration_ms"`
	Results    []core.CheckResult `json:"results"`
	Counts     Counts             `json:"counts"`
}

// HasFailures reports whether any check failed or errored.
func (r *ScanResult) HasFailures() bool {
	return r.Counts.Fail > 0 || r.Counts.Error > 0
}

// Scanner evaluates checks in the current process.
type Scanner struct {
	Adapters    AdapterProvider
	Connections WarehouseResolver
	// BaseDir anchors relative checks roots, configuration files and
	// DuckDB paths.
	BaseDir string
	Logger  *slog.Logger
	Now     func() time.Time
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func (s *Scanner) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Scanner) path(p string) string {
	if p == "" || filepath.IsAbs(p) || s.BaseDir == "" {
		return p
	}
	return filepath.Join(s.BaseDir, p)
}

// ChecksDir returns the directory holding the checks of spec.
func (s *Scanner) ChecksDir(spec core.ScanSpec) string {
	return filepath.Join(s.path(spec.ChecksRoot), filepath.FromSlash(spec.ChecksSubpath))
}

// Warehouse resolves the adapter settings the scan runs against.
func (s *Scanner) Warehouse(spec core.ScanSpec) (*DataSource, core.AdapterConfig, error) {
	if spec.Configuration == "" {
		return nil, core.AdapterConfig{}, errors.New("scan configuration file not set")
	}
	cfg, err := LoadConfiguration(s.path(spec.Configuration))
	if err != nil {
		return nil, core.AdapterConfig{}, err
	}
	ds, err := cfg.DataSource(spec.DataSource)
	if err != nil {
		return nil, core.AdapterConfig{}, err
	}
	ac, err := ds.AdapterConfig(s.Connections, s.BaseDir)
	if err != nil {
		return nil, core.AdapterConfig{}, err
	}
	return ds, ac, nil
}

// Scan loads the checks of spec and evaluates them. A returned error means
// the scan could not run; check failures are reported in the result.
func (s *Scanner) Scan(ctx context.Context, spec core.ScanSpec) (*ScanResult, error) {
	log := s.logger().With("scan_name", spec.ScanName)
	start := s.now()

	checks, err := LoadChecks(s.ChecksDir(spec))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", spec.ScanName, err)
	}
	if len(checks) == 0 {
		return nil, fmt.Errorf("scan %s: no checks found in %s", spec.ScanName, s.ChecksDir(spec))
	}

	ds, cfg, err := s.Warehouse(spec)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", spec.ScanName, err)
	}
	if s.Adapters == nil {
		return nil, fmt.Errorf("scan %s: no warehouse adapters available", spec.ScanName)
	}
	adp, err := s.Adapters.Adapter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", spec.ScanName, err)
	}

	log.Info("scan started", "data_source", ds.Name, "checks", len(checks))

	res := &ScanResult{ScanName: spec.ScanName, DataSource: ds.Name, StartedAt: start}
	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cr := s.evaluate(ctx, adp, c, relationFor(c.Table, cfg.Schema))
		cr.ScanName = spec.ScanName
		res.Counts.add(cr.Outcome)
		res.Results = append(res.Results, cr)

		attrs := []any{"check", cr.Check, "table", cr.Table, "outcome", cr.Outcome}
		if cr.Value != nil {
			attrs = append(attrs, "value", *cr.Value)
		}
		switch cr.Outcome {
		case core.CheckPass:
			log.Debug("check evaluated", attrs...)
		case core.CheckWarn:
			log.Warn("check warned", attrs...)
		default:
			log.Warn("check did not pass", append(attrs, "message", cr.Message)...)
		}
	}
	res.DurationMS = s.now().Sub(start).Milliseconds()

	log.Info("scan finished",
		"pass", res.Counts.Pass, "warn", res.Counts.Warn,
		"fail", res.Counts.Fail, "error", res.Counts.Error,
		"duration_ms", res.DurationMS)
	return res, nil
}

func relationFor(table, schema string) string {
	if strings.Contains(table, ".") || schema == "" {
		return table
	}
	return schema + "." + table
}

func (s *Scanner) evaluate(ctx context.Context, adp core.Adapter, c *Check, relation string) core.CheckResult {
	cr := core.CheckResult{Check: c.Title(), Table: c.Table}
	if c.Metric == MetricSchema {
		return s.evaluateSchema(ctx, adp, c, relation, cr)
	}

	q, err := compile(c, relation)
	if err != nil {
		cr.Outcome, cr.Message = core.CheckError, err.Error()
		return cr
	}

	v, err := s.measure(ctx, adp, q)
	if err != nil {
		cr.Outcome, cr.Message = core.CheckError, err.Error()
		return cr
	}
	cr.Value = &v
	cr.Outcome = c.outcome(v)
	if cr.Outcome != core.CheckPass {
		cr.Message = fmt.Sprintf("%s = %s", c.Metric, formatNumber(v))
	}
	return cr
}

func (s *Scanner) measure(ctx context.Context, adp core.Adapter, q query) (float64, error) {
	rows, err := adp.Query(ctx, q.SQL)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("query returned no rows")
	}

	if q.Time {
		var t sql.NullTime
		if err := rows.Scan(&t); err != nil {
			return 0, fmt.Errorf("failed to read timestamp: %w", err)
		}
		if !t.Valid {
			return 0, errors.New("no timestamp values to measure freshness")
		}
		return hoursSince(t.Time, s.now()), nil
	}

	var v sql.NullFloat64
	if err := rows.Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read metric: %w", err)
	}
	if !v.Valid {
		return 0, errors.New("metric is NULL (no rows to aggregate)")
	}
	return v.Float64, nil
}

func (s *Scanner) evaluateSchema(ctx context.Context, adp core.Adapter, c *Check, relation string, cr core.CheckResult) core.CheckResult {
	meta, err := adp.GetTableMetadata(ctx, relation)
	if err != nil {
		cr.Outcome, cr.Message = core.CheckError, err.Error()
		return cr
	}

	if issues := schemaIssues(meta, c.Schema.Fail); len(issues) > 0 {
		n := float64(len(issues))
		cr.Outcome, cr.Value, cr.Message = core.CheckFail, &n, strings.Join(issues, "; ")
		return cr
	}
	if issues := schemaIssues(meta, c.Schema.Warn); len(issues) > 0 {
		n := float64(len(issues))
		cr.Outcome, cr.Value, cr.Message = core.CheckWarn, &n, strings.Join(issues, "; ")
		return cr
	}
	cr.Outcome = core.CheckPass
	return cr
}

func schemaIssues(meta *core.TableMetadata, rules *SchemaRules) []string {
	if rules == nil {
		return nil
	}
	var issues []string
	for _, name := range rules.RequiredMissing {
		if _, ok := meta.Column(name); !ok {
			issues = append(issues, "required column missing: "+name)
		}
	}
	for _, name := range sortedKeys(rules.WrongType) {
		col, ok := meta.Column(name)
		if !ok {
			issues = append(issues, "column missing: "+name)
			continue
		}
		if want := rules.WrongType[name]; normalizeType(col.Type) != normalizeType(want) {
			issues = append(issues, fmt.Sprintf("wrong column type: %s is %s, expected %s", name, col.Type, want))
		}
	}
	for _, name := range rules.Forbidden {
		if _, ok := meta.Column(name); ok {
			issues = append(issues, "forbidden column present: "+name)
		}
	}
	return issues
}
