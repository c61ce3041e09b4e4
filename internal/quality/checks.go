package quality

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapflow/pkg/core"
	"gopkg.in/yaml.v3"
)

// Metric names.
const (
	MetricRowCount       = "row_count"
	MetricMissingCount   = "missing_count"
	MetricMissingPercent = "missing_percent"
	MetricDuplicateCount = "duplicate_count"
	MetricInvalidCount   = "invalid_count"
	MetricMin            = "min"
	MetricMax            = "max"
	MetricAvg            = "avg"
	MetricSum            = "sum"
	MetricFreshness      = "freshness"
	MetricSchema         = "schema"
)

var columnMetrics = map[string]bool{
	MetricMissingCount: true, MetricMissingPercent: true, MetricDuplicateCount: true,
	MetricInvalidCount: true, MetricMin: true, MetricMax: true, MetricAvg: true,
	MetricSum: true, MetricFreshness: true,
}

// Check is one parsed check.
type Check struct {
	File   string
	Table  string
	Expr   string // the check line as written
	Name   string
	Metric string
	Column string

	// Pass is set for bare checks ("row_count > 0"): the check passes when
	// it holds and fails otherwise.
	Pass *Condition
	// FailWhen and WarnWhen come from "fail: when ..." / "warn: when ...".
	FailWhen *Condition
	WarnWhen *Condition

	ValidValues   []any
	ValidMin      *float64
	ValidMax      *float64
	MissingValues []any
	Filter        string

	Schema *SchemaCheck
}

// Title is the display name of the check.
func (c *Check) Title() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Expr
}

// SchemaRules are the conditions of one schema check level.
type SchemaRules struct {
	RequiredMissing []string          `yaml:"when required column missing"`
	WrongType       map[string]string `yaml:"when wrong column type"`
	Forbidden       []string          `yaml:"when forbidden column present"`
}

// SchemaCheck validates table structure.
type SchemaCheck struct {
	Fail *SchemaRules `yaml:"fail"`
	Warn *SchemaRules `yaml:"warn"`
}

type checkConfig struct {
	Name          string   `yaml:"name"`
	Warn          string   `yaml:"warn"`
	Fail          string   `yaml:"fail"`
	ValidValues   []any    `yaml:"valid values"`
	ValidMin      *float64 `yaml:"valid min"`
	ValidMax      *float64 `yaml:"valid max"`
	MissingValues []any    `yaml:"missing values"`
	Filter        string   `yaml:"filter"`
}

var (
	checksForPattern = regexp.MustCompile(`^checks for ([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?)$`)
	metricPattern    = regexp.MustCompile(`^([a-z_]+)(?:\(\s*([A-Za-z_][A-Za-z0-9_]*)?\s*\))?\s*(.*)$`)
	whenPattern      = regexp.MustCompile(`^when\s+(.+)$`)
)

// ParseError reports an invalid check definition.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LoadChecks reads every .yml/.yaml file under dir, recursively, in
// lexical order.
func LoadChecks(dir string) ([]*Check, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("checks directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("checks directory %s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ext := filepath.Ext(path); !d.IsDir() && (ext == ".yml" || ext == ".yaml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var checks []*Check
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		parsed, err := ParseChecks(f, data)
		if err != nil {
			return nil, err
		}
		checks = append(checks, parsed...)
	}
	return checks, nil
}

// ParseChecks parses one check file.
func ParseChecks(file string, data []byte) ([]*Check, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{File: file, Err: err}
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{File: file, Line: root.Line, Err: errors.New("expected a mapping of 'checks for <table>' sections")}
	}

	var checks []*Check
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		m := checksForPattern.FindStringSubmatch(key.Value)
		if m == nil {
			return nil, &ParseError{File: file, Line: key.Line, Err: fmt.Errorf("unsupported section %q", key.Value)}
		}
		if val.Kind != yaml.SequenceNode {
			return nil, &ParseError{File: file, Line: val.Line, Err: fmt.Errorf("%q must be a list of checks", key.Value)}
		}
		for _, item := range val.Content {
			c, err := parseCheck(m[1], item)
			if err != nil {
				return nil, &ParseError{File: file, Line: item.Line, Err: err}
			}
			c.File = file
			checks = append(checks, c)
		}
	}
	return checks, nil
}

func parseCheck(table string, item *yaml.Node) (*Check, error) {
	var expr string
	var cfgNode *yaml.Node
	switch item.Kind {
	case yaml.ScalarNode:
		expr = item.Value
	case yaml.MappingNode:
		if len(item.Content) != 2 {
			return nil, errors.New("a check with configuration must have exactly one key")
		}
		expr, cfgNode = item.Content[0].Value, item.Content[1]
	default:
		return nil, errors.New("a check must be a string or a single-key mapping")
	}

	c := &Check{Table: table, Expr: strings.TrimSpace(expr)}
	if c.Expr == MetricSchema {
		c.Metric = MetricSchema
		if cfgNode == nil {
			return nil, errors.New("schema check needs fail or warn rules")
		}
		var sc SchemaCheck
		if err := cfgNode.Decode(&sc); err != nil {
			return nil, fmt.Errorf("schema check: %w", err)
		}
		if sc.Fail == nil && sc.Warn == nil {
			return nil, errors.New("schema check needs fail or warn rules")
		}
		c.Schema = &sc
		return c, nil
	}

	m := metricPattern.FindStringSubmatch(c.Expr)
	if m == nil {
		return nil, fmt.Errorf("invalid check %q", c.Expr)
	}
	c.Metric, c.Column = m[1], m[2]
	if c.Metric != MetricRowCount && !columnMetrics[c.Metric] {
		return nil, fmt.Errorf("unsupported metric %q", c.Metric)
	}
	if columnMetrics[c.Metric] && c.Column == "" {
		return nil, fmt.Errorf("metric %s requires a column", c.Metric)
	}
	if c.Metric == MetricRowCount && c.Column != "" {
		return nil, errors.New("row_count does not take a column")
	}
	freshness := c.Metric == MetricFreshness

	if rest := strings.TrimSpace(m[3]); rest != "" {
		cond, err := parseCondition(rest, freshness)
		if err != nil {
			return nil, err
		}
		c.Pass = &cond
	}

	if cfgNode != nil {
		var cfg checkConfig
		if err := cfgNode.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("check configuration: %w", err)
		}
		c.Name = cfg.Name
		c.ValidValues = cfg.ValidValues
		c.ValidMin = cfg.ValidMin
		c.ValidMax = cfg.ValidMax
		c.MissingValues = cfg.MissingValues
		c.Filter = strings.TrimSpace(cfg.Filter)
		var err error
		if c.FailWhen, err = parseWhen(cfg.Fail, freshness); err != nil {
			return nil, fmt.Errorf("fail: %w", err)
		}
		if c.WarnWhen, err = parseWhen(cfg.Warn, freshness); err != nil {
			return nil, fmt.Errorf("warn: %w", err)
		}
	}

	if c.Pass == nil && c.FailWhen == nil && c.WarnWhen == nil {
		return nil, fmt.Errorf("check %q has no threshold", c.Expr)
	}
	if c.Pass != nil && (c.FailWhen != nil || c.WarnWhen != nil) {
		return nil, fmt.Errorf("check %q mixes an inline threshold with fail/warn", c.Expr)
	}
	if c.Metric == MetricInvalidCount && len(c.ValidValues) == 0 && c.ValidMin == nil && c.ValidMax == nil {
		return nil, errors.New("invalid_count requires valid values, valid min or valid max")
	}
	return c, nil
}

func parseWhen(s string, duration bool) (*Condition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	m := whenPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("expected \"when <condition>\", got %q", s)
	}
	cond, err := parseCondition(m[1], duration)
	if err != nil {
		return nil, err
	}
	return &cond, nil
}

// outcome classifies a measured value.
func (c *Check) outcome(v float64) core.CheckOutcome {
	if c.Pass != nil {
		if c.Pass.Holds(v) {
			return core.CheckPass
		}
		return core.CheckFail
	}
	if c.FailWhen != nil && c.FailWhen.Holds(v) {
		return core.CheckFail
	}
	if c.WarnWhen != nil && c.WarnWhen.Holds(v) {
		return core.CheckWarn
	}
	return core.CheckPass
}
