package quality

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Condition is a numeric comparison such as "> 0" or "between 1 and 10".
type Condition struct {
	Op    string // =, !=, <, <=, >, >=, between, not between
	Value float64
	Low   float64
	High  float64
}

var (
	comparePattern = regexp.MustCompile(`^(=|!=|<>|<=|>=|<|>)\s*(\S+)$`)
	betweenPattern = regexp.MustCompile(`^(not\s+)?between\s+(\S+)\s+and\s+(\S+)$`)
)

// parseCondition parses a comparison. Durations ("1d", "12h", "30m") are
// accepted when duration is set and converted to hours.
func parseCondition(s string, duration bool) (Condition, error) {
	s = strings.TrimSpace(s)
	if m := betweenPattern.FindStringSubmatch(s); m != nil {
		low, err := parseNumber(m[2], duration)
		if err != nil {
			return Condition{}, err
		}
		high, err := parseNumber(m[3], duration)
		if err != nil {
			return Condition{}, err
		}
		op := "between"
		if m[1] != "" {
			op = "not between"
		}
		return Condition{Op: op, Low: low, High: high}, nil
	}
	if m := comparePattern.FindStringSubmatch(s); m != nil {
		v, err := parseNumber(m[2], duration)
		if err != nil {
			return Condition{}, err
		}
		op := m[1]
		if op == "<>" {
			op = "!="
		}
		return Condition{Op: op, Value: v}, nil
	}
	return Condition{}, fmt.Errorf("invalid condition %q", s)
}

func parseNumber(s string, duration bool) (float64, error) {
	if duration {
		if h, ok := parseAge(s); ok {
			return h, nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q", s)
	}
	return v, nil
}

// parseAge converts "1d", "6h", "30m" to hours.
func parseAge(s string) (float64, bool) {
	if len(s) < 2 {
		return 0, false
	}
	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil {
		return 0, false
	}
	switch s[len(s)-1] {
	case 'd':
		return n * 24, true
	case 'h':
		return n, true
	case 'm':
		return n / 60, true
	}
	return 0, false
}

// Holds reports whether v satisfies the condition.
func (c Condition) Holds(v float64) bool {
	switch c.Op {
	case "=":
		return v == c.Value
	case "!=":
		return v != c.Value
	case "<":
		return v < c.Value
	case "<=":
		return v <= c.Value
	case ">":
		return v > c.Value
	case ">=":
		return v >= c.Value
	case "between":
		return v >= c.Low && v <= c.High
	case "not between":
		return v < c.Low || v > c.High
	}
	return false
}

func (c Condition) String() string {
	if strings.HasSuffix(c.Op, "between") {
		return fmt.Sprintf("%s %s and %s", c.Op, formatNumber(c.Low), formatNumber(c.High))
	}
	return c.Op + " " + formatNumber(c.Value)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func hoursSince(t time.Time, now time.Time) float64 {
	return now.Sub(t).Hours()
}
