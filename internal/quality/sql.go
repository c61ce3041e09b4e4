package quality

import (
	"fmt"
	"strconv"
	"strings"
)

// query is the compiled form of a metric check.
type query struct {
	SQL  string
	Time bool // the query returns a timestamp instead of a number
}

// compile renders the single query that measures c against relation.
func compile(c *Check, relation string) (query, error) {
	col := c.Column
	where := c.Filter

	switch c.Metric {
	case MetricRowCount:
		return query{SQL: "SELECT COUNT(*) FROM " + relation + whereClause(where)}, nil

	case MetricMissingCount:
		return query{SQL: "SELECT COUNT(*) FROM " + relation + whereClause(where, missingExpr(col, c.MissingValues))}, nil

	case MetricMissingPercent:
		return query{SQL: fmt.Sprintf(
			"SELECT CAST(CASE WHEN COUNT(*) = 0 THEN 0 ELSE 100.0 * SUM(CASE WHEN %s THEN 1 ELSE 0 END) / COUNT(*) END AS DOUBLE PRECISION) FROM %s%s",
			missingExpr(col, c.MissingValues), relation, whereClause(where))}, nil

	case MetricDuplicateCount:
		return query{SQL: fmt.Sprintf(
			"SELECT COUNT(*) FROM (SELECT %s FROM %s%s GROUP BY %s HAVING COUNT(*) > 1) AS duplicates",
			col, relation, whereClause(where, col+" IS NOT NULL"), col)}, nil

	case MetricInvalidCount:
		valid, err := validExpr(c)
		if err != nil {
			return query{}, err
		}
		return query{SQL: "SELECT COUNT(*) FROM " + relation +
			whereClause(where, "NOT ("+missingExpr(col, c.MissingValues)+")", "NOT ("+valid+")")}, nil

	case MetricMin, MetricMax, MetricAvg, MetricSum:
		return query{SQL: fmt.Sprintf("SELECT CAST(%s(%s) AS DOUBLE PRECISION) FROM %s%s",
			strings.ToUpper(c.Metric), col, relation, whereClause(where))}, nil

	case MetricFreshness:
		return query{SQL: fmt.Sprintf("SELECT MAX(%s) FROM %s%s", col, relation, whereClause(where)), Time: true}, nil

	default:
		return query{}, fmt.Errorf("metric %s has no query form", c.Metric)
	}
}

func whereClause(conds ...string) string {
	var parts []string
	for _, c := range conds {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, "("+c+")")
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

func missingExpr(col string, missing []any) string {
	expr := col + " IS NULL"
	if len(missing) > 0 {
		expr += " OR " + col + " IN (" + literalList(missing) + ")"
	}
	return expr
}

func validExpr(c *Check) (string, error) {
	var parts []string
	if len(c.ValidValues) > 0 {
		parts = append(parts, c.Column+" IN ("+literalList(c.ValidValues)+")")
	}
	if c.ValidMin != nil {
		parts = append(parts, c.Column+" >= "+formatNumber(*c.ValidMin))
	}
	if c.ValidMax != nil {
		parts = append(parts, c.Column+" <= "+formatNumber(*c.ValidMax))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("invalid_count(%s) has no validity rule", c.Column)
	}
	return strings.Join(parts, " AND "), nil
}

func literalList(values []any) string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = literal(v)
	}
	return strings.Join(out, ", ")
}

func literal(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return formatNumber(t)
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(t), "'", "''") + "'"
	}
}

var typeAliases = map[string]string{
	"text":                        "varchar",
	"string":                      "varchar",
	"character varying":           "varchar",
	"char":                        "varchar",
	"character":                   "varchar",
	"bpchar":                      "varchar",
	"int":                         "integer",
	"int4":                        "integer",
	"signed":                      "integer",
	"int8":                        "bigint",
	"long":                        "bigint",
	"int2":                        "smallint",
	"float8":                      "double",
	"double precision":            "double",
	"float4":                      "real",
	"float":                       "real",
	"bool":                        "boolean",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"numeric":                     "decimal",
}

// normalizeType folds warehouse type names so duckdb and postgres spellings
// compare equal. Precision suffixes such as varchar(20) are dropped.
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return t
}
