// Package starlark provides the Starlark globals and conversions used when
// rendering model templates.
package starlark

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// TargetInfo describes the warehouse target a model renders against.
// Exposed as the "target" global.
type TargetInfo struct {
	Name     string // profile target name, e.g. "dev"
	Type     string // adapter type, e.g. "duckdb"
	Schema   string
	Database string
	Threads  int
}

// ThisInfo describes the model being rendered. Exposed as "this".
type ThisInfo struct {
	Name   string
	Schema string
}

// Identifier returns the schema-qualified relation name of the model.
func (t *ThisInfo) Identifier() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ToStarlark converts t to a struct value.
func (t *TargetInfo) ToStarlark() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("target"), starlark.StringDict{
		"name":     starlark.String(t.Name),
		"type":     starlark.String(t.Type),
		"schema":   starlark.String(t.Schema),
		"database": starlark.String(t.Database),
		"threads":  starlark.MakeInt(t.Threads),
	})
}

// ToStarlark converts t to a relation value. str(this) yields the identifier.
func (t *ThisInfo) ToStarlark() starlark.Value {
	return relation{name: t.Name, schema: t.Schema}
}

// relation is a model reference whose string form is its qualified name,
// so {{ this }} renders as schema.name while this.name stays addressable.
type relation struct {
	name, schema string
}

var _ starlark.HasAttrs = relation{}

func (r relation) ident() string {
	return (&ThisInfo{Name: r.name, Schema: r.schema}).Identifier()
}

func (r relation) String() string        { return r.ident() }
func (r relation) Type() string          { return "relation" }
func (r relation) Freeze()               {}
func (r relation) Truth() starlark.Bool  { return starlark.True }
func (r relation) Hash() (uint32, error) { return starlark.String(r.ident()).Hash() }

func (r relation) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(r.name), nil
	case "schema":
		return starlark.String(r.schema), nil
	case "identifier":
		return starlark.String(r.ident()), nil
	}
	return nil, nil
}

func (r relation) AttrNames() []string { return []string{"identifier", "name", "schema"} }

// GoToStarlark converts a decoded YAML/JSON value into a Starlark value.
func GoToStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return val, nil
	case string:
		return starlark.String(val), nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case []string:
		elems := make([]starlark.Value, len(val))
		for i, s := range val {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems), nil
	case []any:
		elems := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := GoToStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return GoToStarlark(m)
	default:
		return nil, fmt.Errorf("cannot convert %T to starlark", v)
	}
}

// ToString renders a value the way it appears in SQL output: strings
// unquoted, None empty, everything else in Starlark notation.
func ToString(v starlark.Value) string {
	switch val := v.(type) {
	case starlark.String:
		return string(val)
	case starlark.NoneType:
		return ""
	default:
		return v.String()
	}
}
