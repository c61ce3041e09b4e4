package project

import (
	"fmt"
	"path"
	"strings"

	"github.com/leapstack-labs/leapflow/pkg/core"
)

// Selector methods.
const (
	MethodName = "name"
	MethodPath = "path"
	MethodTag  = "tag"
)

// Selector is one parsed selection term, e.g. "+path:models/report+".
type Selector struct {
	Method     string
	Value      string
	Upstream   bool // "+" prefix: include ancestors
	Downstream bool // "+" suffix: include descendants
}

func (s Selector) String() string {
	var sb strings.Builder
	if s.Upstream {
		sb.WriteByte('+')
	}
	if s.Method != MethodName {
		sb.WriteString(s.Method + ":")
	}
	sb.WriteString(s.Value)
	if s.Downstream {
		sb.WriteByte('+')
	}
	return sb.String()
}

// ParseSelector parses a single term.
func ParseSelector(raw string) (Selector, error) {
	s := Selector{Method: MethodName}
	term := strings.TrimSpace(raw)
	if strings.HasPrefix(term, "+") {
		s.Upstream = true
		term = term[1:]
	}
	if strings.HasSuffix(term, "+") {
		s.Downstream = true
		term = term[:len(term)-1]
	}
	if method, value, ok := strings.Cut(term, ":"); ok {
		switch method {
		case MethodPath, MethodTag:
			s.Method = method
		default:
			return Selector{}, fmt.Errorf("selector %q: unknown method %q", raw, method)
		}
		term = value
	}
	if term == "" {
		return Selector{}, fmt.Errorf("selector %q: empty value", raw)
	}
	if s.Method == MethodPath {
		term = path.Clean(strings.TrimPrefix(strings.ReplaceAll(term, "\\", "/"), "./"))
	}
	s.Value = term
	return s, nil
}

// Select resolves selectors against the graph and returns the matching
// models in dependency order. Each item of include is a space-separated
// union of terms; terms joined by "," intersect. exclude uses the same
// syntax and removes its matches. An empty include selects everything.
func (g *Graph) Select(include, exclude []string) ([]*core.Model, error) {
	var chosen map[string]bool
	if len(include) == 0 {
		chosen = make(map[string]bool)
		for _, id := range g.dag.IDs() {
			chosen[id] = true
		}
	} else {
		var err error
		if chosen, err = g.resolve(include); err != nil {
			return nil, err
		}
	}

	dropped, err := g.resolve(exclude)
	if err != nil {
		return nil, err
	}
	for id := range dropped {
		delete(chosen, id)
	}

	var out []*core.Model
	for _, m := range g.Models() {
		if chosen[m.Name] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (g *Graph) resolve(items []string) (map[string]bool, error) {
	union := make(map[string]bool)
	for _, item := range items {
		for _, group := range strings.Fields(item) {
			matched, err := g.intersect(strings.Split(group, ","))
			if err != nil {
				return nil, err
			}
			for id := range matched {
				union[id] = true
			}
		}
	}
	return union, nil
}

func (g *Graph) intersect(terms []string) (map[string]bool, error) {
	var result map[string]bool
	for _, raw := range terms {
		sel, err := ParseSelector(raw)
		if err != nil {
			return nil, err
		}
		matched := g.match(sel)
		if result == nil {
			result = matched
			continue
		}
		for id := range result {
			if !matched[id] {
				delete(result, id)
			}
		}
	}
	return result, nil
}

func (g *Graph) match(sel Selector) map[string]bool {
	var seeds []string
	for _, id := range g.dag.IDs() {
		m, _ := g.dag.Node(id)
		if sel.matches(m) {
			seeds = append(seeds, id)
		}
	}

	out := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		out[id] = true
	}
	if sel.Upstream {
		for _, id := range g.dag.Upstream(seeds...) {
			out[id] = true
		}
	}
	if sel.Downstream {
		for _, id := range g.dag.Downstream(seeds...) {
			out[id] = true
		}
	}
	return out
}

func (s Selector) matches(m *core.Model) bool {
	switch s.Method {
	case MethodPath:
		if strings.HasSuffix(s.Value, ".sql") {
			return m.Path == s.Value
		}
		return underDir(m.Path, s.Value)
	case MethodTag:
		return m.HasTag(s.Value)
	default:
		return m.Name == s.Value
	}
}
