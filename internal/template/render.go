package template

import (
	"fmt"
	"strings"

	starctx "github.com/leapstack-labs/leapflow/internal/starlark"
	"go.starlark.net/starlark"
)

// Render evaluates tmpl against ctx.
func Render(tmpl *Template, ctx *starctx.Context) (string, error) {
	r := &renderer{ctx: ctx, file: tmpl.File}
	var sb strings.Builder
	if err := r.nodes(&sb, tmpl.Nodes, nil); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// RenderString parses and renders src in one step.
func RenderString(src, file string, ctx *starctx.Context) (string, error) {
	tmpl, err := Parse(src, file)
	if err != nil {
		return "", err
	}
	return Render(tmpl, ctx)
}

type renderer struct {
	ctx  *starctx.Context
	file string
}

func (r *renderer) nodes(sb *strings.Builder, nodes []Node, locals starlark.StringDict) error {
	for _, n := range nodes {
		if err := r.node(sb, n, locals); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) node(sb *strings.Builder, n Node, locals starlark.StringDict) error {
	switch n := n.(type) {
	case *TextNode:
		sb.WriteString(n.Text)
	case *ExprNode:
		s, err := r.ctx.EvalString(n.Expr, r.file, n.At.Line, locals)
		if err != nil {
			return r.fail(n.At, "expression failed", err)
		}
		sb.WriteString(s)
	case *ForBlock:
		return r.forBlock(sb, n, locals)
	case *IfBlock:
		return r.ifBlock(sb, n, locals)
	default:
		return errorf(KindRender, n.Pos(), "unsupported node %T", n)
	}
	return nil
}

func (r *renderer) forBlock(sb *strings.Builder, n *ForBlock, locals starlark.StringDict) error {
	v, err := r.ctx.Eval(n.IterExpr, r.file, n.At.Line, locals)
	if err != nil {
		return r.fail(n.At, "loop expression failed", err)
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return errorf(KindRender, n.At, "cannot iterate over %s", v.Type())
	}

	it := iterable.Iterate()
	defer it.Done()

	var item starlark.Value
	for it.Next(&item) {
		scope := make(starlark.StringDict, len(locals)+len(n.VarNames))
		for k, v := range locals {
			scope[k] = v
		}
		if err := bind(scope, n.VarNames, item); err != nil {
			return errorf(KindRender, n.At, "%v", err)
		}
		if err := r.nodes(sb, n.Body, scope); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) ifBlock(sb *strings.Builder, n *IfBlock, locals starlark.StringDict) error {
	for _, br := range n.Branches {
		v, err := r.ctx.Eval(br.Condition, r.file, n.At.Line, locals)
		if err != nil {
			return r.fail(n.At, "condition failed", err)
		}
		if v.Truth() {
			return r.nodes(sb, br.Body, locals)
		}
	}
	return r.nodes(sb, n.Else, locals)
}

func (r *renderer) fail(pos Position, msg string, err error) error {
	return &Error{Kind: KindRender, Pos: pos, Msg: msg, Err: err}
}

func bind(scope starlark.StringDict, names []string, item starlark.Value) error {
	if len(names) == 1 {
		scope[names[0]] = item
		return nil
	}
	seq, ok := item.(starlark.Indexable)
	if !ok || seq.Len() != len(names) {
		return fmt.Errorf("cannot unpack %s into %d names", item.Type(), len(names))
	}
	for i, name := range names {
		scope[name] = seq.Index(i)
	}
	return nil
}
