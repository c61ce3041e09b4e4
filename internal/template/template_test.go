package template

import (
	"errors"
	"testing"

	starctx "github.com/leapstack-labs/leapflow/internal/starlark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) *starctx.Context {
	t.Helper()
	ctx, err := starctx.NewContext(
		starctx.WithConfig(map[string]any{"materialized": "table"}),
		starctx.WithTarget(&starctx.TargetInfo{Name: "dev", Type: "duckdb", Schema: "retail"}),
		starctx.WithThis(&starctx.ThisInfo{Name: "fct_invoices", Schema: "retail"}),
		starctx.WithVars(map[string]any{"countries": []any{"France", "Germany"}}),
	)
	require.NoError(t, err)
	return ctx
}

func TestParse_Structure(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, tmpl *Template)
	}{
		{
			name:  "text and expression",
			input: "SELECT {{ col }} FROM t",
			check: func(t *testing.T, tmpl *Template) {
				require.Len(t, tmpl.Nodes, 3)
				assert.Equal(t, "SELECT ", tmpl.Nodes[0].(*TextNode).Text)
				assert.Equal(t, "col", tmpl.Nodes[1].(*ExprNode).Expr)
				assert.Equal(t, 1, tmpl.Nodes[1].Pos().Line)
				assert.Equal(t, 8, tmpl.Nodes[1].Pos().Column)
			},
		},
		{
			name:  "for with tuple unpacking",
			input: "{* for k, v in items: *}{{ k }}{* endfor *}",
			check: func(t *testing.T, tmpl *Template) {
				require.Len(t, tmpl.Nodes, 1)
				loop := tmpl.Nodes[0].(*ForBlock)
				assert.Equal(t, []string{"k", "v"}, loop.VarNames)
				assert.Equal(t, "items", loop.IterExpr)
				assert.Len(t, loop.Body, 1)
			},
		},
		{
			name:  "if elif else",
			input: "{* if a: *}A{* elif b *}B{* else: *}C{* endif *}",
			check: func(t *testing.T, tmpl *Template) {
				block := tmpl.Nodes[0].(*IfBlock)
				require.Len(t, block.Branches, 2)
				assert.Equal(t, "a", block.Branches[0].Condition)
				assert.Equal(t, "b", block.Branches[1].Condition)
				require.Len(t, block.Else, 1)
			},
		},
		{
			name:  "comment dropped",
			input: "a{# note #}b",
			check: func(t *testing.T, tmpl *Template) {
				require.Len(t, tmpl.Nodes, 2)
				assert.Equal(t, "a", tmpl.Nodes[0].(*TextNode).Text)
				assert.Equal(t, "b", tmpl.Nodes[1].(*TextNode).Text)
			},
		},
		{
			name:  "braces inside expression",
			input: `{{ {"a": {"b": 1}}["a"]["b"] }}`,
			check: func(t *testing.T, tmpl *Template) {
				require.Len(t, tmpl.Nodes, 1)
				assert.Equal(t, `{"a": {"b": 1}}["a"]["b"]`, tmpl.Nodes[0].(*ExprNode).Expr)
			},
		},
		{
			name:  "delimiter inside string",
			input: `{{ "}}" }}`,
			check: func(t *testing.T, tmpl *Template) {
				assert.Equal(t, `"}}"`, tmpl.Nodes[0].(*ExprNode).Expr)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.input, "m.sql")
			require.NoError(t, err)
			tt.check(t, tmpl)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  ErrorKind
	}{
		{name: "unclosed expression", input: "{{ x", kind: KindSyntax},
		{name: "unclosed statement", input: "{* if x", kind: KindSyntax},
		{name: "unclosed comment", input: "{# x", kind: KindSyntax},
		{name: "empty expression", input: "{{ }}", kind: KindSyntax},
		{name: "missing endfor", input: "{* for x in y *}x", kind: KindBlock},
		{name: "missing endif", input: "{* if x *}x", kind: KindBlock},
		{name: "stray endif", input: "x{* endif *}", kind: KindBlock},
		{name: "endif closes for", input: "{* for x in y *}{* endif *}", kind: KindBlock},
		{name: "elif after else", input: "{* if a *}{* else *}{* elif b *}{* endif *}", kind: KindBlock},
		{name: "bad for", input: "{* for in y *}{* endfor *}", kind: KindSyntax},
		{name: "unknown statement", input: "{* while x *}", kind: KindSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input, "m.sql")
			require.Error(t, err)
			var tmplErr *Error
			require.True(t, errors.As(err, &tmplErr))
			assert.Equal(t, tt.kind, tmplErr.Kind)
			assert.Contains(t, err.Error(), "m.sql:")
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "SELECT 1", want: "SELECT 1"},
		{name: "this", input: "CREATE TABLE {{ this }}", want: "CREATE TABLE retail.fct_invoices"},
		{name: "ref without resolver", input: "FROM {{ ref('dim_customer') }}", want: "FROM dim_customer"},
		{name: "source", input: "FROM {{ source('retail', 'raw_invoices') }}", want: "FROM retail.raw_invoices"},
		{name: "loop", input: "{* for c in var('countries') *}'{{ c }}',{* endfor *}", want: "'France','Germany',"},
		{name: "loop tuple", input: "{* for i, c in enumerate(['a', 'b']) *}{{ i }}{{ c }}{* endfor *}", want: "0a1b"},
		{name: "if true", input: `{* if env == "dev" *}LIMIT 10{* endif *}`, want: "LIMIT 10"},
		{name: "elif", input: `{* if env == "prod" *}P{* elif target.type == "duckdb" *}D{* else *}O{* endif *}`, want: "D"},
		{name: "else", input: `{* if False *}x{* else *}y{* endif *}`, want: "y"},
		{name: "trim markers", input: "SELECT\n  {{- ' a ' -}}  \nFROM t", want: "SELECT a FROM t"},
		{name: "trim comment", input: "a\n{#- gone -#}\nb", want: "ab"},
		{name: "nested", input: "{* for x in [1, 2, 3] *}{* if x > 1 *}{{ x }}{* endif *}{* endfor *}", want: "23"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderString(tt.input, "m.sql", newTestContext(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	for _, input := range []string{
		"{{ missing }}",
		"{* for x in 42 *}{{ x }}{* endfor *}",
		"{* if missing *}x{* endif *}",
		"{* for a, b in [1] *}{* endfor *}",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := RenderString(input, "m.sql", newTestContext(t))
			require.Error(t, err)
			var tmplErr *Error
			require.ErrorAs(t, err, &tmplErr)
			assert.Equal(t, KindRender, tmplErr.Kind)
		})
	}
}

func TestRender_RecordsRefs(t *testing.T) {
	ctx := newTestContext(t)
	_, err := RenderString("SELECT * FROM {{ ref('dim_customer') }} JOIN {{ ref('dim_product') }}", "m.sql", ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dim_customer", "dim_product"}, ctx.Refs())
}
