// Package template renders SQL model files containing Starlark
// expressions ({{ expr }}) and control blocks ({* for/if *}).
package template

// Position is a location in a template source.
type Position struct {
	File   string
	Line   int
	Column int
}

// Node is an element of a parsed template.
type Node interface {
	Pos() Position
}

// TextNode is literal SQL.
type TextNode struct {
	At   Position
	Text string
}

// ExprNode is a {{ expr }} substitution.
type ExprNode struct {
	At   Position
	Expr string
}

// ForBlock is {* for x in expr *} ... {* endfor *}. VarNames holds more
// than one name when the loop unpacks tuples.
type ForBlock struct {
	At       Position
	VarNames []string
	IterExpr string
	Body     []Node
}

// IfBlock is an if/elif/else chain. Branches are tried in order; Else runs
// when none matches.
type IfBlock struct {
	At       Position
	Branches []Branch
	Else     []Node
}

// Branch is one conditional arm of an IfBlock.
type Branch struct {
	Condition string
	Body      []Node
}

func (n *TextNode) Pos() Position { return n.At }
func (n *ExprNode) Pos() Position { return n.At }
func (n *ForBlock) Pos() Position { return n.At }
func (n *IfBlock) Pos() Position  { return n.At }

// Template is a parsed template.
type Template struct {
	File  string
	Nodes []Node
}
