package template

import (
	"regexp"
	"strings"
)

var forPattern = regexp.MustCompile(`^for\s+([A-Za-z_]\w*(?:\s*,\s*[A-Za-z_]\w*)*)\s+in\s+(.+)$`)

// Parse lexes and parses a template source.
func Parse(src, file string) (*Template, error) {
	toks, err := lex(src, file)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	nodes, stop, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	if stop != nil {
		return nil, errorf(KindBlock, stop.pos, "%q without matching block", keyword(stop.value))
	}
	return &Template{File: file, Nodes: nodes}, nil
}

type parser struct {
	toks []token
	i    int
}

// parseUntil collects nodes until a closing statement (endfor, endif,
// elif, else) or end of input. The closing token is returned unconsumed
// from the node list.
func (p *parser) parseUntil() ([]Node, *token, error) {
	var nodes []Node
	for p.i < len(p.toks) {
		tok := p.toks[p.i]
		p.i++
		switch tok.kind {
		case tokText:
			if tok.value != "" {
				nodes = append(nodes, &TextNode{At: tok.pos, Text: tok.value})
			}
		case tokExpr:
			if tok.value == "" {
				return nil, nil, errorf(KindSyntax, tok.pos, "empty expression")
			}
			nodes = append(nodes, &ExprNode{At: tok.pos, Expr: tok.value})
		case tokStmt:
			switch keyword(tok.value) {
			case "for":
				n, err := p.parseFor(tok)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, n)
			case "if":
				n, err := p.parseIf(tok)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, n)
			case "endfor", "endif", "elif", "else":
				return nodes, &tok, nil
			default:
				return nil, nil, errorf(KindSyntax, tok.pos, "unknown statement %q", tok.value)
			}
		}
	}
	return nodes, nil, nil
}

func (p *parser) parseFor(open token) (Node, error) {
	m := forPattern.FindStringSubmatch(stripColon(open.value))
	if m == nil {
		return nil, errorf(KindSyntax, open.pos, "invalid for statement %q", open.value)
	}
	var names []string
	for _, n := range strings.Split(m[1], ",") {
		names = append(names, strings.TrimSpace(n))
	}

	body, stop, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	if stop == nil {
		return nil, errorf(KindBlock, open.pos, "unclosed 'for' block (missing 'endfor')")
	}
	if keyword(stop.value) != "endfor" {
		return nil, errorf(KindBlock, stop.pos, "unexpected %q inside 'for' block", keyword(stop.value))
	}
	return &ForBlock{At: open.pos, VarNames: names, IterExpr: strings.TrimSpace(m[2]), Body: body}, nil
}

func (p *parser) parseIf(open token) (Node, error) {
	block := &IfBlock{At: open.pos}
	cond := condition(open.value, "if")
	if cond == "" {
		return nil, errorf(KindSyntax, open.pos, "if statement without condition")
	}

	for {
		body, stop, err := p.parseUntil()
		if err != nil {
			return nil, err
		}
		if stop == nil {
			return nil, errorf(KindBlock, open.pos, "unclosed 'if' block (missing 'endif')")
		}

		if block.Else != nil || cond == "" {
			// Already inside else: only endif may follow.
			if keyword(stop.value) != "endif" {
				return nil, errorf(KindBlock, stop.pos, "unexpected %q after 'else'", keyword(stop.value))
			}
			block.Else = body
			if block.Else == nil {
				block.Else = []Node{}
			}
			return block, nil
		}
		block.Branches = append(block.Branches, Branch{Condition: cond, Body: body})

		switch keyword(stop.value) {
		case "endif":
			return block, nil
		case "elif":
			cond = condition(stop.value, "elif")
			if cond == "" {
				return nil, errorf(KindSyntax, stop.pos, "elif statement without condition")
			}
		case "else":
			cond = ""
		default:
			return nil, errorf(KindBlock, stop.pos, "unexpected %q inside 'if' block", keyword(stop.value))
		}
	}
}

func keyword(stmt string) string {
	stmt = stripColon(stmt)
	if i := strings.IndexAny(stmt, " \t\n"); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

func condition(stmt, kw string) string {
	return strings.TrimSpace(strings.TrimPrefix(stripColon(stmt), kw))
}

func stripColon(stmt string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ":"))
}
