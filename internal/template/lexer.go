package template

import "strings"

// tokenKind identifies a lexed segment.
type tokenKind int

const (
	tokText tokenKind = iota
	tokExpr
	tokStmt
)

// token is one segment of the source. trimBefore/trimAfter come from the
// "-" whitespace markers: {{- x -}} strips surrounding whitespace.
type token struct {
	kind       tokenKind
	value      string
	pos        Position
	trimBefore bool
	trimAfter  bool
}

type delimiter struct {
	open, close string
	kind        tokenKind
	comment     bool
}

var delimiters = []delimiter{
	{open: "{{", close: "}}", kind: tokExpr},
	{open: "{*", close: "*}", kind: tokStmt},
	{open: "{#", close: "#}", comment: true},
}

type lexer struct {
	src  string
	file string
	off  int
	line int
	col  int
}

// lex splits src into text, expression and statement tokens. Comments are
// dropped. Whitespace markers are applied to neighbouring text.
func lex(src, file string) ([]token, error) {
	l := &lexer{src: src, file: file, line: 1, col: 1}
	var toks []token
	for l.off < len(l.src) {
		d, ok := l.delimiterAt()
		if !ok {
			toks = append(toks, l.text())
			continue
		}
		tok, err := l.tag(d)
		if err != nil {
			return nil, err
		}
		if d.comment {
			if tok.trimBefore && len(toks) > 0 && toks[len(toks)-1].kind == tokText {
				toks[len(toks)-1].value = strings.TrimRight(toks[len(toks)-1].value, " \t\r\n")
			}
			if tok.trimAfter {
				l.skipSpace(" \t\r\n")
			}
			continue
		}
		toks = append(toks, tok)
	}
	applyTrim(toks)
	return toks, nil
}

func (l *lexer) delimiterAt() (delimiter, bool) {
	for _, d := range delimiters {
		if strings.HasPrefix(l.src[l.off:], d.open) {
			return d, true
		}
	}
	return delimiter{}, false
}

func (l *lexer) pos() Position {
	return Position{File: l.file, Line: l.line, Column: l.col}
}

func (l *lexer) text() token {
	start, pos := l.off, l.pos()
	for l.off < len(l.src) {
		if _, ok := l.delimiterAt(); ok {
			break
		}
		l.advance(1)
	}
	return token{kind: tokText, value: l.src[start:l.off], pos: pos}
}

func (l *lexer) tag(d delimiter) (token, error) {
	pos := l.pos()
	l.advance(len(d.open))
	tok := token{kind: d.kind, pos: pos}
	if strings.HasPrefix(l.src[l.off:], "-") {
		tok.trimBefore = true
		l.advance(1)
	}

	if d.comment {
		end := strings.Index(l.src[l.off:], d.close)
		if end < 0 {
			return token{}, errorf(KindSyntax, pos, "unclosed comment: missing %q", d.close)
		}
		tok.trimAfter = end > 0 && l.src[l.off+end-1] == '-'
		l.advance(end + len(d.close))
		return tok, nil
	}

	start := l.off
	depth := 0
	var quote byte
	for l.off < len(l.src) {
		c := l.src[l.off]
		switch {
		case quote != 0:
			if c == '\\' {
				l.advance(1)
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '{' || c == '[' || c == '(':
			depth++
		case (c == '}' || c == ']' || c == ')') && depth > 0:
			depth--
		case depth == 0 && strings.HasPrefix(l.src[l.off:], "-"+d.close):
			tok.value = strings.TrimSpace(l.src[start:l.off])
			tok.trimAfter = true
			l.advance(1 + len(d.close))
			return tok, nil
		case depth == 0 && strings.HasPrefix(l.src[l.off:], d.close):
			tok.value = strings.TrimSpace(l.src[start:l.off])
			l.advance(len(d.close))
			return tok, nil
		}
		l.advance(1)
	}
	return token{}, errorf(KindSyntax, pos, "unclosed %q: missing %q", d.open, d.close)
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.off < len(l.src); i++ {
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.off++
	}
}

func (l *lexer) skipSpace(cutset string) {
	for l.off < len(l.src) && strings.IndexByte(cutset, l.src[l.off]) >= 0 {
		l.advance(1)
	}
}

func applyTrim(toks []token) {
	for i, t := range toks {
		if t.kind == tokText {
			continue
		}
		if t.trimBefore && i > 0 && toks[i-1].kind == tokText {
			toks[i-1].value = strings.TrimRight(toks[i-1].value, " \t\r\n")
		}
		if t.trimAfter && i+1 < len(toks) && toks[i+1].kind == tokText {
			toks[i+1].value = strings.TrimLeft(toks[i+1].value, " \t\r\n")
		}
	}
}
