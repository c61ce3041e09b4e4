package template

import "fmt"

// ErrorKind classifies template errors.
type ErrorKind string

// Error kinds.
const (
	KindSyntax ErrorKind = "syntax"
	KindBlock  ErrorKind = "block"
	KindRender ErrorKind = "render"
)

// Error is a positioned template error.
type Error struct {
	Kind ErrorKind
	Pos  Position
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	loc := fmt.Sprintf("%d:%d", e.Pos.Line, e.Pos.Column)
	if e.Pos.File != "" {
		loc = e.Pos.File + ":" + loc
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", loc, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func errorf(kind ErrorKind, pos Position, format string, args ...any) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
