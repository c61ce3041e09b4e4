package starlark

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"go.starlark.net/starlark"
)

// Resolver turns ref() and source() calls into relation names.
type Resolver interface {
	Ref(model string) (string, error)
	Source(schema, table string) (string, error)
}

// Context holds the globals for rendering one model. It records every
// ref() and source() call so dependencies can be read back after a render.
type Context struct {
	Config    map[string]any
	Env       string
	Target    *TargetInfo
	This      *ThisInfo
	Vars      map[string]any
	Resolver  Resolver
	LookupEnv func(string) (string, bool)

	mu      sync.Mutex
	refs    []string
	sources [][2]string
	globals starlark.StringDict
}

// Option configures a Context.
type Option func(*Context)

// WithConfig sets the "config" global from frontmatter values.
func WithConfig(cfg map[string]any) Option { return func(c *Context) { c.Config = cfg } }

// WithTarget sets the "target" global and "env" to the target name.
func WithTarget(t *TargetInfo) Option {
	return func(c *Context) {
		c.Target = t
		if t != nil && c.Env == "" {
			c.Env = t.Name
		}
	}
}

// WithThis sets the "this" global.
func WithThis(t *ThisInfo) Option { return func(c *Context) { c.This = t } }

// WithVars sets the values returned by var().
func WithVars(v map[string]any) Option { return func(c *Context) { c.Vars = v } }

// WithResolver sets how ref() and source() resolve.
func WithResolver(r Resolver) Option { return func(c *Context) { c.Resolver = r } }

// WithEnv overrides the "env" global.
func WithEnv(env string) Option { return func(c *Context) { c.Env = env } }

// WithLookupEnv overrides the environment lookup used by env_var().
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(c *Context) { c.LookupEnv = fn }
}

// NewContext builds a rendering context.
func NewContext(opts ...Option) (*Context, error) {
	c := &Context{LookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.buildGlobals(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) buildGlobals() error {
	cfg, err := GoToStarlark(c.Config)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg == starlark.None {
		cfg = starlark.NewDict(0)
	}

	c.globals = starlark.StringDict{
		"config":  cfg,
		"env":     starlark.String(c.Env),
		"ref":     starlark.NewBuiltin("ref", c.builtinRef),
		"source":  starlark.NewBuiltin("source", c.builtinSource),
		"var":     starlark.NewBuiltin("var", c.builtinVar),
		"env_var": starlark.NewBuiltin("env_var", c.builtinEnvVar),
	}
	if c.Target != nil {
		c.globals["target"] = c.Target.ToStarlark()
	}
	if c.This != nil {
		c.globals["this"] = c.This.ToStarlark()
	}
	return nil
}

// Globals returns the predeclared names. The map must not be modified.
func (c *Context) Globals() starlark.StringDict {
	return c.globals
}

// Refs returns the distinct models passed to ref(), in call order.
func (c *Context) Refs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.refs)
}

// Sources returns the distinct (schema, table) pairs passed to source().
func (c *Context) Sources() [][2]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sources)
}

// Eval evaluates a single expression. locals shadow globals.
func (c *Context) Eval(expr, file string, line int, locals starlark.StringDict) (starlark.Value, error) {
	env := c.globals
	if len(locals) > 0 {
		env = maps.Clone(c.globals)
		maps.Copy(env, locals)
	}
	thread := &starlark.Thread{Name: file, Print: func(*starlark.Thread, string) {}}
	v, err := starlark.Eval(thread, file, expr, env) //nolint:staticcheck // SA1019: EvalOptions migration pending
	if err != nil {
		return nil, &EvalError{File: file, Line: line, Expr: expr, Err: err}
	}
	return v, nil
}

// EvalString evaluates expr and renders the result as SQL text.
func (c *Context) EvalString(expr, file string, line int, locals starlark.StringDict) (string, error) {
	v, err := c.Eval(expr, file, line, locals)
	if err != nil {
		return "", err
	}
	return ToString(v), nil
}

func (c *Context) builtinRef(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var model string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &model); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if !slices.Contains(c.refs, model) {
		c.refs = append(c.refs, model)
	}
	c.mu.Unlock()

	if c.Resolver == nil {
		return starlark.String(model), nil
	}
	name, err := c.Resolver.Ref(model)
	if err != nil {
		return nil, err
	}
	return starlark.String(name), nil
}

func (c *Context) builtinSource(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var schema, table string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &schema, &table); err != nil {
		return nil, err
	}
	pair := [2]string{schema, table}
	c.mu.Lock()
	if !slices.Contains(c.sources, pair) {
		c.sources = append(c.sources, pair)
	}
	c.mu.Unlock()

	if c.Resolver == nil {
		return starlark.String(schema + "." + table), nil
	}
	name, err := c.Resolver.Source(schema, table)
	if err != nil {
		return nil, err
	}
	return starlark.String(name), nil
}

func (c *Context) builtinVar(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := c.Vars[name]; ok {
		return GoToStarlark(v)
	}
	if def != nil {
		return def, nil
	}
	return nil, fmt.Errorf("var %q is not defined", name)
}

func (c *Context) builtinEnvVar(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if c.LookupEnv != nil {
		if v, ok := c.LookupEnv(name); ok {
			return starlark.String(v), nil
		}
	}
	if def != nil {
		return def, nil
	}
	return nil, fmt.Errorf("environment variable %q is not set", name)
}

// EvalError reports a failed expression.
type EvalError struct {
	File string
	Line int
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: evaluating %q: %v", e.File, e.Line, e.Expr, e.Err)
	}
	return fmt.Sprintf("%s: evaluating %q: %v", e.File, e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }
