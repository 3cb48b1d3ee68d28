// Package compiler is the facade tying the pipeline together: it
// obtains function syntax trees from a source collaborator, builds
// and analyzes graphs, linearizes IR, and drives the backends, caching
// every stage per function. Failures are cached like successes so a
// function that cannot compile is judged once.
package compiler

import (
	"context"
	"fmt"
	"sync"

	llir "github.com/llir/llvm/ir"
	"golang.org/x/sync/singleflight"

	"github.com/TazeTSchnitzel/recki-ct/analysis"
	"github.com/TazeTSchnitzel/recki-ct/cfg"
	"github.com/TazeTSchnitzel/recki-ct/codegen"
	"github.com/TazeTSchnitzel/recki-ct/codegen/jsgen"
	"github.com/TazeTSchnitzel/recki-ct/codegen/native"
	"github.com/TazeTSchnitzel/recki-ct/codegen/phpgen"
	"github.com/TazeTSchnitzel/recki-ct/ir"
	"github.com/TazeTSchnitzel/recki-ct/php"
)

// FunctionSource resolves a function name to its syntax tree.
// Parsing lives outside this module; implementations typically wrap a
// parser or a precomputed AST table.
type FunctionSource interface {
	FunctionAST(ctx context.Context, name string) (*php.Function, error)
}

// ParseError wraps a source failure for a named function.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("compiler: parsing %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnjitableError reports that analysis rejected a function.
type UnjitableError struct {
	Name    string
	Reasons []string
}

func (e *UnjitableError) Error() string {
	return fmt.Sprintf("compiler: %s is not compilable: %v", e.Name, e.Reasons)
}

// Context owns the per-function caches and the backends. It is safe
// for concurrent use; concurrent requests for the same function share
// one compilation.
type Context struct {
	source FunctionSource

	nativeOK      bool
	nativeBackend *native.Backend
	sources       map[codegen.Target]codegen.SourceBackend

	flight singleflight.Group

	mu      sync.Mutex
	graphs  map[string]*graphEntry
	irs     map[string]*irEntry
	modules map[string]*moduleEntry
	emitted map[string]*sourceEntry
}

type graphEntry struct {
	graph  *cfg.FunctionGraph
	result *analysis.Result
	err    error
}

type irEntry struct {
	fn  *ir.Function
	err error
}

type moduleEntry struct {
	module *llir.Module
	err    error
}

type sourceEntry struct {
	src string
	err error
}

// Option configures a Context.
type Option func(*Context)

// WithNativeAvailability overrides the startup capability probe for
// the native backend.
func WithNativeAvailability(ok bool) Option {
	return func(c *Context) { c.nativeOK = ok }
}

// New creates a compilation context around a function source.
func New(source FunctionSource, opts ...Option) *Context {
	c := &Context{
		source:        source,
		nativeOK:      native.Available(),
		nativeBackend: native.New(),
		sources: map[codegen.Target]codegen.SourceBackend{
			codegen.TargetPHP: phpgen.New(),
			codegen.TargetJS:  jsgen.New(),
		},
		graphs:  make(map[string]*graphEntry),
		irs:     make(map[string]*irEntry),
		modules: make(map[string]*moduleEntry),
		emitted: make(map[string]*sourceEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NativeAvailable reports whether CompileNative can succeed on this
// host. The answer is fixed at context creation.
func (c *Context) NativeAvailable() bool { return c.nativeOK }

// Graph returns the analyzed function graph for name.
func (c *Context) Graph(ctx context.Context, name string) (*cfg.FunctionGraph, error) {
	e, err := c.graphEntry(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.graph, nil
}

// Analysis returns the analysis result for name.
func (c *Context) Analysis(ctx context.Context, name string) (*analysis.Result, error) {
	e, err := c.graphEntry(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.result, nil
}

func (c *Context) graphEntry(ctx context.Context, name string) (*graphEntry, error) {
	c.mu.Lock()
	if e, ok := c.graphs[name]; ok {
		c.mu.Unlock()
		return e, e.err
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do("graph:"+name, func() (interface{}, error) {
		c.mu.Lock()
		if e, ok := c.graphs[name]; ok {
			c.mu.Unlock()
			return e, nil
		}
		c.mu.Unlock()

		e := c.buildGraph(ctx, name)
		c.mu.Lock()
		c.graphs[name] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	e := v.(*graphEntry)
	return e, e.err
}

func (c *Context) buildGraph(ctx context.Context, name string) *graphEntry {
	if err := ctx.Err(); err != nil {
		return &graphEntry{err: err}
	}
	fn, err := c.source.FunctionAST(ctx, name)
	if err != nil {
		return &graphEntry{err: &ParseError{Name: name, Err: err}}
	}
	g, err := cfg.Build(fn)
	if err != nil {
		return &graphEntry{err: err}
	}
	return &graphEntry{graph: g, result: analysis.Analyze(g)}
}

// IR returns the linearized IR for name, which must be jitable.
func (c *Context) IR(ctx context.Context, name string) (*ir.Function, error) {
	c.mu.Lock()
	if e, ok := c.irs[name]; ok {
		c.mu.Unlock()
		return e.fn, e.err
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do("ir:"+name, func() (interface{}, error) {
		c.mu.Lock()
		if e, ok := c.irs[name]; ok {
			c.mu.Unlock()
			return e, nil
		}
		c.mu.Unlock()

		e := &irEntry{}
		ge, err := c.graphEntry(ctx, name)
		if err != nil {
			e.err = err
		} else if ge.result.Verdict != analysis.Jitable {
			e.err = &UnjitableError{Name: name, Reasons: ge.result.Reasons}
		} else {
			e.fn, e.err = ir.Generate(ge.graph)
		}
		c.mu.Lock()
		c.irs[name] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	e := v.(*irEntry)
	return e.fn, e.err
}

// CompileNative lowers name to an LLVM module.
func (c *Context) CompileNative(ctx context.Context, name string) (*llir.Module, error) {
	if !c.nativeOK {
		return nil, fmt.Errorf("compiler: native backend for %s: %w", name, codegen.ErrUnavailable)
	}
	c.mu.Lock()
	if e, ok := c.modules[name]; ok {
		c.mu.Unlock()
		return e.module, e.err
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do("native:"+name, func() (interface{}, error) {
		c.mu.Lock()
		if e, ok := c.modules[name]; ok {
			c.mu.Unlock()
			return e, nil
		}
		c.mu.Unlock()

		e := &moduleEntry{}
		f, err := c.IR(ctx, name)
		if err != nil {
			e.err = err
		} else {
			e.module, e.err = c.nativeBackend.Compile(f)
		}
		c.mu.Lock()
		c.modules[name] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	e := v.(*moduleEntry)
	return e.module, e.err
}

// CompileSource emits name as source for the given target language.
func (c *Context) CompileSource(ctx context.Context, name string, target codegen.Target) (string, error) {
	backend, ok := c.sources[target]
	if !ok {
		return "", fmt.Errorf("compiler: no source backend for target %q", target)
	}
	key := string(target) + ":" + name
	c.mu.Lock()
	if e, ok := c.emitted[key]; ok {
		c.mu.Unlock()
		return e.src, e.err
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do("source:"+key, func() (interface{}, error) {
		c.mu.Lock()
		if e, ok := c.emitted[key]; ok {
			c.mu.Unlock()
			return e, nil
		}
		c.mu.Unlock()

		e := &sourceEntry{}
		f, err := c.IR(ctx, name)
		if err != nil {
			e.err = err
		} else {
			e.src, e.err = backend.Emit(f)
		}
		c.mu.Lock()
		c.emitted[key] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return "", err
	}
	e := v.(*sourceEntry)
	return e.src, e.err
}
