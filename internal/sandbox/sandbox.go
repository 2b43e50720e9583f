// Package sandbox compiles a validated component and renders it once inside an embedded
// JavaScript interpreter whose only globals are the catalog bindings and the request data.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"
	lru "github.com/hashicorp/golang-lru/v2"

	"genui/internal/catalog"
	"genui/internal/logging"
	"genui/internal/uitree"
)

// Options bound compilation and execution.
type Options struct {
	Anchor        string
	Catalog       *catalog.Catalog
	RenderTimeout time.Duration
	MaxCallStack  int
	CacheSize     int
}

// DefaultOptions returns the standard bounds.
func DefaultOptions() Options {
	return Options{
		Anchor:        "GeneratedComponent",
		Catalog:       catalog.Default(),
		RenderTimeout: 2 * time.Second,
		MaxCallStack:  1024,
		CacheSize:     128,
	}
}

// CompileError means the source could not be turned into a program. It is retryable.
type CompileError struct {
	Stage   string // "jsx" or "program"
	Message string
	Line    int
	Column  int
	Err     error
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("compile (%s) failed at line %d, column %d: %s", e.Stage, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("compile (%s) failed: %s", e.Stage, e.Message)
}

func (e *CompileError) Unwrap() error { return e.Err }

// RuntimeError means the compiled program failed while rendering. It is answered by the
// fallback renderer rather than another generation attempt.
type RuntimeError struct {
	Message string
	Stack   string
	Timeout bool
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Timeout {
		return "render timed out: " + e.Message
	}
	return "render failed: " + e.Message
}

func (e *RuntimeError) Unwrap() error { return e.Err }

var errRenderTimeout = errors.New("render time limit exceeded")

// Unit is a compiled component program. Programs are immutable and shared between runtimes.
type Unit struct {
	Key     string
	Source  string
	JS      string
	Cached  bool
	program *goja.Program
}

type compiled struct {
	js      string
	program *goja.Program
}

// Result is the outcome of one render.
type Result struct {
	Tree     *uitree.Node
	Effects  int
	Timers   int
	Logs     []string
	Duration time.Duration
}

// Evaluator compiles and renders components. It is safe for concurrent use; every render
// gets its own runtime and only compiled programs are shared.
type Evaluator struct {
	opts   Options
	cache  *lru.Cache[string, compiled]
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an Evaluator. Zero option fields take their defaults.
func New(opts Options) (*Evaluator, error) {
	def := DefaultOptions()
	if opts.Anchor == "" {
		opts.Anchor = def.Anchor
	}
	if opts.Catalog == nil {
		opts.Catalog = def.Catalog
	}
	if opts.RenderTimeout <= 0 {
		opts.RenderTimeout = def.RenderTimeout
	}
	if opts.MaxCallStack <= 0 {
		opts.MaxCallStack = def.MaxCallStack
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = def.CacheSize
	}
	cache, err := lru.New[string, compiled](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile cache: %w", err)
	}
	return &Evaluator{opts: opts, cache: cache}, nil
}

// CacheStats reports compile cache hits and misses.
func (e *Evaluator) CacheStats() (hits, misses int64) {
	return e.hits.Load(), e.misses.Load()
}

// Compile lowers JSX and compiles the program, reusing a cached program for identical source.
func (e *Evaluator) Compile(source string) (*Unit, error) {
	sum := sha256.Sum256([]byte(source))
	key := hex.EncodeToString(sum[:])
	if c, ok := e.cache.Get(key); ok {
		e.hits.Add(1)
		return &Unit{Key: key, Source: source, JS: c.js, Cached: true, program: c.program}, nil
	}
	e.misses.Add(1)

	res := api.Transform(source, api.TransformOptions{
		Loader:      api.LoaderJSX,
		JSX:         api.JSXTransform,
		JSXFactory:  "React.createElement",
		JSXFragment: "React.Fragment",
		Target:      api.ES2017,
		Sourcefile:  "component.jsx",
	})
	if len(res.Errors) > 0 {
		msg := res.Errors[0]
		ce := &CompileError{Stage: "jsx", Message: msg.Text}
		if msg.Location != nil {
			ce.Line = msg.Location.Line
			ce.Column = msg.Location.Column + 1
		}
		return nil, ce
	}

	js := string(res.Code)
	program, err := goja.Compile("component.js", js, false)
	if err != nil {
		return nil, &CompileError{Stage: "program", Message: err.Error(), Err: err}
	}
	e.cache.Add(key, compiled{js: js, program: program})
	logging.SandboxDebug("compiled component %s (%d bytes js)", key[:12], len(js))
	return &Unit{Key: key, Source: source, JS: js, program: program}, nil
}

// Render runs the unit in a fresh runtime and renders the anchor once. data is injected as a
// deep copy. The render is bounded by the configured timeout and by ctx.
func (e *Evaluator) Render(ctx context.Context, u *Unit, data any) (res *Result, err error) {
	start := time.Now()
	vm := goja.New()
	vm.SetMaxCallStackSize(e.opts.MaxCallStack)
	st := newRenderState(vm)

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &RuntimeError{Message: fmt.Sprintf("sandbox panic: %v", r)}
		}
	}()

	if err := install(vm, st, e.opts.Catalog, data); err != nil {
		return nil, &RuntimeError{Message: err.Error(), Err: err}
	}

	timer := time.AfterFunc(e.opts.RenderTimeout, func() { vm.Interrupt(errRenderTimeout) })
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	if _, err := vm.RunProgram(u.program); err != nil {
		return nil, runtimeError(err)
	}
	anchor := vm.Get(e.opts.Anchor)
	if _, ok := goja.AssertFunction(anchor); !ok {
		return nil, &RuntimeError{Message: fmt.Sprintf("%s is not a function", e.opts.Anchor)}
	}
	createElement, _ := goja.AssertFunction(vm.Get("React").ToObject(vm).Get("createElement"))
	out, err := createElement(goja.Undefined(), anchor)
	if err != nil {
		return nil, runtimeError(err)
	}

	root, err := st.root(out)
	if err != nil {
		return nil, &RuntimeError{Message: err.Error(), Err: err}
	}
	return &Result{
		Tree:     root,
		Effects:  st.effects,
		Timers:   st.timers,
		Logs:     st.logs,
		Duration: time.Since(start),
	}, nil
}

// Evaluate compiles and renders in one step.
func (e *Evaluator) Evaluate(ctx context.Context, source string, data any) (*Result, error) {
	u, err := e.Compile(source)
	if err != nil {
		return nil, err
	}
	return e.Render(ctx, u, data)
}

func runtimeError(err error) *RuntimeError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		msg := fmt.Sprint(interrupted.Value())
		return &RuntimeError{Message: msg, Timeout: true, Err: err}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		msg := ex.Error()
		if v := ex.Value(); v != nil {
			msg = v.String()
		}
		return &RuntimeError{Message: msg, Stack: ex.String(), Err: err}
	}
	return &RuntimeError{Message: err.Error(), Err: err}
}
