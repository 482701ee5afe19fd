// Package compile drives the source-to-code pipeline: scan, parse,
// resolve, generate, with an optional persistent code cache and a
// compile-event feed. Batches share one stub cache, so each stub is
// built at most once per process.
package compile

import (
	"context"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"stratus/internal/asm"
	"stratus/internal/codecache"
	"stratus/internal/codegen"
	"stratus/internal/lexer"
	"stratus/internal/parser"
	"stratus/internal/scope"
	"stratus/internal/stubs"
	"stratus/internal/trace"
)

// Options configures an Engine. Zero Parallelism means one worker per
// CPU; a nil Tracer discards events; a nil Cache disables caching.
type Options struct {
	Codegen     codegen.Options
	Parallelism int
	Tracer      trace.Publisher
	Cache       *codecache.Store
}

// Script is one compiled source unit.
type Script struct {
	ID     string
	Path   string
	Source string
	Code   *asm.Code
	Stats  Stats
}

// Stats records how a unit was compiled.
type Stats struct {
	Instructions int
	Constants    int
	Elapsed      time.Duration
	CacheHit     bool
}

// Engine compiles source units.
type Engine struct {
	opts  Options
	stubs *stubs.Cache

	mu      sync.Mutex
	scripts []*Script
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.Tracer == nil {
		opts.Tracer = trace.Discard
	}
	return &Engine{opts: opts, stubs: stubs.NewCache()}
}

// CompileSource compiles one unit. Cache faults fall back to a fresh
// compile; they are logged, not returned.
func (e *Engine) CompileSource(source, path string) (*Script, error) {
	start := time.Now()
	e.opts.Tracer.Publish(trace.Event{Kind: trace.CompileStart, File: path})

	sc := &Script{ID: uuid.New().String(), Path: path, Source: source}

	var key string
	if e.opts.Cache != nil {
		key = codecache.Key(source, e.opts.Codegen)
		code, ok, err := e.opts.Cache.Get(key, e.stubs)
		if err != nil {
			log.Printf("code cache read: %v", err)
		}
		if ok {
			sc.Code = code
			sc.Stats = Stats{
				Instructions: len(code.Instrs),
				Constants:    len(code.Pool),
				Elapsed:      time.Since(start),
				CacheHit:     true,
			}
			e.opts.Tracer.Publish(trace.Event{Kind: trace.CacheHit, File: path, Name: code.Name, Size: len(code.Instrs)})
			e.register(sc)
			return sc, nil
		}
	}

	code, err := e.build(source, path)
	if err != nil {
		e.opts.Tracer.Publish(trace.Event{Kind: trace.CompileError, File: path, Detail: err.Error()})
		return nil, err
	}
	sc.Code = code
	sc.Stats = Stats{
		Instructions: len(code.Instrs),
		Constants:    len(code.Pool),
		Elapsed:      time.Since(start),
	}

	if e.opts.Cache != nil {
		if err := e.opts.Cache.Put(key, code); err != nil {
			log.Printf("code cache write: %v", err)
		} else {
			e.opts.Tracer.Publish(trace.Event{Kind: trace.CacheStore, File: path, Name: code.Name})
		}
	}
	e.opts.Tracer.Publish(trace.Event{Kind: trace.CompileDone, File: path, Name: code.Name, Size: len(code.Instrs)})
	e.register(sc)
	return sc, nil
}

func (e *Engine) build(source, path string) (*asm.Code, error) {
	tokens := lexer.NewScanner(source).ScanTokens()
	p := parser.NewParserWithSource(tokens, source, path)
	program := p.Parse()
	if len(p.Errors) > 0 {
		return nil, p.Errors[0]
	}
	res, err := scope.Resolve(program, path)
	if err != nil {
		return nil, err
	}
	return codegen.Compile(program, res, path, e.stubs, e.opts.Codegen)
}

// CompileFile compiles the unit at path.
func (e *Engine) CompileFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return e.CompileSource(string(data), path)
}

// CompileFiles compiles units concurrently, preserving input order in
// the result. The first failure cancels the rest.
func (e *Engine) CompileFiles(ctx context.Context, paths []string) ([]*Script, error) {
	out := make([]*Script, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallelism)
	for i, path := range paths {
		i, path := i, path // per-iteration copies; go.mod predates the go1.22 loop scoping
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			sc, err := e.CompileFile(path)
			if err != nil {
				return err
			}
			out[i] = sc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.opts.Tracer.Publish(trace.Event{Kind: trace.StubsBuilt, Size: e.stubs.Size()})
	return out, nil
}

func (e *Engine) register(sc *Script) {
	e.mu.Lock()
	e.scripts = append(e.scripts, sc)
	e.mu.Unlock()
}

// Scripts returns every unit compiled so far, in completion order.
func (e *Engine) Scripts() []*Script {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Script, len(e.scripts))
	copy(out, e.scripts)
	return out
}

// Stubs exposes the shared stub cache.
func (e *Engine) Stubs() *stubs.Cache { return e.stubs }

// Check runs the whole pipeline over source and reports the first
// problem, discarding the generated code.
func Check(source, path string) error {
	tokens := lexer.NewScanner(source).ScanTokens()
	p := parser.NewParserWithSource(tokens, source, path)
	program := p.Parse()
	if len(p.Errors) > 0 {
		return p.Errors[0]
	}
	res, err := scope.Resolve(program, path)
	if err != nil {
		return err
	}
	_, err = codegen.Compile(program, res, path, nil, codegen.DefaultOptions())
	return err
}
