// Package jsexec runs tenant handler modules in goja, an embedded
// JavaScript interpreter. Modules are CommonJS: they assign request-method
// functions to exports and may require sibling modules by relative or
// package-absolute path. Every require is resolved under the generation of
// the entry module, so one request never mixes code from two deployments.
//
// Compiled programs are shared across requests in an LRU cache keyed by
// tenant generation and path. Runtimes are not: each loaded module gets a
// fresh goja.Runtime that lives for one request.
package jsexec

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

const (
	DefaultExt       = ".js"
	DefaultTimeout   = 30 * time.Second
	DefaultCacheSize = 1024
)

var ErrInvalidOptions = errors.New("jsexec: invalid options")

// Observer records handler execution time per request method.
type Observer interface {
	ObserveCodeExec(method string, d time.Duration)
}

type Options struct {
	Source codeexec.Source
	// Ext is appended to module paths that have none.
	Ext string
	// Timeout bounds one evaluation or call.
	Timeout time.Duration
	// CacheSize is the number of compiled programs kept.
	CacheSize int
	Observer  Observer
}

// Engine implements codeexec.Provider and codeexec.SuiteLoader.
type Engine struct {
	opts     Options
	programs *lru.Cache[string, *goja.Program]
}

var (
	_ codeexec.Provider    = (*Engine)(nil)
	_ codeexec.SuiteLoader = (*Engine)(nil)
)

func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, xerrors.Wrap(ErrInvalidOptions, "source is required")
	}
	if opts.Ext == "" {
		opts.Ext = DefaultExt
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	programs, err := lru.New[string, *goja.Program](opts.CacheSize)
	if err != nil {
		return nil, xerrors.Wrap(err, "program cache")
	}
	return &Engine{opts: opts, programs: programs}, nil
}

// Load evaluates the entry module of ref. A module whose source, or the
// source of anything it requires, cannot be read wraps
// codeexec.ErrModuleNotFound.
func (e *Engine) Load(ctx context.Context, ref codeexec.ModuleRef) (codeexec.Module, error) {
	rt := e.newRuntime(ctx, ref)
	exports, err := rt.evalEntry(ctx, ref.Path)
	if err != nil {
		return nil, err
	}
	return &module{rt: rt, exports: exports}, nil
}

// CachedPrograms is the number of compiled programs held.
func (e *Engine) CachedPrograms() int { return e.programs.Len() }

func (e *Engine) withExt(p string) string {
	if path.Ext(p) == "" {
		return p + e.opts.Ext
	}
	return p
}

// compile returns the wrapped program for p, compiling it on first use
// within the generation.
func (e *Engine) compile(ctx context.Context, ref codeexec.ModuleRef, p string) (*goja.Program, error) {
	key := ref.Token() + p
	if prg, ok := e.programs.Get(key); ok {
		return prg, nil
	}
	src, err := e.opts.Source.ReadModule(ctx, ref, p)
	if err != nil {
		if errors.Is(err, codeexec.ErrModuleNotFound) {
			return nil, err
		}
		return nil, errors.Join(codeexec.ErrModuleNotFound, err)
	}
	prg, err := goja.Compile(p, wrapCommonJS(string(src)), false)
	if err != nil {
		return nil, xerrors.Wrapf(err, "compile %s", p)
	}
	e.programs.Add(key, prg)
	return prg, nil
}

func wrapCommonJS(src string) string {
	return "(function (exports, require, module, __filename, __dirname) {" + src + "\n})"
}
