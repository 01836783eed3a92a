package jsexec

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

var errTimeout = errors.New("execution timed out")

// runtime is one goja.Runtime bound to a tenant generation. It is not safe
// for concurrent use.
type runtime struct {
	eng *Engine
	vm  *goja.Runtime
	ref codeexec.ModuleRef
	ctx context.Context

	modules map[string]*goja.Object
	// missing remembers a require that failed to resolve, so a failed
	// evaluation can be classified as not found.
	missing error
}

func (e *Engine) newRuntime(ctx context.Context, ref codeexec.ModuleRef) *runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	rt := &runtime{eng: e, vm: vm, ref: ref, ctx: ctx, modules: map[string]*goja.Object{}}
	rt.installConsole()
	return rt
}

// guard interrupts the runtime when ctx ends or the timeout passes. The
// returned func must be called when the evaluation returns.
func (rt *runtime) guard(ctx context.Context) func() {
	rt.ctx = ctx
	done := make(chan struct{})
	t := time.NewTimer(rt.eng.opts.Timeout)
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			rt.vm.Interrupt(ctx.Err())
		case <-t.C:
			rt.vm.Interrupt(errTimeout)
		}
	}()
	return func() {
		close(done)
		t.Stop()
		rt.vm.ClearInterrupt()
	}
}

func (rt *runtime) evalEntry(ctx context.Context, p string) (*goja.Object, error) {
	stop := rt.guard(ctx)
	defer stop()
	exports, err := rt.require(rt.eng.withExt(p))
	if err != nil {
		if rt.missing != nil {
			return nil, rt.missing
		}
		return nil, rt.classify(err)
	}
	return exports, nil
}

// require evaluates the module at absolute path p once per runtime and
// returns its exports.
func (rt *runtime) require(p string) (*goja.Object, error) {
	if m, ok := rt.modules[p]; ok {
		return m, nil
	}
	prg, err := rt.eng.compile(rt.ctx, rt.ref, p)
	if err != nil {
		if errors.Is(err, codeexec.ErrModuleNotFound) && rt.missing == nil {
			rt.missing = xerrors.Wrapf(err, "require %s", p)
		}
		return nil, err
	}
	fnVal, err := rt.vm.RunProgram(prg)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, xerrors.Newf("module %s did not compile to a function", p)
	}

	mod := rt.vm.NewObject()
	exports := rt.vm.NewObject()
	_ = mod.Set("exports", exports)
	rt.modules[p] = exports

	dir := path.Dir(p)
	req := rt.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		target, err := rt.resolve(dir, call.Argument(0).String())
		if err != nil {
			panic(rt.vm.NewGoError(err))
		}
		v, err := rt.require(target)
		if err != nil {
			panic(rt.rethrow(err))
		}
		return v
	})

	if _, err := fn(goja.Undefined(), exports, req, mod, rt.vm.ToValue(p), rt.vm.ToValue(dir)); err != nil {
		delete(rt.modules, p)
		return nil, err
	}
	// module.exports may have been replaced
	out := mod.Get("exports").ToObject(rt.vm)
	rt.modules[p] = out
	return out, nil
}

// resolve maps a require specifier to an absolute package path. Only
// relative ("./", "../") and package-absolute ("/pkg/...") specifiers are
// supported; there is no module search path.
func (rt *runtime) resolve(dir, spec string) (string, error) {
	spec, _, _ = strings.Cut(spec, "?")
	var p string
	switch {
	case strings.HasPrefix(spec, "/"):
		p = path.Clean(spec)
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"):
		p = path.Join(dir, spec)
	default:
		return "", fmt.Errorf("cannot resolve %q: only relative or /package paths are supported", spec)
	}
	if p == "/" || strings.HasPrefix(p, "/..") {
		return "", fmt.Errorf("cannot resolve %q outside the tenant packages", spec)
	}
	return rt.eng.withExt(p), nil
}

// rethrow turns a Go error from a nested require back into a JS exception,
// keeping thrown JS values intact.
func (rt *runtime) rethrow(err error) goja.Value {
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		return ex.Value()
	}
	return rt.vm.NewGoError(err)
}

// classify converts goja failures: exceptions become *codeexec.Thrown,
// interrupts report their cause.
func (rt *runtime) classify(err error) error {
	var intr *goja.InterruptedError
	if errors.As(err, &intr) {
		if cause, ok := intr.Value().(error); ok {
			return xerrors.Wrap(cause, "interrupted")
		}
		return xerrors.Wrap(err, "interrupted")
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return rt.thrown(ex.Value())
	}
	return err
}

func (rt *runtime) thrown(v goja.Value) *codeexec.Thrown {
	t := &codeexec.Thrown{Type: "error"}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return t
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		t.Message = v.String()
		return t
	}
	if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) && n.String() != "" {
		t.Type = n.String()
	}
	if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
		t.Message = m.String()
	} else {
		t.Message = v.String()
	}
	return t
}

// settle unwraps a promise returned by tenant code. Jobs queued by the call
// have already run when it returned, so a pending promise never settles.
func (rt *runtime) settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, rt.thrown(p.Result())
	default:
		return nil, xerrors.New("handler returned a promise that never settled")
	}
}

// call invokes fn under the guard and settles its result.
func (rt *runtime) call(ctx context.Context, fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	stop := rt.guard(ctx)
	defer stop()
	v, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, rt.classify(err)
	}
	return rt.settle(v)
}

func (rt *runtime) installConsole() {
	console := rt.vm.NewObject()
	logAt := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			msg := strings.Join(parts, " ")
			L := log.FromContext(rt.ctx).With("tenant_host", rt.ref.Host, "source", "console")
			switch level {
			case "debug":
				L.Debug(rt.ctx, msg)
			case "warn":
				L.Warn(rt.ctx, msg)
			case "error":
				L.Error(rt.ctx, errors.New(msg), "console.error")
			default:
				L.Info(rt.ctx, msg)
			}
			return goja.Undefined()
		}
	}
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		_ = console.Set(lvl, logAt(lvl))
	}
	_ = console.Set("log", logAt("info"))
	_ = rt.vm.Set("console", console)
}
