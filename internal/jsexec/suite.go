package jsexec

import (
	"context"

	"github.com/dop251/goja"

	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

type jsCase struct {
	codeexec.Case
	fn goja.Callable
}

type suite struct {
	rt    *runtime
	hooks map[string][]goja.Callable
	cases []jsCase
}

// LoadSuite evaluates a test suite module and calls its default export with
// {run, assert, params}, collecting the hooks and cases it registers.
func (e *Engine) LoadSuite(ctx context.Context, ref codeexec.ModuleRef, params any) (codeexec.Suite, error) {
	rt := e.newRuntime(ctx, ref)
	exports, err := rt.evalEntry(ctx, ref.Path)
	if err != nil {
		return nil, err
	}
	entry, ok := goja.AssertFunction(exports.Get("default"))
	if !ok {
		if entry, ok = goja.AssertFunction(exports); !ok {
			return nil, xerrors.Newf("%s has no default export function", ref.Path)
		}
	}

	s := &suite{rt: rt, hooks: map[string][]goja.Callable{}}
	arg := rt.vm.NewObject()
	_ = arg.Set("run", s.runObject())
	_ = arg.Set("assert", rt.assertObject())
	_ = arg.Set("params", params)
	if _, err := rt.call(ctx, entry, arg); err != nil {
		return nil, err
	}
	return s, nil
}

// lastFunc returns the last callable argument, so hooks may be registered
// as hook(fn) or hook(name, description, tags, fn).
func lastFunc(call goja.FunctionCall) (goja.Callable, bool) {
	for i := len(call.Arguments) - 1; i >= 0; i-- {
		if fn, ok := goja.AssertFunction(call.Arguments[i]); ok {
			return fn, true
		}
	}
	return nil, false
}

func (s *suite) runObject() *goja.Object {
	vm := s.rt.vm
	o := vm.NewObject()
	hook := func(kind string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn, ok := lastFunc(call)
			if !ok {
				panic(vm.NewTypeError("%s requires a function", kind))
			}
			s.hooks[kind] = append(s.hooks[kind], fn)
			return goja.Undefined()
		}
	}
	for kind, aliases := range map[string][]string{
		codeexec.BeforeAll:  {"beforeAll", "beforeAllTestCasesTask"},
		codeexec.AfterAll:   {"afterAll", "afterAllTestCasesTask"},
		codeexec.BeforeEach: {"beforeEach", "beforeEachTestCaseTask"},
		codeexec.AfterEach:  {"afterEach", "afterEachTestCaseTask"},
	} {
		for _, name := range aliases {
			_ = o.Set(name, hook(kind))
		}
	}
	_ = o.Set("testCase", func(call goja.FunctionCall) goja.Value {
		fn, ok := lastFunc(call)
		if !ok {
			panic(vm.NewTypeError("testCase requires a function"))
		}
		c := jsCase{fn: fn}
		c.Name = call.Argument(0).String()
		if d := call.Argument(1); !goja.IsUndefined(d) && !goja.IsNull(d) {
			if _, isFn := goja.AssertFunction(d); !isFn {
				c.Description = d.String()
			}
		}
		var tags []string
		if t, ok := call.Argument(2).Export().([]any); ok {
			for _, x := range t {
				if s, ok := x.(string); ok {
					tags = append(tags, s)
				}
			}
		}
		c.Tags = tags
		s.cases = append(s.cases, c)
		return goja.Undefined()
	})
	return o
}

func (s *suite) Cases() []codeexec.Case {
	out := make([]codeexec.Case, len(s.cases))
	for i, c := range s.cases {
		out[i] = c.Case
	}
	return out
}

func (s *suite) RunHooks(ctx context.Context, kind string) error {
	for _, fn := range s.hooks[kind] {
		if _, err := s.rt.call(ctx, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *suite) RunCase(ctx context.Context, i int) error {
	if i < 0 || i >= len(s.cases) {
		return xerrors.Newf("no test case %d", i)
	}
	_, err := s.rt.call(ctx, s.cases[i].fn)
	return err
}

func (s *suite) Close() {
	s.rt.vm.ClearInterrupt()
	s.rt.modules = nil
}
