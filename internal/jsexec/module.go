package jsexec

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/dop251/goja"

	"github.com/jspheredev/jsphere-gateway/internal/apictx"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

type module struct {
	rt      *runtime
	exports *goja.Object
}

func (m *module) fn(name string) (goja.Callable, bool) {
	v := m.exports.Get(name)
	if v == nil {
		return nil, false
	}
	return goja.AssertFunction(v)
}

func (m *module) Has(method string) bool {
	_, ok := m.fn(method)
	return ok
}

func (m *module) Call(ctx context.Context, method string, c *apictx.Context) (*apictx.Response, error) {
	fn, ok := m.fn(method)
	if !ok {
		return nil, xerrors.Newf("module exports no %s", method)
	}
	start := time.Now()
	defer func() {
		if o := m.rt.eng.opts.Observer; o != nil {
			o.ObserveCodeExec(method, time.Since(start))
		}
	}()

	obj, err := m.rt.contextObject(ctx, c)
	if err != nil {
		return nil, err
	}
	v, err := m.rt.call(ctx, fn, obj)
	if err != nil {
		return nil, err
	}
	return m.rt.toResponse(v)
}

// toResponse interprets a handler's return value. Values built with the
// response helpers pass through; undefined and null mean no content; a
// string is sent as text and anything else as JSON.
func (rt *runtime) toResponse(v goja.Value) (*apictx.Response, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	switch x := v.Export().(type) {
	case *apictx.Response:
		return x, nil
	case string:
		return apictx.Text(x, http.StatusOK), nil
	default:
		return apictx.JSON(x, http.StatusOK)
	}
}

// contextObject builds the handler's ctx argument, then instantiates the
// tenant's context extensions onto it.
func (rt *runtime) contextObject(ctx context.Context, c *apictx.Context) (*goja.Object, error) {
	vm := rt.vm
	o := vm.NewObject()
	_ = o.Set("tenant", c.Tenant)
	if c.Request != nil {
		_ = o.Set("request", rt.requestObject(c.Request))
	}
	_ = o.Set("response", rt.responseObject())
	settings := c.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	_ = o.Set("settings", settings)
	if c.Cache != nil {
		_ = o.Set("cache", rt.cacheObject(c.Cache))
	}
	utils := rt.utilsObject(c.Utils)
	_ = o.Set("utils", utils)
	_ = o.Set("feature", rt.featureObject(c.Features))

	if len(c.Extensions) == 0 {
		return o, nil
	}
	names := make([]string, 0, len(c.Extensions))
	for n := range c.Extensions {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		inst, err := rt.extension(ctx, c, c.Extensions[name], utils)
		if err != nil {
			return nil, xerrors.Wrapf(err, "context extension %q", name)
		}
		_ = o.Set(name, inst)
	}
	return o, nil
}

func (rt *runtime) extension(ctx context.Context, c *apictx.Context, p string, utils *goja.Object) (goja.Value, error) {
	var exports *goja.Object
	var err error
	func() {
		stop := rt.guard(ctx)
		defer stop()
		exports, err = rt.require(rt.eng.withExt(p))
	}()
	if err != nil {
		return nil, rt.classify(err)
	}
	create, ok := goja.AssertFunction(exports.Get("createInstance"))
	if !ok {
		return nil, xerrors.Newf("%s does not export createInstance", p)
	}
	cfg := rt.vm.NewObject()
	for k, v := range c.ExtensionConfig() {
		_ = cfg.Set(k, toJSValue(rt.vm, v))
	}
	if c.State != nil {
		_ = cfg.Set("state", rt.cacheObject(c.State))
	}
	return rt.call(ctx, create, cfg, utils)
}

// toJSValue converts configuration structs to plain JS objects by way of
// their JSON form, so handlers see the same field names as the files.
func toJSValue(vm *goja.Runtime, v any) goja.Value {
	b, err := json.Marshal(v)
	if err != nil {
		return vm.ToValue(v)
	}
	var plain any
	if err := json.Unmarshal(b, &plain); err != nil {
		return vm.ToValue(v)
	}
	return vm.ToValue(plain)
}
