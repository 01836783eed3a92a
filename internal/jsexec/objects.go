package jsexec

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/jspheredev/jsphere-gateway/internal/apictx"
	"github.com/jspheredev/jsphere-gateway/internal/ttlcache"
)

func (rt *runtime) requestObject(r *apictx.Request) *goja.Object {
	vm := rt.vm
	o := vm.NewObject()
	_ = o.Set("method", r.Method)
	_ = o.Set("url", r.URL)
	_ = o.Set("path", r.Path)

	headers := r.HeaderMap()
	h := vm.NewObject()
	for k, v := range headers {
		_ = h.Set(k, v)
	}
	_ = h.Set("get", func(name string) goja.Value {
		if v, ok := headers[strings.ToLower(name)]; ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = o.Set("headers", h)
	_ = o.Set("cookies", r.Cookies)
	_ = o.Set("params", r.Params)
	_ = o.Set("data", r.Data)

	files := make([]any, 0, len(r.Files))
	for _, f := range r.Files {
		fo := vm.NewObject()
		_ = fo.Set("content", vm.NewArrayBuffer(f.Content))
		_ = fo.Set("filename", f.Filename)
		_ = fo.Set("size", f.Size)
		_ = fo.Set("type", f.Type)
		files = append(files, fo)
	}
	_ = o.Set("files", vm.NewArray(files...))
	if r.Raw != nil {
		_ = o.Set("raw", vm.NewArrayBuffer(r.Raw))
	} else {
		_ = o.Set("raw", goja.Null())
	}
	return o
}

func statusArg(v goja.Value) int {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return int(v.ToInteger())
}

func (rt *runtime) responseObject() *goja.Object {
	vm := rt.vm
	o := vm.NewObject()
	_ = o.Set("json", func(call goja.FunctionCall) goja.Value {
		r, err := apictx.JSON(call.Argument(0).Export(), statusArg(call.Argument(1)))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(r)
	})
	_ = o.Set("text", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(apictx.Text(call.Argument(0).String(), statusArg(call.Argument(1))))
	})
	_ = o.Set("html", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(apictx.HTML(call.Argument(0).String(), statusArg(call.Argument(1))))
	})
	_ = o.Set("redirect", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(apictx.Redirect(call.Argument(0).String(), statusArg(call.Argument(1))))
	})
	_ = o.Set("send", func(call goja.FunctionCall) goja.Value {
		body := rt.bytesOf(call.Argument(0))
		status := 0
		header := http.Header{}
		if init, ok := call.Argument(1).(*goja.Object); ok {
			status = statusArg(init.Get("status"))
			if hv, ok := init.Get("headers").(*goja.Object); ok {
				for _, k := range hv.Keys() {
					header.Set(k, hv.Get(k).String())
				}
			}
		}
		return vm.ToValue(apictx.Send(body, status, header))
	})
	return o
}

// bytesOf reads a response body: strings, ArrayBuffers and typed arrays are
// sent as is, other objects as JSON.
func (rt *runtime) bytesOf(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case string:
		return []byte(x)
	case goja.ArrayBuffer:
		return append([]byte(nil), x.Bytes()...)
	case []byte:
		return append([]byte(nil), x...)
	}
	if obj, ok := v.(*goja.Object); ok {
		if ab, ok := obj.Get("buffer").Export().(goja.ArrayBuffer); ok {
			b := ab.Bytes()
			off := int(obj.Get("byteOffset").ToInteger())
			n := int(obj.Get("byteLength").ToInteger())
			if off >= 0 && n >= 0 && off+n <= len(b) {
				return append([]byte(nil), b[off:off+n]...)
			}
		}
	}
	b, err := json.Marshal(v.Export())
	if err != nil {
		return []byte(v.String())
	}
	return b
}

// cacheObject exposes a ttlcache with TTLs in seconds. Values are exported
// to Go on set, so they outlive the runtime that stored them.
func (rt *runtime) cacheObject(c *ttlcache.Cache) *goja.Object {
	vm := rt.vm
	ttl := func(v goja.Value) time.Duration {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return 0
		}
		return time.Duration(v.ToFloat() * float64(time.Second))
	}
	o := vm.NewObject()
	_ = o.Set("get", func(key string) goja.Value {
		if v, ok := c.Get(key); ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = o.Set("set", func(call goja.FunctionCall) goja.Value {
		c.Set(call.Argument(0).String(), call.Argument(1).Export(), ttl(call.Argument(2)))
		return goja.Undefined()
	})
	_ = o.Set("setExpires", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(c.SetExpires(call.Argument(0).String(), ttl(call.Argument(1))))
	})
	_ = o.Set("remove", func(key string) { c.Remove(key) })
	return o
}

func (rt *runtime) utilsObject(u *apictx.Utils) *goja.Object {
	vm := rt.vm
	if u == nil {
		u = apictx.NewUtils(nil)
	}
	o := vm.NewObject()
	_ = o.Set("createId", u.CreateID)
	_ = o.Set("createHash", u.CreateHash)
	_ = o.Set("compareWithHash", u.CompareWithHash)
	_ = o.Set("encrypt", func(s string) goja.Value {
		out, err := u.Encrypt(s)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(out)
	})
	_ = o.Set("decrypt", func(s string) goja.Value {
		out, err := u.Decrypt(s)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(out)
	})
	return o
}

// featureObject implements feature.flag({"a:b": fn, default: fn}): the
// first key naming an active flag, or default, has its function called.
func (rt *runtime) featureObject(f apictx.Features) *goja.Object {
	vm := rt.vm
	o := vm.NewObject()
	_ = o.Set("flags", f.Flags())
	_ = o.Set("has", f.Has)
	_ = o.Set("flag", func(call goja.FunctionCall) goja.Value {
		obj, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return goja.Undefined()
		}
		key, ok := f.Select(obj.Keys())
		if !ok {
			return goja.Undefined()
		}
		fn, ok := goja.AssertFunction(obj.Get(key))
		if !ok {
			panic(vm.NewTypeError("feature %q is not a function", key))
		}
		v, err := fn(goja.Undefined())
		if err != nil {
			panic(rt.rethrow(err))
		}
		return v
	})
	return o
}

// assertObject is the assertion helper handed to test suites.
func (rt *runtime) assertObject() *goja.Object {
	vm := rt.vm
	fail := func(msg goja.Value, def string) {
		m := def
		if msg != nil && !goja.IsUndefined(msg) {
			m = msg.String()
		}
		errObj, err := vm.New(vm.Get("Error"), vm.ToValue(m))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		_ = errObj.Set("name", "AssertionError")
		panic(errObj)
	}
	o := vm.NewObject()
	_ = o.Set("ok", func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).ToBoolean() {
			fail(call.Argument(1), "expected "+call.Argument(0).String()+" to be truthy")
		}
		return goja.Undefined()
	})
	_ = o.Set("equal", func(call goja.FunctionCall) goja.Value {
		a, b := call.Argument(0), call.Argument(1)
		if !a.Equals(b) {
			fail(call.Argument(2), "expected "+a.String()+" to equal "+b.String())
		}
		return goja.Undefined()
	})
	_ = o.Set("strictEqual", func(call goja.FunctionCall) goja.Value {
		a, b := call.Argument(0), call.Argument(1)
		if !a.StrictEquals(b) {
			fail(call.Argument(2), "expected "+a.String()+" to strictly equal "+b.String())
		}
		return goja.Undefined()
	})
	_ = o.Set("notEqual", func(call goja.FunctionCall) goja.Value {
		a, b := call.Argument(0), call.Argument(1)
		if a.Equals(b) {
			fail(call.Argument(2), "expected "+a.String()+" to not equal "+b.String())
		}
		return goja.Undefined()
	})
	_ = o.Set("deepEqual", func(call goja.FunctionCall) goja.Value {
		a, b := call.Argument(0), call.Argument(1)
		if !reflect.DeepEqual(a.Export(), b.Export()) {
			fail(call.Argument(2), "expected values to be deeply equal")
		}
		return goja.Undefined()
	})
	_ = o.Set("fail", func(call goja.FunctionCall) goja.Value {
		fail(call.Argument(0), "assert.fail()")
		return goja.Undefined()
	})
	return o
}
