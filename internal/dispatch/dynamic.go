package dispatch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jspheredev/jsphere-gateway/internal/apictx"
	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/route"
)

// FeatureCookie selects feature flags per client.
const FeatureCookie = "featureFlags"

// dynamic runs server routes through the code execution provider. The
// module is named by the route's internal path and must export a function
// named after the request method.
type dynamic struct {
	exec     codeexec.Provider
	utils    *apictx.Utils
	timeout  time.Duration
	features string
}

func (d *dynamic) Name() string { return "dynamic" }

func (d *dynamic) Handle(ctx context.Context, req *Request) (*Response, bool) {
	if req.Route == nil || req.Route.Class != route.ClassServer {
		return nil, false
	}
	L := log.FromContext(ctx)
	if d.exec == nil {
		return text(http.StatusNotFound, "Endpoint Not Found"), true
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	t := req.Tenant
	ref := codeexec.ModuleRef{Host: t.Hostname, Generation: t.Generation(), Path: req.Route.InternalPath}
	mod, err := d.exec.Load(ctx, ref)
	if err != nil {
		if errors.Is(err, codeexec.ErrModuleNotFound) {
			L.Warn(ctx, "handler module not found", "module", ref.Path, "reason", err.Error())
			return text(http.StatusNotFound, "Endpoint Not Found"), true
		}
		L.Error(ctx, err, "load handler module", "module", ref.Path)
		return internalError(), true
	}
	if !mod.Has(req.Method) {
		return text(http.StatusMethodNotAllowed, "Method Not Allowed"), true
	}

	areq, err := apictx.NewRequest(req.HTTP, req.Route.Params)
	if err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			return text(http.StatusRequestEntityTooLarge, "Request Entity Too Large"), true
		case errors.Is(err, apictx.ErrBadBody):
			L.Warn(ctx, "malformed request body", "reason", err.Error())
			return text(http.StatusBadRequest, "Bad Request"), true
		default:
			L.Error(ctx, err, "read request body")
			return internalError(), true
		}
	}

	resp, err := mod.Call(ctx, req.Method, d.context(req, areq))
	if err != nil {
		L.Error(ctx, err, "handler module failed", "module", ref.Path, "method", req.Method)
		return internalError(), true
	}
	if resp == nil {
		return &Response{Status: http.StatusNoContent, Header: http.Header{}}, true
	}
	return resp, true
}

func (d *dynamic) context(req *Request, areq *apictx.Request) *apictx.Context {
	t := req.Tenant
	settings := t.Settings()

	flags := settings["featureFlags"]
	if flags == nil && d.features != "" {
		flags = d.features
	}

	return &apictx.Context{
		Tenant:       apictx.TenantInfo{TenantID: t.ID(), Hostname: t.Hostname},
		Request:      areq,
		Settings:     settings,
		Cache:        t.Cache,
		State:        t.State,
		Utils:        d.utils,
		Features:     apictx.NewFeatures(areq.Cookies[FeatureCookie], flags),
		Extensions:   t.Config.ContextExtensions,
		TenantConfig: t.Config,
		AppConfig:    t.App,
	}
}
