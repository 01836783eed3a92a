package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/tenant"
)

const initializingMessage = "Oops.  Your application is initializing. Please wait, then try your request again."

// gate answers 503 while the tenant is being initialized by another request.
// It first waits a bounded time on the shared attempt, so most requests that
// race a cold start are served normally.
type gate struct {
	reg  *tenant.Registry
	wait time.Duration
}

func (g *gate) Name() string { return "gate" }

func (g *gate) Handle(ctx context.Context, req *Request) (*Response, bool) {
	if strings.HasPrefix(req.Path, AdminPrefix) {
		return nil, false
	}
	if g.reg.Status(req.Host) != tenant.Initializing {
		return nil, false
	}
	if g.reg.Wait(ctx, req.Host, g.wait) != tenant.Initializing {
		return nil, false
	}
	resp := text(http.StatusServiceUnavailable, initializingMessage)
	resp.Header.Set("Retry-After", "1")
	return resp, true
}

// tenantInit makes sure req.Tenant is set for every request that needs one.
// Admin paths and loopback hosts (loader traffic) are left alone.
type tenantInit struct {
	reg *tenant.Registry
}

func (h *tenantInit) Name() string { return "tenantinit" }

func (h *tenantInit) Handle(ctx context.Context, req *Request) (*Response, bool) {
	if strings.HasPrefix(req.Path, AdminPrefix) || isLoopbackHost(req.Host) {
		return nil, false
	}
	t, err := h.reg.Init(ctx, req.Host)
	if err == nil {
		req.Tenant = t
		return nil, false
	}
	return initFailure(ctx, req.Host, err), true
}

// initFailure maps an initialization error to the response of the request
// that triggered it. The registry already logged the cause.
func initFailure(ctx context.Context, host string, err error) *Response {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.FromContext(ctx).Warn(ctx, "gave up waiting for tenant", "reason", err.Error())
		resp := text(http.StatusServiceUnavailable, initializingMessage)
		resp.Header.Set("Retry-After", "1")
		return resp
	}
	return text(http.StatusInternalServerError, "TenantInitHandler["+host+"]: "+initReason(err))
}

func initReason(err error) string {
	switch {
	case errors.Is(err, tenant.ErrNotRegistered):
		return "Tenant Not Registered"
	case errors.Is(err, tenant.ErrAppNotRegistered):
		return "Tenant Application Not Registered"
	case errors.Is(err, tenant.ErrUnsupportedProvider):
		return "Repo Provider Not Registered"
	case errors.Is(err, tenant.ErrInvalidConfig):
		return "Invalid Tenant Configuration"
	default:
		return "Initialization Failed"
	}
}
