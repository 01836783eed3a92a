// Package dispatch runs every public request through a fixed chain of
// handlers:
//
//	gate -> tenantinit -> admin -> loader -> route -> static -> dynamic
//
// Each handler either produces a complete response or declines. The first
// response wins; when every handler declines the chain answers 404. This is
// the only place where errors and absence become HTTP status codes.
package dispatch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jspheredev/jsphere-gateway/internal/apictx"
	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/httpmw"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/prof"
	"github.com/jspheredev/jsphere-gateway/internal/route"
	"github.com/jspheredev/jsphere-gateway/internal/tenant"
	"github.com/jspheredev/jsphere-gateway/internal/testrunner"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// AdminPrefix is reserved for built-in endpoints on every tenant host.
const AdminPrefix = "/~/"

type Response = apictx.Response

// Request is the per-request state handlers read and fill in. Handlers
// earlier in the chain set Tenant and Route for the ones after them.
type Request struct {
	HTTP *http.Request
	// Host is the request hostname, lowercased, without port.
	Host   string
	Path   string
	Method string

	Tenant *tenant.Tenant
	Route  *route.Match
}

// Handler is one link of the chain. ok is false when the handler declines.
type Handler interface {
	Name() string
	Handle(ctx context.Context, req *Request) (resp *Response, ok bool)
}

// Observer is notified of the handler and status of every response.
type Observer interface {
	ObserveDispatch(handler string, status int)
}

var ErrInvalidOptions = errors.New("dispatch: invalid options")

type Options struct {
	Registry *tenant.Registry
	Resolver *pkgitem.Resolver
	// Exec loads dynamic handler modules. Without it server routes 404.
	Exec codeexec.Provider
	// Tests runs /~/runtest. Optional.
	Tests *testrunner.Runner
	Utils *apictx.Utils

	// InitWait bounds how long a request waits on an in-flight tenant
	// initialization before answering 503. Default 5s.
	InitWait time.Duration
	// ExecTimeout bounds one dynamic handler call. Default 30s.
	ExecTimeout time.Duration
	// FeatureFlags applies when neither the application nor the tenant sets
	// featureFlags.
	FeatureFlags string

	Observer Observer
}

func (o *Options) setDefaults() {
	if o.InitWait <= 0 {
		o.InitWait = 5 * time.Second
	}
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = 30 * time.Second
	}
	if o.Utils == nil {
		o.Utils = apictx.NewUtils(nil)
	}
}

// Chain is an http.Handler. It is safe for concurrent use.
type Chain struct {
	handlers []Handler
	obs      Observer
}

func New(opts Options) (*Chain, error) {
	opts.setDefaults()
	if opts.Registry == nil {
		return nil, xerrors.Wrap(ErrInvalidOptions, "tenant registry is required")
	}
	if opts.Resolver == nil {
		return nil, xerrors.Wrap(ErrInvalidOptions, "package item resolver is required")
	}
	return &Chain{
		handlers: []Handler{
			&gate{reg: opts.Registry, wait: opts.InitWait},
			&tenantInit{reg: opts.Registry},
			&admin{reg: opts.Registry, tests: opts.Tests},
			&loader{reg: opts.Registry, resolver: opts.Resolver},
			routeResolver{},
			&static{resolver: opts.Resolver},
			&dynamic{
				exec:     opts.Exec,
				utils:    opts.Utils,
				timeout:  opts.ExecTimeout,
				features: opts.FeatureFlags,
			},
		},
		obs: opts.Observer,
	}, nil
}

// Handlers lists the chain in execution order.
func (c *Chain) Handlers() []Handler {
	return append([]Handler(nil), c.handlers...)
}

func (c *Chain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := newRequest(r)
	ctx := r.Context()
	ctx = log.With(ctx, "tenant_host", req.Host)

	resp, name := c.Dispatch(ctx, req)

	httpmw.SetRouteLabel(ctx, name)
	if req.Tenant != nil {
		httpmw.SetTenantGeneration(ctx, req.Tenant.Generation())
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("app.handler", name))
	}
	if c.obs != nil {
		c.obs.ObserveDispatch(name, resp.Status)
	}
	resp.Write(w)
}

// Dispatch runs the chain and returns the response together with the name
// of the handler that produced it ("notfound" when all declined).
func (c *Chain) Dispatch(ctx context.Context, req *Request) (*Response, string) {
	for _, h := range c.handlers {
		if resp, ok := c.call(ctx, h, req); ok {
			return resp, h.Name()
		}
	}
	return apictx.Text("Request Handler Not Found.", http.StatusNotFound), "notfound"
}

func (c *Chain) call(ctx context.Context, h Handler, req *Request) (resp *Response, ok bool) {
	L := log.FromContext(ctx).With("handler", h.Name())
	if req.Tenant != nil {
		L = L.With("generation", req.Tenant.Generation())
	}
	ctx = log.WithContext(ctx, L)

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err := xerrors.Newf("panic: %v", rec)
			L.Error(ctx, err, "dispatch handler panicked", "path", req.Path)
			resp, ok = internalError(), true
		}
	}()

	prof.Do(ctx, h.Name(), func(ctx context.Context) {
		resp, ok = h.Handle(ctx, req)
	})
	if ok && resp == nil {
		resp = &Response{Status: http.StatusNoContent, Header: http.Header{}}
	}
	return resp, ok
}

func newRequest(r *http.Request) *Request {
	return &Request{
		HTTP:   r,
		Host:   hostname(r.Host),
		Path:   r.URL.Path,
		Method: r.Method,
	}
}

// hostname strips the port and lowercases.
func hostname(hostport string) string {
	h := hostport
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		h = host
	}
	return strings.ToLower(strings.TrimSuffix(h, "."))
}

// isLoopbackHost reports whether host is a loopback IP literal, the form
// loader traffic addresses the gateway by. Names such as localhost are
// ordinary tenant hostnames.
func isLoopbackHost(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func text(status int, body string) *Response {
	return apictx.Text(body, status)
}

func notFound() *Response {
	return text(http.StatusNotFound, "Not Found")
}

func internalError() *Response {
	return text(http.StatusInternalServerError, "Internal Server Error")
}
