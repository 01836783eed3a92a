// Package httpserver assembles the public listener: the gateway middleware
// stack around a chi router that keeps the health routes and hands every
// other request to the tenant dispatcher.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jspheredev/jsphere-gateway/internal/health"
	"github.com/jspheredev/jsphere-gateway/internal/httpmw"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// compressible are the content types package items are gzipped for.
var compressible = []string{
	"text/html",
	"text/css",
	"text/plain",
	"application/javascript",
	"text/javascript",
	"application/json",
	"image/svg+xml",
}

// NewHandler builds the public handler. The caller owns the *http.Server.
func NewHandler(opts *Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, compressible...))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxBody))

	// liveness and readiness at /-/healthy and /-/ready. Liveness is always
	// routed: chi skips its middleware on NotFound until a route exists.
	if opts.Health == nil {
		opts.Health = health.OK()
	}
	r.Get("/-/healthy", health.LiveHandler(opts.Health))
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyHandler(opts.Readiness))
	}
	if opts.APIRoutes != nil {
		opts.APIRoutes(r)
	}

	// any host, path and method left over belongs to a tenant
	if opts.Gateway != nil {
		r.NotFound(opts.Gateway.ServeHTTP)
		r.MethodNotAllowed(opts.Gateway.ServeHTTP)
	}

	// wrapped inside out, the last one here runs first
	var h http.Handler = r
	h = httpmw.WithLogger(opts.Logger)(h)
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}
	h = httpmw.TraceHeaders()(h)
	h = httpmw.GatewayHeaders()(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(traced),
		// AnnotateHTTPRoute renames the span once the route is known
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// tenant clients are never trusted parents
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
	if opts.RateLimitMW != nil {
		h = opts.RateLimitMW(h)
	}
	// the rate limiter and the logger read the resolved client
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)
	h = httpmw.RequestID(httpmw.RequestIDHeader)(h)
	if opts.UseRecoverMW {
		h = httpmw.Recover(opts.Logger, opts.OnPanic)(h)
	}
	// outermost, so every response carries them
	h = httpmw.SecurityHeaders(h)

	return h
}

// traced skips health checks, crawler files and static package content.
// Requests that run server modules, including route-mapped ones, are
// traced.
func traced(r *http.Request) bool {
	p := r.URL.Path
	switch p {
	case "/-/healthy", "/-/ready", "/~/healthcheck", "/favicon.ico", "/robots.txt":
		return false
	}
	if it, ok := pkgitem.ParsePath(p); ok && it.Folder() == "client" {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// Server timeout defaults, shared with opshttp.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 45 * time.Second // above the default script exec timeout
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
	DefaultShutdownTimeout   = 5 * time.Second
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start listens on opts.Port and returns a stop that shuts the server down
// gracefully. Only the first call to stop does anything.
func Start(ctx context.Context, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	handler := NewHandler(opts)
	srv := NewServer(addr, handler)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, DefaultShutdownTimeout)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
