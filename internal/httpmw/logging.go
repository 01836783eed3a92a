package httpmw

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// recorder captures what the gateway wrote back. The first write opens a
// response.write span so slow clients show up apart from slow tenant code.
type recorder struct {
	http.ResponseWriter
	ctx   context.Context
	start time.Time

	status  int
	bytes   int64
	blocked time.Duration
	err     error

	span   trace.Span
	opened bool
}

func (rw *recorder) open() {
	if rw.opened {
		return
	}
	rw.opened = true
	if !trace.SpanFromContext(rw.ctx).IsRecording() {
		return
	}
	ttfb := time.Since(rw.start)
	_, rw.span = otel.Tracer("jsphere-gateway/httpmw").Start(rw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", ttfb.Seconds())))
}

func (rw *recorder) close() {
	if rw.span == nil {
		return
	}
	rw.span.SetAttributes(
		attribute.Int("http.response.status_code", rw.code()),
		attribute.Int64("http.response.body.size", rw.bytes),
		attribute.Float64("http.server.write.block_seconds", rw.blocked.Seconds()),
	)
	if rw.err != nil {
		rw.span.RecordError(rw.err)
		rw.span.SetStatus(codes.Error, rw.err.Error())
	}
	rw.span.End()
}

func (rw *recorder) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *recorder) WriteHeader(code int) {
	rw.open()
	if rw.status == 0 {
		rw.status = code
	}
	t := time.Now()
	rw.ResponseWriter.WriteHeader(code)
	rw.blocked += time.Since(t)
}

func (rw *recorder) Write(b []byte) (int, error) {
	rw.open()
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	t := time.Now()
	n, err := rw.ResponseWriter.Write(b)
	rw.blocked += time.Since(t)
	rw.bytes += int64(n)
	if err != nil && rw.err == nil {
		rw.err = err
	}
	return n, err
}

func (rw *recorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, xerrors.New("response writer does not support hijacking")
}

func (rw *recorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// WithLogger puts a request logger derived from base into the context. It
// carries the request id, the tenant host and the caller address resolved
// by ClientIP.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)
			peer := r.RemoteAddr
			if h, _, err := net.SplitHostPort(peer); err == nil {
				peer = h
			}
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peer
			}
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("server.address", r.Host),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
				if r.URL.RawQuery != "" {
					span.SetAttributes(attribute.String("url.query", r.URL.RawQuery))
				}
			}

			kv := []any{
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"server.address", requestHost(r.Host),
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			}
			if r.URL.RawQuery != "" {
				kv = append(kv, "url.query", r.URL.RawQuery)
			}
			next.ServeHTTP(w, r.WithContext(log.With(ctx, kv...)))
		})
	}
}

// quietPaths are polled by orchestrators and load balancers.
var quietPaths = map[string]bool{
	"/-/healthy":     true,
	"/-/ready":       true,
	"/~/healthcheck": true,
}

// AccessLog writes one line per request once it has been served, naming the
// dispatch handler that answered and the tenant generation it ran against.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = WithRouteLabel(r)
			rw := &recorder{ResponseWriter: w, ctx: r.Context(), start: time.Now()}

			next.ServeHTTP(rw, r)
			rw.close()

			if quietPaths[r.URL.Path] {
				return
			}
			ctx := r.Context()
			kv := []any{
				"http.response.status_code", rw.code(),
				"http.server.request.duration", time.Since(rw.start).Seconds(),
				"http.response.body.size", rw.bytes,
				"http.request.body.size", max(r.ContentLength, 0),
				"http.route", RouteName(r),
			}
			if gen, ok := TenantGeneration(ctx); ok {
				kv = append(kv, "tenant.generation", gen)
			}
			log.FromContext(ctx).Info(ctx, "http request", kv...)
		})
	}
}

// schemeFromRequest trusts X-Forwarded-Proto only because ClientIP strips it
// from callers that are not trusted proxies.
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		return strings.TrimSpace(first)
	}
	if r.URL != nil && r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
