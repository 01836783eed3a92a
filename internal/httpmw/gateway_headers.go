package httpmw

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Response headers the gateway adds to tenant traffic.
const (
	GenerationHeader = "X-Tenant-Generation"
	TraceIDHeader    = "X-Trace-Id"
	SpanIDHeader     = "X-Span-Id"
)

type tenantSlotKey struct{}

// tenantSlot is filled in by the dispatcher with the tenant it served the
// request from, and read when the response header is written.
type tenantSlot struct {
	generation int64
	set        bool
}

// SetTenantGeneration records the tenant generation that is serving the
// request. It is a no-op outside GatewayHeaders.
func SetTenantGeneration(ctx context.Context, generation int64) {
	if s, ok := ctx.Value(tenantSlotKey{}).(*tenantSlot); ok {
		s.generation, s.set = generation, true
	}
}

// TenantGeneration returns what SetTenantGeneration recorded.
func TenantGeneration(ctx context.Context) (int64, bool) {
	if s, ok := ctx.Value(tenantSlotKey{}).(*tenantSlot); ok && s.set {
		return s.generation, true
	}
	return 0, false
}

// GatewayHeaders adds GenerationHeader to responses served from a tenant
// and tags the request span with the tenant host and generation. The value
// is the generation the dispatcher resolved the request against, so a reset
// that lands mid-request does not relabel the response.
func GatewayHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := requestHost(r.Host)
			span := trace.SpanFromContext(r.Context())
			if span.IsRecording() {
				span.SetAttributes(attribute.String("tenant.host", host))
			}
			slot := &tenantSlot{}
			r = r.WithContext(context.WithValue(r.Context(), tenantSlotKey{}, slot))
			gw := &generationWriter{ResponseWriter: w, slot: slot, span: span}
			next.ServeHTTP(gw, r)
		})
	}
}

type generationWriter struct {
	http.ResponseWriter
	slot    *tenantSlot
	span    trace.Span
	written bool
}

func (w *generationWriter) stamp() {
	if w.written {
		return
	}
	w.written = true
	if !w.slot.set {
		return
	}
	w.Header().Set(GenerationHeader, strconv.FormatInt(w.slot.generation, 10))
	if w.span.IsRecording() {
		w.span.SetAttributes(attribute.Int64("tenant.generation", w.slot.generation))
	}
}

func (w *generationWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *generationWriter) Write(p []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(p)
}

func (w *generationWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func requestHost(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		hostport = h
	}
	return strings.ToLower(strings.TrimSuffix(hostport, "."))
}

// TraceHeaders echoes the ids of a sampled request span, so a tenant
// developer can look up the trace behind a response.
func TraceHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() && sc.IsSampled() {
				w.Header().Set(TraceIDHeader, sc.TraceID().String())
				w.Header().Set(SpanIDHeader, sc.SpanID().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}
