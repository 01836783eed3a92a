package httpmw

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type routeLabelKey struct{}

// routeLabel is filled in by an inner handler and read back by outer
// middleware once the request completes.
type routeLabel struct {
	name string
}

// WithRouteLabel installs an empty, settable route label on r unless one is
// already present.
func WithRouteLabel(r *http.Request) *http.Request {
	if _, ok := r.Context().Value(routeLabelKey{}).(*routeLabel); ok {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), routeLabelKey{}, &routeLabel{}))
}

// SetRouteLabel names the route that served the request. It is a no-op when
// no label was installed. Used where the chi pattern would be a catch-all.
func SetRouteLabel(ctx context.Context, name string) {
	if l, ok := ctx.Value(routeLabelKey{}).(*routeLabel); ok {
		l.name = name
	}
}

// RouteLabel returns the name set by SetRouteLabel, or "".
func RouteLabel(ctx context.Context) string {
	if l, ok := ctx.Value(routeLabelKey{}).(*routeLabel); ok {
		return l.name
	}
	return ""
}

// RouteName is the low-cardinality route of a finished request: the label set
// by the handler, else chi's pattern, else "unmatched". Catch-all patterns
// carry no information and are skipped.
func RouteName(r *http.Request) string {
	if n := RouteLabel(r.Context()); n != "" {
		return n
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" && p != "/*" {
			return p
		}
	}
	return "unmatched"
}

// AnnotateHTTPRoute renames the request span to "METHOD route" and sets
// http.route once the request is served, so traces group by dispatch
// handler rather than by tenant path.
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = WithRouteLabel(r)
		next.ServeHTTP(w, r)

		if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
			name := RouteName(r)
			span.SetAttributes(attribute.String("http.route", name))
			span.SetName(r.Method + " " + name)
		}
	})
}
