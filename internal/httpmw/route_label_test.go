package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

func TestRouteLabel_SetAndRead(t *testing.T) {
	r := WithRouteLabel(httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
	inner := r.WithContext(context.WithValue(r.Context(), struct{ k string }{"k"}, 1))

	SetRouteLabel(inner.Context(), "dynamic")

	if got := RouteLabel(r.Context()); got != "dynamic" {
		t.Fatalf("RouteLabel = %q, want dynamic", got)
	}
}

func TestRouteLabel_Idempotent(t *testing.T) {
	r := WithRouteLabel(httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	SetRouteLabel(r.Context(), "static")

	r2 := WithRouteLabel(r)
	if got := RouteLabel(r2.Context()); got != "static" {
		t.Fatalf("label lost on reinstall: %q", got)
	}
}

func TestRouteLabel_NotInstalled(t *testing.T) {
	ctx := context.Background()
	SetRouteLabel(ctx, "x")
	if got := RouteLabel(ctx); got != "" {
		t.Fatalf("RouteLabel = %q, want empty", got)
	}
}

func TestAnnotateHTTPRoute(t *testing.T) {
	tests := []struct {
		name  string
		label string
		want  string
	}{
		{name: "dispatch handler", label: "static", want: "GET static"},
		{name: "nothing matched", want: "GET unmatched"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, sr := newRecordingSpan(t, "GET /products/42")
			h := AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.label != "" {
					SetRouteLabel(r.Context(), tt.label)
				}
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/products/42", http.NoBody).WithContext(ctx))
			trace.SpanFromContext(ctx).End()

			spans := sr.Ended()
			if len(spans) != 1 {
				t.Fatalf("%d spans", len(spans))
			}
			if spans[0].Name() != tt.want {
				t.Errorf("span name = %q, want %q", spans[0].Name(), tt.want)
			}
			var route string
			for _, kv := range spans[0].Attributes() {
				if kv.Key == "http.route" {
					route = kv.Value.AsString()
				}
			}
			if "GET "+route != tt.want {
				t.Errorf("http.route = %q", route)
			}
		})
	}
}

func TestAnnotateHTTPRoute_ChiPattern(t *testing.T) {
	ctx, sr := newRecordingSpan(t, "GET /-/ready")
	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute)
	r.Get("/-/{check}", func(w http.ResponseWriter, r *http.Request) {})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody).WithContext(ctx))
	trace.SpanFromContext(ctx).End()

	if got := sr.Ended()[0].Name(); got != "GET /-/{check}" {
		t.Fatalf("span name = %q", got)
	}
}
