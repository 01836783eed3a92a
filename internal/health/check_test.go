package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestCombinators(t *testing.T) {
	bad := errors.New("project: server configuration not retrieved")
	fail := CheckFunc(func(context.Context) error { return bad })

	tests := []struct {
		name string
		c    Checker
		want string
	}{
		{name: "all empty", c: All()},
		{name: "all pass", c: All(OK(), nil, OK())},
		{name: "all first failure", c: All(OK(), fail, Failing("later")), want: bad.Error()},
		{name: "any one passes", c: Any(fail, nil, OK())},
		{name: "any last failure", c: Any(fail, Failing("draining")), want: "draining"},
		{name: "any empty", c: Any(), want: "no checks passed"},
		{name: "any only nil", c: Any(nil), want: "no checks passed"},
		{name: "failing default", c: Failing(""), want: "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Check(context.Background())
			got := ""
			if err != nil {
				got = err.Error()
			}
			if got != tt.want {
				t.Fatalf("Check() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGate(t *testing.T) {
	var g Gate
	ctx := context.Background()
	if err := g.Check(ctx); err != nil {
		t.Fatalf("zero gate closed: %v", err)
	}
	g.Close("")
	if err := g.Check(ctx); err == nil || err.Error() != "draining" {
		t.Fatalf("closed gate = %v", err)
	}
	g.Close("shutting down")
	if err := g.Check(ctx); err == nil || err.Error() != "shutting down" {
		t.Fatalf("reason not replaced: %v", err)
	}
	g.Open()
	if err := g.Check(ctx); err != nil {
		t.Fatalf("reopened gate = %v", err)
	}
}

func TestGate_Concurrent(t *testing.T) {
	var g Gate
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if i%2 == 0 {
					g.Close("draining")
				} else {
					g.Open()
				}
				_ = g.Check(context.Background())
			}
		}()
	}
	wg.Wait()
}

func TestFlag(t *testing.T) {
	f := NewFlag("project unreachable")
	if err := f.Check(context.Background()); err == nil || err.Error() != "project unreachable" {
		t.Fatalf("lowered flag = %v", err)
	}
	f.Raise()
	if !f.Raised() || f.Check(context.Background()) != nil {
		t.Fatal("raised flag fails")
	}
	f.Lower()
	if f.Raised() {
		t.Fatal("flag still raised")
	}
}

func TestHandlers(t *testing.T) {
	var g Gate
	ready := All(&g, NewFlag("x"))

	tests := []struct {
		name     string
		h        http.HandlerFunc
		method   string
		close    bool
		wantCode int
		wantBody string
	}{
		{name: "live nil", h: LiveHandler(nil), method: http.MethodGet, wantCode: 200, wantBody: "ok\n"},
		{name: "ready nil", h: ReadyHandler(nil), method: http.MethodGet, wantCode: 200, wantBody: "ready\n"},
		{name: "ready gate open", h: ReadyHandler(&g), method: http.MethodGet, wantCode: 200, wantBody: "ready\n"},
		{name: "ready draining", h: ReadyHandler(&g), method: http.MethodGet, close: true, wantCode: 503, wantBody: "draining\n"},
		{name: "ready flag down", h: ReadyHandler(ready), method: http.MethodGet, wantCode: 503, wantBody: "x\n"},
		{name: "head has no body", h: LiveHandler(Failing("down")), method: http.MethodHead, wantCode: 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Open()
			if tt.close {
				g.Close("")
			}
			rec := httptest.NewRecorder()
			tt.h(rec, httptest.NewRequest(tt.method, "/-/ready", http.NoBody))
			if rec.Code != tt.wantCode || rec.Body.String() != tt.wantBody {
				t.Fatalf("got %d %q, want %d %q", rec.Code, rec.Body.String(), tt.wantCode, tt.wantBody)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Fatal("health responses must not be cached")
			}
		})
	}
}

func TestHandler_PassesRequestContext(t *testing.T) {
	type key struct{}
	var seen any
	h := LiveHandler(CheckFunc(func(ctx context.Context) error {
		seen = ctx.Value(key{})
		return nil
	}))
	r := httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody)
	h(httptest.NewRecorder(), r.WithContext(context.WithValue(r.Context(), key{}, "v")))
	if seen != "v" {
		t.Fatal("request context not passed to the check")
	}
}
