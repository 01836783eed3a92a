package opshttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jspheredev/jsphere-gateway/internal/health"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/tenant"
)

type fakeTenants map[string]tenant.Status

func (f fakeTenants) Status(host string) tenant.Status { return f[host] }

func (f fakeTenants) Generation(host string) (int64, bool) {
	if f[host] == tenant.Ready {
		return 1700000000001, true
	}
	return 0, false
}

func (f fakeTenants) LastFailure(host string) (tenant.Failure, bool) {
	if host == "broken.example" {
		return tenant.Failure{Err: errors.New("tenant config: not found"), At: time.Unix(1700000000, 0).UTC()}, true
	}
	return tenant.Failure{}, false
}

func (f fakeTenants) Len() int { return len(f) }

func serve(t *testing.T, h http.Handler, remote, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	r.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestNewHandler_Routes(t *testing.T) {
	var gate health.Gate
	gate.Close("draining")
	h := NewHandler(log.Nop(), &Options{
		Health:    health.OK(),
		Readiness: &gate,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "jsphere_dispatch_total 3\n")
		}),
		Tenants: fakeTenants{"shop.example": tenant.Ready, "new.example": tenant.Initializing},
	})

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/-/healthy", 200, "ok\n"},
		{"/healthz", 200, "ok\n"},
		{"/-/ready", 503, "draining\n"},
		{"/readyz", 503, "draining\n"},
		{"/metrics", 200, "jsphere_dispatch_total 3\n"},
		{"/tenants", 200, `{"tenants":2}` + "\n"},
		{"/tenants/Shop.Example", 200, `{"host":"shop.example","status":"ready","generation":1700000000001}` + "\n"},
		{"/tenants/new.example", 200, `{"host":"new.example","status":"initializing"}` + "\n"},
		{"/debug/pprof/", 404, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(t, h, "127.0.0.1:5000", tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewHandler_TenantFailure(t *testing.T) {
	h := NewHandler(nil, &Options{Tenants: fakeTenants{}})
	rec := serve(t, h, "10.1.2.3:5000", "/tenants/broken.example")

	var v tenantView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if v.Status != "absent" || v.Failure != "tenant config: not found" || v.FailedAt == nil || v.FailedAt.Unix() != 1700000000 {
		t.Fatalf("view = %+v", v)
	}
}

func TestNewHandler_WithoutTenants(t *testing.T) {
	h := NewHandler(nil, &Options{})
	if rec := serve(t, h, "127.0.0.1:1", "/tenants/shop.example"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := serve(t, h, "127.0.0.1:1", "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics without handler = %d", rec.Code)
	}
}

func TestNewHandler_Pprof(t *testing.T) {
	h := NewHandler(nil, &Options{EnablePprof: true})
	rec := serve(t, h, "127.0.0.1:1", "/debug/pprof/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestNewHandler_RecoversPanics(t *testing.T) {
	var panics int
	h := NewHandler(nil, &Options{
		Metrics:      http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("collector") }),
		UseRecoverMW: true,
		OnPanic:      func() { panics++ },
	})
	if rec := serve(t, h, "127.0.0.1:1", "/metrics"); rec.Code != http.StatusInternalServerError || panics != 1 {
		t.Fatalf("status = %d, panics = %d", rec.Code, panics)
	}
}

func TestNonPublic(t *testing.T) {
	tests := []struct {
		remote string
		want   bool
	}{
		{"127.0.0.1:1", true},
		{"[::1]:1", true},
		{"10.0.0.1:1", true},
		{"172.16.5.4:1", true},
		{"192.168.1.1:1", true},
		{"[fd00::1]:1", true},
		{"169.254.1.1:1", true},
		{"[::ffff:10.0.0.1]:1", true},
		{"8.8.8.8:1", false},
		{"[2001:db8::1]:1", false},
		{"[::ffff:8.8.8.8]:1", false},
		{"10.0.0.1", false},
		{"", false},
		{"bad:1", false},
	}
	for _, tt := range tests {
		if got := nonPublic(tt.remote); got != tt.want {
			t.Errorf("nonPublic(%q) = %v, want %v", tt.remote, got, tt.want)
		}
	}

	h := NewHandler(nil, &Options{Health: health.OK()})
	if rec := serve(t, h, "8.8.8.8:1", "/healthz"); rec.Code != http.StatusForbidden {
		t.Fatalf("public peer got %d", rec.Code)
	}
}

func TestStart_Lifecycle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), &Options{Port: port, Health: health.OK()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if _, err := Start(ctx, log.Nop(), &Options{Port: port}); err == nil {
		t.Fatal("second Start on the same port succeeded")
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("still serving after stop")
	}
}
