package httpserver_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jspheredev/jsphere-gateway/internal/dispatch"
	"github.com/jspheredev/jsphere-gateway/internal/httpserver"
	"github.com/jspheredev/jsphere-gateway/internal/jsexec"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/provider"
	"github.com/jspheredev/jsphere-gateway/internal/tenant"
)

// TestIntegration_FullStack wires httpserver.NewHandler to a real dispatch
// chain over an in-memory project, then verifies that security headers,
// generation headers, status codes and tenant content work end-to-end.
func TestIntegration_FullStack(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"config/.tenants/www.example.com.json": {Data: []byte(`{"application":"site"}`)},
		"config/.applications/site.json": {Data: []byte(`{
  "host": {"name": "Mem", "root": "unused"},
  "packages": {"site": {}},
  "routeMappings": [
    {"route": "/", "path": "/site/client/index.html"},
    {"route": "/api/hello/:name", "path": "/site/server/hello"}
  ]
}`)},
		"site/client/index.html": {Data: []byte("<html><body>Hello World</body></html>")},
		"site/client/style.css":  {Data: []byte("body { color: red; }")},
		"site/server/hello.js":   {Data: []byte(`exports.GET = (ctx) => ({hello: ctx.request.params.name});`)},
	}

	provs := provider.NewRegistry()
	provs.Register("Mem", func(provider.Config) (provider.Provider, error) {
		return provider.NewFileSystemFS(fsys, ""), nil
	})
	reg, err := tenant.NewRegistry(tenant.Options{
		Project:   provider.NewFileSystemFS(fsys, "config"),
		Providers: provs,
	})
	if err != nil {
		t.Fatalf("tenant.NewRegistry: %v", err)
	}
	resolver := pkgitem.NewResolver(pkgitem.Options{})
	eng, err := jsexec.New(jsexec.Options{
		Source:  &dispatch.ModuleSource{Registry: reg, Resolver: resolver},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("jsexec.New: %v", err)
	}
	chain, err := dispatch.New(dispatch.Options{
		Registry: reg,
		Resolver: resolver,
		Exec:     eng,
	})
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}

	handler := httpserver.NewHandler(&httpserver.Options{
		Logger:  log.Nop(),
		Gateway: chain,
	})

	do := func(method, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(method, target, http.NoBody)
		req.Host = "www.example.com"
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("serves mapped root with security headers", func(t *testing.T) {
		t.Parallel()
		rec := do(http.MethodGet, "/")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		body, _ := io.ReadAll(rec.Body)
		if !strings.Contains(string(body), "Hello World") {
			t.Fatalf("body = %q, want content containing 'Hello World'", body)
		}

		securityHeaders := []string{
			"Strict-Transport-Security",
			"X-Content-Type-Options",
			"Referrer-Policy",
			"X-Permitted-Cross-Domain-Policies",
		}
		for _, hdr := range securityHeaders {
			if rec.Header().Get(hdr) == "" {
				t.Errorf("missing security header: %s", hdr)
			}
		}

		if got := rec.Header().Get("X-Tenant-Generation"); got == "" {
			t.Error("X-Tenant-Generation not set")
		}
		if got := rec.Header().Get("ETag"); got == "" {
			t.Error("ETag not set")
		}
		if got := rec.Header().Get("X-Request-Id"); got == "" {
			t.Error("X-Request-Id not set")
		}
	})

	t.Run("serves client assets by path", func(t *testing.T) {
		t.Parallel()
		rec := do(http.MethodGet, "/site/client/style.css")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
			t.Fatalf("Content-Type = %q, want text/css", ct)
		}
	})

	t.Run("runs server module for mapped route", func(t *testing.T) {
		t.Parallel()
		rec := do(http.MethodGet, "/api/hello/ada")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200, body %q", rec.Code, rec.Body.String())
		}
		var got map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v (body %q)", err, rec.Body.String())
		}
		if got["hello"] != "ada" {
			t.Fatalf("hello = %q, want %q", got["hello"], "ada")
		}
	})

	t.Run("unexported method returns 405", func(t *testing.T) {
		t.Parallel()
		rec := do(http.MethodDelete, "/api/hello/ada")

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rec.Code)
		}
		if rec.Header().Get("Strict-Transport-Security") == "" {
			t.Fatal("HSTS missing on 405 response")
		}
	})

	t.Run("returns 404 for missing path", func(t *testing.T) {
		t.Parallel()
		rec := do(http.MethodGet, "/does-not-exist")

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		if rec.Header().Get("Strict-Transport-Security") == "" {
			t.Fatal("HSTS missing on 404 response")
		}
	})

	t.Run("healthcheck bypasses tenants", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/~/healthcheck", http.NoBody)
		req.Host = "unknown.example"
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
			t.Fatalf("status = %d body = %q, want 200 OK", rec.Code, rec.Body.String())
		}
	})

	t.Run("HEAD returns same status as GET", func(t *testing.T) {
		t.Parallel()
		rec := do(http.MethodHead, "/")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}
