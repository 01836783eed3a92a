package appconfig

import (
	"strings"
	"testing"
)

func TestParseTenant(t *testing.T) {
	tc, err := ParseTenant([]byte(`{
		"tenantId": "t-1",
		"application": "shop",
		"settings": {"featureFlags": "beta"},
		"contextExtensions": {"db": "/ext/server/db"}
	}`))
	if err != nil {
		t.Fatalf("ParseTenant: %v", err)
	}
	if tc.Application != "shop" || tc.TenantID != "t-1" {
		t.Fatalf("got %+v", tc)
	}
	if tc.ContextExtensions["db"] != "/ext/server/db" {
		t.Fatalf("ContextExtensions = %v", tc.ContextExtensions)
	}
}

func TestParseTenant_Invalid(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{}`,
		`{"application": "../etc"}`,
		`{"application": "a/b"}`,
	} {
		if _, err := ParseTenant([]byte(in)); err == nil {
			t.Errorf("ParseTenant(%s) should fail", in)
		}
	}
}

func TestParseApplication(t *testing.T) {
	app, err := ParseApplication([]byte(`{
		"host": {"name": "GitHub", "root": "acme", "auth": "tok"},
		"packages": {"web": {"tag": "v1", "packageItemConfig": {"/client/": {"cacheControl": "max-age=60"}}}, "api": {}},
		"routeMappings": [{"route": "/", "path": "/web/client/index.html"}],
		"settings": {"title": "Shop"}
	}`))
	if err != nil {
		t.Fatalf("ParseApplication: %v", err)
	}
	if app.Host.Name != "GitHub" || app.Host.Root != "acme" || app.Host.Auth != "tok" {
		t.Fatalf("Host = %+v", app.Host)
	}
	if app.Packages["web"].Ref() != "v1" || app.Packages["api"].Ref() != "main" {
		t.Fatalf("refs = %q, %q", app.Packages["web"].Ref(), app.Packages["api"].Ref())
	}
	if len(app.RouteMappings) != 1 {
		t.Fatalf("RouteMappings = %v", app.RouteMappings)
	}
}

func TestParseApplication_ReportsAllErrors(t *testing.T) {
	_, err := ParseApplication([]byte(`{
		"host": {},
		"packages": {"~": {}},
		"routeMappings": [{"route": "x", "path": "y"}]
	}`))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"host.name", `invalid package name "~"`, "route \"x\"", "path \"y\""} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not contain %q", err, want)
		}
	}
}

func TestItemOverride_MostSpecificWins(t *testing.T) {
	p := Package{PackageItemConfig: map[string]ItemConfig{
		"/":                {CacheControl: "no-cache", AllowOrigin: "*"},
		"/client/":         {CacheControl: "max-age=60"},
		"/client/assets/":  {CacheControl: "max-age=31536000, immutable"},
		"/client/data.bin": {ContentType: "application/octet-stream"},
		"/server/":         {CacheControl: "no-store"},
	}}

	tests := []struct {
		path string
		want ItemConfig
	}{
		{"/client/index.html", ItemConfig{CacheControl: "max-age=60", AllowOrigin: "*"}},
		{"/client/assets/app.css", ItemConfig{CacheControl: "max-age=31536000, immutable", AllowOrigin: "*"}},
		{"/client/data.bin", ItemConfig{ContentType: "application/octet-stream", CacheControl: "max-age=60", AllowOrigin: "*"}},
		{"/other.txt", ItemConfig{CacheControl: "no-cache", AllowOrigin: "*"}},
	}
	for _, tt := range tests {
		if got := p.ItemOverride(tt.path); got != tt.want {
			t.Errorf("ItemOverride(%q) = %+v, want %+v", tt.path, got, tt.want)
		}
	}

	if got := (Package{}).ItemOverride("/x"); got != (ItemConfig{}) {
		t.Errorf("empty package override = %+v", got)
	}
}

func TestValidName(t *testing.T) {
	valid := []string{"a.example", "localhost", "shop-1"}
	invalid := []string{"", ".", "..", "a/b", `a\b`, "a?b", strings.Repeat("x", 254)}
	for _, s := range valid {
		if !ValidName(s) {
			t.Errorf("ValidName(%q) = false", s)
		}
	}
	for _, s := range invalid {
		if ValidName(s) {
			t.Errorf("ValidName(%q) = true", s)
		}
	}
}

func TestMergeSettings(t *testing.T) {
	app := map[string]any{"a": 1, "b": 2}
	ten := map[string]any{"b": 3}
	got := MergeSettings(app, ten)
	if got["a"] != 1 || got["b"] != 3 {
		t.Fatalf("MergeSettings = %v", got)
	}
	if app["b"] != 2 {
		t.Fatal("input mutated")
	}
	if m := MergeSettings(nil, nil); m == nil || len(m) != 0 {
		t.Fatalf("MergeSettings(nil, nil) = %v", m)
	}
}
