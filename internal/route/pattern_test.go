package route

import (
	"reflect"
	"testing"
)

func TestCompile_Errors(t *testing.T) {
	bad := []string{
		"products",
		"/products/:",
		"/products/:1id",
		"/products/:id+",
		"/products/:id/:id",
		"/products/x:id",
		"/files/a*",
		"/files/{name}",
		"/:a?/:b?/:c?/:d?/:e?/:f?/:g?",
	}
	for _, p := range bad {
		if _, err := Compile(p); err == nil {
			t.Errorf("Compile(%q) should fail", p)
		}
	}
}

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		ok      bool
		params  map[string]string
	}{
		{"/", "/", true, map[string]string{}},
		{"/", "/x", false, nil},
		{"/products", "/products", true, map[string]string{}},
		{"/products", "/products/", false, nil},
		{"/products", "/productsx", false, nil},
		{"/products/:id", "/products/42", true, map[string]string{"id": "42"}},
		{"/products/:id", "/products", false, nil},
		{"/products/:id", "/products/42/reviews", false, nil},
		{"/products/:id", "/products/a%20b", true, map[string]string{"id": "a b"}},
		{"/users/:user/posts/:post", "/users/ann/posts/7", true, map[string]string{"user": "ann", "post": "7"}},
		{"/search/:term?", "/search", true, map[string]string{}},
		{"/search/:term?", "/search/go", true, map[string]string{"term": "go"}},
		{"/assets/*", "/assets/css/site.css", true, map[string]string{"0": "css/site.css"}},
		{"/assets/*", "/assets", true, map[string]string{}},
		{"/a.b/c", "/a.b/c", true, map[string]string{}},
		{"/a.b/c", "/axb/c", false, nil},
	}
	for _, tt := range tests {
		p, err := Compile(tt.pattern)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tt.pattern, err)
		}
		params, ok := p.Match(tt.path)
		if ok != tt.ok {
			t.Errorf("%q.Match(%q) ok = %v, want %v", tt.pattern, tt.path, ok, tt.ok)
			continue
		}
		if ok && !reflect.DeepEqual(params, tt.params) {
			t.Errorf("%q.Match(%q) params = %v, want %v", tt.pattern, tt.path, params, tt.params)
		}
	}
}

func TestCompile_Templates(t *testing.T) {
	tests := []struct {
		pattern string
		want    []string
	}{
		{"/", []string{"/"}},
		{"/products/:id", []string{"/products/{id}"}},
		{"/search/:term?", []string{"/search/{term}", "/search"}},
		{"/assets/*", []string{"/assets/{0:.*}", "/assets"}},
		{"/:lang?/docs/*", []string{"/{lang}/docs/{0:.*}", "/docs/{0:.*}", "/{lang}/docs", "/docs"}},
		{"/*", []string{"/{0:.*}", "/"}},
	}
	for _, tt := range tests {
		p, err := Compile(tt.pattern)
		if err != nil {
			t.Fatalf("Compile(%q): %v", tt.pattern, err)
		}
		if got := p.Templates(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Compile(%q) templates = %q, want %q", tt.pattern, got, tt.want)
		}
		if p.String() != tt.pattern {
			t.Errorf("String() = %q", p.String())
		}
	}
}
