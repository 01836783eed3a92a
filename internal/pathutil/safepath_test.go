package pathutil

import (
	"strings"
	"testing"
)

func TestEscapes(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"web/client/index.html", false},
		{"/app/server/routes.js", false},
		{"web/client/.well-known/x", false},
		{"web/...", false},
		{"", false},
		{"web/../.secrets", true},
		{"web/client/./index.html", true},
		{"..", true},
		{"web/client/..", true},
		{`web\..\config.json`, true},
		{"web/client/a\x00.js", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Escapes(tt.path); got != tt.want {
				t.Errorf("Escapes(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func FuzzEscapes(f *testing.F) {
	for _, s := range []string{"web/client/app.js", "a/../b", "./a", "a\\b", "..."} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, p string) {
		if Escapes(p) {
			return
		}
		if strings.ContainsAny(p, "\\\x00") {
			t.Fatalf("Escapes(%q) = false with a separator or NUL", p)
		}
		for _, seg := range strings.Split(p, "/") {
			if seg == "." || seg == ".." {
				t.Fatalf("Escapes(%q) = false with segment %q", p, seg)
			}
		}
	})
}
