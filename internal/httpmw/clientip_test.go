package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPWithOptions(t *testing.T) {
	tests := []struct {
		name      string
		hops      int
		remote    string
		xff       string
		wantIP    string
		wantLocal bool
		wantXFF   bool
	}{
		{name: "public peer", remote: "203.0.113.9:5000", wantIP: "203.0.113.9"},
		{name: "public peer ignores xff", hops: 1, remote: "203.0.113.9:5000", xff: "198.51.100.1", wantIP: "203.0.113.9"},
		{name: "private peer without hops", remote: "10.0.0.5:5000", xff: "198.51.100.1", wantIP: "10.0.0.5"},
		{name: "single load balancer", hops: 1, remote: "10.0.0.5:5000", xff: "198.51.100.1", wantIP: "198.51.100.1", wantXFF: true},
		{name: "spoofed leftmost entry", hops: 1, remote: "10.0.0.5:5000", xff: "1.1.1.1, 198.51.100.1", wantIP: "198.51.100.1", wantXFF: true},
		{name: "cdn and load balancer", hops: 2, remote: "10.0.0.5:5000", xff: "198.51.100.1, 172.16.0.2", wantIP: "198.51.100.1", wantXFF: true},
		{name: "fewer entries than hops", hops: 3, remote: "10.0.0.5:5000", xff: "198.51.100.1", wantIP: "10.0.0.5"},
		{name: "garbage entry", hops: 1, remote: "10.0.0.5:5000", xff: "not-an-ip", wantIP: "10.0.0.5", wantXFF: true},
		{name: "code execution process", hops: 1, remote: "127.0.0.1:40000", xff: "198.51.100.1", wantIP: "127.0.0.1", wantLocal: true},
		{name: "ipv6 loopback", remote: "[::1]:40000", wantIP: "::1", wantLocal: true},
		{name: "bare address", remote: "192.0.2.7", wantIP: "192.0.2.7"},
		{name: "malformed", remote: "nonsense", wantIP: "nonsense"},
		{name: "empty", remote: "", wantIP: "0.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				gotIP, gotXFF string
				gotLocal      bool
			)
			h := ClientIPWithOptions(ClientIPOptions{TrustedHops: tt.hops})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotIP = ClientIPFromContext(r.Context())
				gotLocal = LoopbackPeer(r)
				gotXFF = r.Header.Get("X-Forwarded-For")
			}))
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
				r.Header.Set("X-Forwarded-Proto", "https")
			}
			h.ServeHTTP(httptest.NewRecorder(), r)

			if gotIP != tt.wantIP {
				t.Errorf("client ip = %q, want %q", gotIP, tt.wantIP)
			}
			if gotLocal != tt.wantLocal {
				t.Errorf("LoopbackPeer = %v, want %v", gotLocal, tt.wantLocal)
			}
			if (gotXFF != "") != tt.wantXFF {
				t.Errorf("X-Forwarded-For = %q, kept = %v", gotXFF, tt.wantXFF)
			}
		})
	}
}

func TestLoopbackPeer_WithoutMiddleware(t *testing.T) {
	for remote, want := range map[string]bool{
		"127.0.0.1:1": true,
		"[::1]:1":     true,
		"10.0.0.1:1":  false,
		"localhost:1": false,
		"":            false,
	} {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		r.RemoteAddr = remote
		if got := LoopbackPeer(r); got != want {
			t.Errorf("LoopbackPeer(%q) = %v, want %v", remote, got, want)
		}
	}
}

func TestWithClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if got := ClientIPFromContext(r.Context()); got != "" {
		t.Fatalf("empty context gave %q", got)
	}
	if ctx := WithClientIP(r.Context(), ""); ctx != r.Context() {
		t.Fatal("empty ip should leave the context alone")
	}

	r = r.WithContext(WithClientIP(r.Context(), "127.0.0.1"))
	r.RemoteAddr = "203.0.113.9:5000"
	if got := ClientIPFromContext(r.Context()); got != "127.0.0.1" {
		t.Fatalf("ClientIPFromContext = %q", got)
	}
	if !LoopbackPeer(r) {
		t.Fatal("recorded address should win over RemoteAddr")
	}
}
