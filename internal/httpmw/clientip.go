package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientKey struct{}

// client is what ClientIP learned about the caller.
type client struct {
	ip       string
	loopback bool
}

// ClientIPOptions configures how the caller address is derived.
type ClientIPOptions struct {
	// TrustedHops is the number of proxies in front of the gateway. With 0
	// forwarding headers are ignored. With N the Nth entry from the end of
	// X-Forwarded-For is the client, provided the peer is a private address.
	TrustedHops int
}

// ClientIP records the caller address with forwarding headers ignored.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions records the caller address and whether the caller is
// on this host. Forwarding headers the gateway does not trust are removed
// so tenant code never sees them.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := resolveClient(r, opts.TrustedHops)
			ctx := context.WithValue(r.Context(), clientKey{}, c)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}

func resolveClient(r *http.Request, hops int) client {
	peer, ok := peerIP(r.RemoteAddr)
	if !ok {
		stripForwarded(r)
		if r.RemoteAddr == "" {
			return client{ip: "0.0.0.0"}
		}
		return client{ip: r.RemoteAddr}
	}
	c := client{ip: peer.String(), loopback: peer.IsLoopback()}

	// loopback is not private: a local caller is a code execution process,
	// never a proxy
	if hops <= 0 || !peer.IsPrivate() {
		stripForwarded(r)
		return c
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return c
	}
	parts := strings.Split(xff, ",")
	i := len(parts) - hops
	if i < 0 {
		// fewer hops than configured
		stripForwarded(r)
		return c
	}
	if ip := net.ParseIP(strings.TrimSpace(parts[i])); ip != nil {
		c.ip = ip.String()
	}
	return c
}

func peerIP(remoteAddr string) (net.IP, bool) {
	if remoteAddr == "" {
		return nil, false
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip, ip != nil
}

func ClientIPFromContext(ctx context.Context) string {
	c, _ := ctx.Value(clientKey{}).(client)
	return c.ip
}

// WithClientIP stores ip as the caller address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	parsed := net.ParseIP(ip)
	return context.WithValue(ctx, clientKey{}, client{ip: ip, loopback: parsed != nil && parsed.IsLoopback()})
}

// LoopbackPeer reports whether r was sent from this host. It uses what
// ClientIP recorded and falls back to the connection address.
func LoopbackPeer(r *http.Request) bool {
	if c, ok := r.Context().Value(clientKey{}).(client); ok {
		return c.loopback
	}
	ip, ok := peerIP(r.RemoteAddr)
	return ok && ip.IsLoopback()
}
