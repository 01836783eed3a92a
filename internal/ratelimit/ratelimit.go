package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jspheredev/jsphere-gateway/internal/httpmw"
	"github.com/jspheredev/jsphere-gateway/internal/ttlcache"
)

// visitor is one client on one tenant host.
type visitor struct {
	host    string
	ip      string
	limiter *rate.Limiter
	// denied is set on the first rejection and lives as long as the
	// visitor, so each offender is reported once per idle period
	denied bool
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	visitors *ttlcache.Cache

	perSecond rate.Limit
	burst     int
	idle      time.Duration
	max       int
	full      bool

	onCapacity    func()
	onFirstDenied func(host, ip string)
	onDenied      func(host, ip string)
	clock         func() time.Time
}

type Option func(*Limiter)

// WithRate refills perSecond tokens a second into a bucket of burst.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		l.perSecond, l.burst = rate.Limit(perSecond), burst
	}
}

// WithTTL is how long an idle visitor is remembered.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.idle = d
		}
	}
}

// WithMaxVisitors caps remembered visitors. New visitors are rejected
// while the cap is reached.
func WithMaxVisitors(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.max = n
		}
	}
}

// WithOnCapacity runs once each time the visitor cap is reached.
func WithOnCapacity(fn func()) Option { return func(l *Limiter) { l.onCapacity = fn } }

// WithOnFirstDenied runs on a visitor's first rejection.
func WithOnFirstDenied(fn func(host, ip string)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnDenied runs on every rejection.
func WithOnDenied(fn func(host, ip string)) Option { return func(l *Limiter) { l.onDenied = fn } }

func withClock(now func() time.Time) Option { return func(l *Limiter) { l.clock = now } }

// New starts a Limiter whose idle visitors are forgotten until ctx ends.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		perSecond: 10,
		burst:     30,
		idle:      5 * time.Minute,
		max:       100000,
		clock:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	l.visitors = ttlcache.New(ttlcache.WithClock(l.clock))
	go l.run(ctx)
	return l
}

func (l *Limiter) run(ctx context.Context) {
	t := time.NewTicker(l.idle / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visitors.Sweep()
	if l.visitors.Len() < l.max {
		l.full = false
	}
}

// allow takes a token for host and ip. Hooks run without the lock held.
func (l *Limiter) allow(host, ip string) bool {
	key := host + " " + ip

	l.mu.Lock()
	var v *visitor
	if cur, ok := l.visitors.Get(key); ok {
		v = cur.(*visitor)
		l.visitors.SetExpires(key, l.idle)
	} else if l.visitors.Len() >= l.max {
		first := !l.full
		l.full = true
		l.mu.Unlock()
		if first && l.onCapacity != nil {
			l.onCapacity()
		}
		l.denied(host, ip, false)
		return false
	} else {
		v = &visitor{host: host, ip: ip, limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors.Set(key, v, l.idle)
	}

	ok := v.limiter.AllowN(l.clock(), 1)
	first := !ok && !v.denied
	if first {
		v.denied = true
	}
	l.mu.Unlock()

	if !ok {
		l.denied(host, ip, first)
	}
	return ok
}

func (l *Limiter) denied(host, ip string, first bool) {
	if first && l.onFirstDenied != nil {
		l.onFirstDenied(host, ip)
	}
	if l.onDenied != nil {
		l.onDenied(host, ip)
	}
}

// Middleware answers 429 once the caller's budget on the requested host is
// spent. The client address is the one httpmw.ClientIP resolved.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpmw.LoopbackPeer(r) {
			next.ServeHTTP(w, r)
			return
		}
		if !l.allow(tenantHost(r.Host), httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tenantHost(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		hostport = h
	}
	return strings.ToLower(strings.TrimSuffix(hostport, "."))
}
