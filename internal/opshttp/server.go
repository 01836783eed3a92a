// Package opshttp serves the operator listener: health, Prometheus
// metrics, pprof and the per-host view of the tenant registry. It is never
// exposed to tenant traffic and rejects public peers.
package opshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/jspheredev/jsphere-gateway/internal/health"
	"github.com/jspheredev/jsphere-gateway/internal/httpmw"
	"github.com/jspheredev/jsphere-gateway/internal/httpserver"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

const DefaultPort = 9000

// NewHandler builds the ops mux behind the non-public peer check.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	mux := http.NewServeMux()

	live := health.LiveHandler(opts.Health)
	ready := health.ReadyHandler(opts.Readiness)
	for _, p := range []string{"/-/healthy", "/healthz"} {
		mux.Handle(p, live)
	}
	for _, p := range []string{"/-/ready", "/readyz"} {
		mux.Handle(p, ready)
	}

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	if opts.Tenants != nil {
		mux.Handle("GET /tenants", tenantCount(opts.Tenants))
		mux.Handle("GET /tenants/{host}", tenantStatus(opts.Tenants))
	}

	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		mux.Handle("/debug/pprof/", http.NotFoundHandler())
	}

	h := nonPublicOnly(L, mux)
	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return h
}

// Start listens on opts.Port and returns stop(ctx) for graceful shutdown.
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)
	srv := httpserver.NewServer(addr, NewHandler(L, opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on ops addr %s", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (err error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, httpserver.DefaultShutdownTimeout)
			defer cancel()
			err = srv.Shutdown(c)
		})
		return err
	}
	return stop, nil
}

// RegisterPprof mounts the net/http/pprof handlers under /debug/pprof/.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

type tenantView struct {
	Host       string     `json:"host"`
	Status     string     `json:"status"`
	Generation int64      `json:"generation,omitempty"`
	Failure    string     `json:"last_failure,omitempty"`
	FailedAt   *time.Time `json:"last_failure_at,omitempty"`
}

func tenantStatus(t Tenants) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := strings.ToLower(strings.TrimSuffix(r.PathValue("host"), "."))
		v := tenantView{Host: host, Status: t.Status(host).String()}
		if gen, ok := t.Generation(host); ok {
			v.Generation = gen
		}
		if f, ok := t.LastFailure(host); ok {
			v.Failure = f.Err.Error()
			v.FailedAt = &f.At
		}
		writeJSON(w, v)
	}
}

func tenantCount(t Tenants) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]int{"tenants": t.Len()})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}

// nonPublicOnly rejects peers outside loopback, private and link-local
// ranges, in case the ops port is ever exposed.
func nonPublicOnly(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !nonPublic(r.RemoteAddr) {
			L.Warn(r.Context(), "ops request from public or unknown address rejected", "remote_addr", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func nonPublic(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
