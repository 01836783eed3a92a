// Package tenant owns the map from hostname to tenant state and drives the
// initialization lifecycle:
//
//	Absent -> Initializing -> Ready
//	Absent -> Initializing -> Failed (-> Absent)
//
// The first request for an unseen hostname initializes it. Concurrent first
// requests for the same hostname share one attempt through a per-hostname
// single-flight, unrelated hostnames never wait on each other. A failed
// attempt leaves nothing behind, so the next request retries.
package tenant

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jspheredev/jsphere-gateway/internal/appconfig"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/provider"
	"github.com/jspheredev/jsphere-gateway/internal/route"
	"github.com/jspheredev/jsphere-gateway/internal/ttlcache"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

var (
	ErrNotRegistered       = errors.New("tenant not registered")
	ErrAppNotRegistered    = errors.New("tenant application not registered")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrInvalidConfig       = errors.New("invalid tenant configuration")
)

// Observer receives lifecycle events, e.g. for metrics.
type Observer interface {
	ObserveTenantInit(result string, d time.Duration)
	SetTenantsActive(n int)
	IncTenantReset()
}

type Options struct {
	// Project is where tenant and application files live.
	Project provider.Provider
	// Providers builds each application's content provider.
	Providers *provider.Registry
	// FetchObserver instruments tenant providers. Optional.
	FetchObserver provider.FetchObserver
	// Observer is optional.
	Observer Observer
	// InitTimeout bounds one initialization attempt. Default 30s.
	InitTimeout time.Duration
	Logger      log.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

var ErrInvalidOptions = errors.New("tenant: invalid options")

func (o *Options) setDefaults() {
	if o.InitTimeout <= 0 {
		o.InitTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) validate() error {
	if o.Project == nil {
		return xerrors.Wrap(ErrInvalidOptions, "project provider is required")
	}
	if o.Providers == nil {
		return xerrors.Wrap(ErrInvalidOptions, "provider registry is required")
	}
	return nil
}

type entry struct {
	status Status
	tenant *Tenant
	done   chan struct{}
}

// Failure records the most recent failed initialization of a hostname.
type Failure struct {
	Err error
	At  time.Time
}

// Registry is safe for concurrent use. Its lifetime is the process.
type Registry struct {
	opts Options

	mu       sync.RWMutex
	entries  map[string]*entry
	failures map[string]Failure
	lastGen  int64

	group singleflight.Group
}

func NewRegistry(opts Options) (*Registry, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Registry{
		opts:     opts,
		entries:  make(map[string]*entry),
		failures: make(map[string]Failure),
	}, nil
}

// Get returns the tenant for hostname if it is ready.
func (r *Registry) Get(hostname string) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[hostname]; ok && e.status == Ready {
		return e.tenant, true
	}
	return nil, false
}

// Generation reports the cache generation of a ready tenant.
func (r *Registry) Generation(hostname string) (int64, bool) {
	t, ok := r.Get(hostname)
	if !ok {
		return 0, false
	}
	return t.generation, true
}

func (r *Registry) Status(hostname string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[hostname]; ok {
		return e.status
	}
	return Absent
}

// LastFailure returns the most recent initialization failure for hostname.
// A later successful initialization clears it.
func (r *Registry) LastFailure(hostname string) (Failure, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.failures[hostname]
	return f, ok
}

// Len is the number of ready or initializing tenants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweep drops expired entries from every ready tenant's handler cache and
// returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.RLock()
	ts := make([]*Tenant, 0, len(r.entries))
	for _, e := range r.entries {
		if e.status == Ready && e.tenant.Cache != nil {
			ts = append(ts, e.tenant)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, t := range ts {
		n += t.Cache.Sweep()
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				r.opts.Logger.Debug(ctx, "swept expired tenant cache entries", "removed", n)
			}
		}
	}
}

// Wait blocks while hostname is initializing, up to d or until ctx is done,
// and returns the status it settled on.
func (r *Registry) Wait(ctx context.Context, hostname string, d time.Duration) Status {
	r.mu.RLock()
	e, ok := r.entries[hostname]
	r.mu.RUnlock()
	if !ok {
		return Absent
	}
	if e.status != Initializing {
		return e.status
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-e.done:
	case <-t.C:
	case <-ctx.Done():
	}
	return r.Status(hostname)
}

// Init returns the ready tenant for hostname, initializing it if absent.
// Concurrent callers for the same hostname share one attempt. The attempt
// runs detached from any single caller's cancellation, bounded by
// InitTimeout, so one disconnecting client cannot fail the others.
func (r *Registry) Init(ctx context.Context, hostname string) (*Tenant, error) {
	if t, ok := r.Get(hostname); ok {
		return t, nil
	}

	ch := r.group.DoChan(hostname, func() (any, error) {
		if t, ok := r.Get(hostname); ok {
			return t, nil
		}
		e := &entry{status: Initializing, done: make(chan struct{})}
		r.mu.Lock()
		r.entries[hostname] = e
		r.mu.Unlock()

		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.InitTimeout)
		defer cancel()

		start := r.opts.Now()
		t, err := r.build(ictx, hostname)
		r.finish(ictx, hostname, e, t, err, start)
		if err != nil {
			return nil, err
		}
		return t, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Tenant), nil
	case <-ctx.Done():
		return nil, xerrors.Wrap(ctx.Err(), "waiting for tenant initialization")
	}
}

func (r *Registry) finish(ctx context.Context, hostname string, e *entry, t *Tenant, err error, start time.Time) {
	L := r.opts.Logger
	d := r.opts.Now().Sub(start)

	r.mu.Lock()
	// a reset during initialization removed e, the result is discarded
	current := r.entries[hostname] == e
	switch {
	case err != nil:
		e.status = Failed
		if current {
			delete(r.entries, hostname)
		}
		r.failures[hostname] = Failure{Err: err, At: r.opts.Now()}
	case current:
		e.status = Ready
		e.tenant = t
		delete(r.failures, hostname)
	default:
		e.status = Failed
		err = xerrors.New("tenant was reset during initialization")
	}
	n := len(r.entries)
	r.mu.Unlock()
	close(e.done)

	result := "ok"
	if err != nil {
		result = "error"
		L.Error(ctx, err, "tenant initialization failed", "tenant_host", hostname, "duration", d.Seconds())
	} else {
		L.Info(ctx, "tenant initialized",
			"tenant_host", hostname,
			"application", t.Config.Application,
			"provider", t.provider.Name(),
			"generation", t.generation,
			"routes", t.Routes.Len(),
			"duration", d.Seconds(),
		)
	}
	if o := r.opts.Observer; o != nil {
		o.ObserveTenantInit(result, d)
		o.SetTenantsActive(n)
	}
}

// Reset removes hostname so the next request initializes it from scratch
// with a new generation. It reports whether a tenant was present.
func (r *Registry) Reset(hostname string) bool {
	r.mu.Lock()
	_, ok := r.entries[hostname]
	delete(r.entries, hostname)
	n := len(r.entries)
	r.mu.Unlock()

	r.group.Forget(hostname)
	if ok {
		if o := r.opts.Observer; o != nil {
			o.IncTenantReset()
			o.SetTenantsActive(n)
		}
	}
	return ok
}

// nextGeneration returns a millisecond timestamp that is strictly greater
// than any generation handed out before.
func (r *Registry) nextGeneration() int64 {
	g := r.opts.Now().UnixMilli()
	r.mu.Lock()
	defer r.mu.Unlock()
	if g <= r.lastGen {
		g = r.lastGen + 1
	}
	r.lastGen = g
	return g
}

func (r *Registry) build(ctx context.Context, hostname string) (*Tenant, error) {
	if !appconfig.ValidName(hostname) {
		return nil, xerrors.Wrapf(ErrNotRegistered, "invalid hostname %q", hostname)
	}

	b, err := r.opts.Project.GetConfigFile(ctx, appconfig.TenantPath(hostname))
	if err != nil {
		return nil, &initError{kind: ErrNotRegistered, detail: hostname, cause: err}
	}
	tc, err := appconfig.ParseTenant(b)
	if err != nil {
		return nil, &initError{kind: ErrInvalidConfig, detail: appconfig.TenantPath(hostname), cause: err}
	}

	b, err = r.opts.Project.GetConfigFile(ctx, appconfig.ApplicationPath(tc.Application))
	if err != nil {
		return nil, &initError{kind: ErrAppNotRegistered, detail: tc.Application, cause: err}
	}
	app, err := appconfig.ParseApplication(b)
	if err != nil {
		return nil, &initError{kind: ErrInvalidConfig, detail: appconfig.ApplicationPath(tc.Application), cause: err}
	}

	prov, err := r.opts.Providers.New(app.Host)
	if err != nil {
		return nil, &initError{kind: ErrUnsupportedProvider, detail: app.Host.Name, cause: err}
	}

	routes, err := route.NewTable(app.RouteMappings)
	if err != nil {
		return nil, &initError{kind: ErrInvalidConfig, detail: appconfig.ApplicationPath(tc.Application), cause: err}
	}

	return &Tenant{
		Hostname:   hostname,
		Config:     tc,
		App:        app,
		Routes:     routes,
		Cache:      ttlcache.New(ttlcache.WithClock(r.opts.Now)),
		State:      ttlcache.New(),
		CreatedAt:  r.opts.Now(),
		provider:   provider.Observe(prov, r.opts.FetchObserver),
		items:      pkgitem.NewCache(),
		generation: r.nextGeneration(),
		settings:   appconfig.MergeSettings(app.Settings, tc.Settings),
	}, nil
}

// initError classifies an initialization failure under one of the package
// sentinels while keeping the provider or parse error as cause.
type initError struct {
	kind   error
	detail string
	cause  error
}

func (e *initError) Error() string {
	return e.kind.Error() + ": " + e.detail + ": " + e.cause.Error()
}

func (e *initError) Unwrap() []error { return []error{e.kind, e.cause} }
