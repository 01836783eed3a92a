package pkgitem

import (
	"context"
	"errors"
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/appconfig"
	"github.com/jspheredev/jsphere-gateway/internal/cryptoutil"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/provider"
)

// Source is the tenant state the resolver reads.
type Source interface {
	Package(name string) (appconfig.Package, bool)
	Provider() provider.Provider
	Items() *Cache
	Generation() int64
}

// Observer is notified of every resolution outcome: "hit", "miss" or "absent".
type Observer interface {
	IncPackageItem(result string)
}

type Options struct {
	// Local serves packages declared with useLocalRepo. Optional.
	Local provider.Provider
	Cache CachePolicy
	// Observer is optional.
	Observer Observer
}

// Resolver turns request paths into package items. It holds no per-tenant
// state and is safe for concurrent use.
type Resolver struct {
	local provider.Provider
	cache CachePolicy
	obs   Observer
}

func NewResolver(opts Options) *Resolver {
	if opts.Cache == (CachePolicy{}) {
		opts.Cache = DefaultCachePolicy()
	}
	return &Resolver{local: opts.Local, cache: opts.Cache, obs: opts.Observer}
}

func (r *Resolver) observe(result string) {
	if r.obs != nil {
		r.obs.IncPackageItem(result)
	}
}

// Resolve returns the item for reqPath, fetching and storing it on first use
// within the source's generation. Unregistered packages and failed fetches
// are reported as absent and logged at warn level; absence is never cached.
func (r *Resolver) Resolve(ctx context.Context, src Source, reqPath string) (*Item, bool) {
	items := src.Items()
	if it, ok := items.Get(reqPath); ok {
		r.observe("hit")
		return it, true
	}

	L := log.FromContext(ctx)
	p, ok := ParsePath(reqPath)
	if !ok {
		r.observe("absent")
		return nil, false
	}
	pkg, ok := src.Package(p.Package)
	if !ok {
		L.Warn(ctx, "package not registered", "package", p.Package, "path", reqPath)
		r.observe("absent")
		return nil, false
	}

	load := func(ctx context.Context) (*Item, error) {
		v, err, _ := items.group.Do(reqPath, func() (any, error) {
			if it, ok := items.Get(reqPath); ok {
				return it, nil
			}
			it, err := r.fetch(ctx, src, p, pkg, reqPath)
			if err != nil {
				return nil, err
			}
			r.observe("miss")
			return items.put(reqPath, it), nil
		})
		if err != nil {
			return nil, err
		}
		return v.(*Item), nil
	}

	it, err := load(ctx)
	// a shared fetch aborted by another caller's cancellation is retried
	// once on our own context
	if err != nil && isCanceled(err) && ctx.Err() == nil {
		it, err = load(ctx)
	}
	if err != nil {
		L.Warn(ctx, "package item not found", "package", p.Package, "path", reqPath, "reason", err.Error())
		r.observe("absent")
		return nil, false
	}
	return it, true
}

func (r *Resolver) fetch(ctx context.Context, src Source, p Path, pkg appconfig.Package, reqPath string) (*Item, error) {
	prov := src.Provider()
	if pkg.UseLocalRepo && r.local != nil {
		prov = r.local
	}
	sub := strings.TrimPrefix(p.SubPath, "/")

	f, err := prov.GetFile(ctx, provider.WithRef(sub, pkg.Ref()), p.Package)
	if err != nil {
		return nil, err
	}

	it := &Item{
		Path:        reqPath,
		Package:     p.Package,
		Content:     f.Content,
		ContentType: ContentType(p.SubPath),
		ETag:        f.SHA,
		Generation:  src.Generation(),
	}
	if it.ETag == "" {
		it.ETag = cryptoutil.Digest(f.Content)
	}

	o := pkg.ItemOverride(p.SubPath)
	if o.ContentType != "" {
		it.ContentType = o.ContentType
	}
	it.CacheControl = o.CacheControl
	if it.CacheControl == "" {
		it.CacheControl = r.cache.forFile(p.SubPath)
	}
	it.AllowOrigin = o.AllowOrigin
	return it, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
