package tenant

import (
	"time"

	"github.com/jspheredev/jsphere-gateway/internal/appconfig"
	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/provider"
	"github.com/jspheredev/jsphere-gateway/internal/route"
	"github.com/jspheredev/jsphere-gateway/internal/ttlcache"
)

// Tenant is the fully initialized state of one hostname. A Tenant is built
// in one piece by the registry and never mutated afterwards; its caches are
// internally synchronized. Reset discards the whole value.
type Tenant struct {
	Hostname string
	Config   *appconfig.Tenant
	App      *appconfig.Application
	Routes   *route.Table
	// Cache is the generic TTL cache handed to tenant handlers.
	Cache *ttlcache.Cache
	// State is free-form, process-lifetime state for context extensions.
	State     *ttlcache.Cache
	CreatedAt time.Time

	provider   provider.Provider
	items      *pkgitem.Cache
	generation int64
	settings   map[string]any
}

// ID is the configured tenant id, falling back to the hostname.
func (t *Tenant) ID() string {
	if t.Config.TenantID != "" {
		return t.Config.TenantID
	}
	return t.Hostname
}

// Package implements pkgitem.Source.
func (t *Tenant) Package(name string) (appconfig.Package, bool) {
	p, ok := t.App.Packages[name]
	return p, ok
}

// Provider implements pkgitem.Source.
func (t *Tenant) Provider() provider.Provider { return t.provider }

// Items implements pkgitem.Source.
func (t *Tenant) Items() *pkgitem.Cache { return t.items }

// Generation scopes every cached package item of the tenant. It changes only
// when the tenant is reset and initialized again.
func (t *Tenant) Generation() int64 { return t.generation }

// Settings are the application settings overlaid with tenant settings.
// The map is shared, callers must not modify it.
func (t *Tenant) Settings() map[string]any { return t.settings }
