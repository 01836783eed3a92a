// Package apictx builds the context a dynamic handler module receives: the
// decoded request, response helpers, tenant settings and cache, utilities,
// and feature flags. It is independent of how handler code is executed.
package apictx

import (
	"github.com/jspheredev/jsphere-gateway/internal/appconfig"
	"github.com/jspheredev/jsphere-gateway/internal/ttlcache"
)

type TenantInfo struct {
	TenantID string `json:"tenantId"`
	Hostname string `json:"hostname"`
}

// Context is everything a handler call can see. One Context serves one
// request; Settings and the caches are shared with the tenant.
type Context struct {
	Tenant   TenantInfo
	Request  *Request
	Settings map[string]any
	// Cache is the tenant TTL cache exposed to handlers.
	Cache *ttlcache.Cache
	// State is handed to context extensions.
	State    *ttlcache.Cache
	Utils    *Utils
	Features Features

	// Extensions maps a context property to the module exporting its
	// createInstance.
	Extensions   map[string]string
	TenantConfig *appconfig.Tenant
	AppConfig    *appconfig.Application
}

// ExtensionConfig is the first argument of an extension's createInstance.
func (c *Context) ExtensionConfig() map[string]any {
	return map[string]any{
		"tenantId":     c.Tenant.TenantID,
		"hostname":     c.Tenant.Hostname,
		"tenantConfig": c.TenantConfig,
		"appConfig":    c.AppConfig,
	}
}
