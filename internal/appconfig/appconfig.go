// Package appconfig holds the JSON documents that describe a tenant and the
// application serving it.
//
// A tenant file (.tenants/<hostname>.json) names the application and carries
// tenant-scoped settings and context extensions. An application file
// (.applications/<name>.json) names the content host, the packages with
// their revision pins and per-path metadata, and the ordered route mappings.
package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/provider"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

const (
	TenantsDir      = ".tenants"
	ApplicationsDir = ".applications"
)

// TenantPath is the config path of the tenant file for hostname.
func TenantPath(hostname string) string {
	return TenantsDir + "/" + hostname + ".json"
}

// ApplicationPath is the config path of the application file for name.
func ApplicationPath(name string) string {
	return ApplicationsDir + "/" + name + ".json"
}

// ValidName reports whether s is safe to embed in a config path as a single
// file name (hostnames, application names).
func ValidName(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > 253 {
		return false
	}
	return !strings.ContainsAny(s, "/\\?#\x00")
}

type Tenant struct {
	TenantID    string         `json:"tenantId,omitempty"`
	Application string         `json:"application"`
	Settings    map[string]any `json:"settings,omitempty"`
	// ContextExtensions maps a handler context property to the package path
	// of a module exporting createInstance.
	ContextExtensions map[string]string `json:"contextExtensions,omitempty"`
}

type Application struct {
	Host          provider.Config    `json:"host"`
	Packages      map[string]Package `json:"packages"`
	RouteMappings []RouteMapping     `json:"routeMappings"`
	Settings      map[string]any     `json:"settings,omitempty"`
}

type Package struct {
	// Tag pins the revision, empty means provider.DefaultRef.
	Tag string `json:"tag,omitempty"`
	// UseLocalRepo serves the package from the project host instead of the
	// application's host. Meant for local development.
	UseLocalRepo bool `json:"useLocalRepo,omitempty"`
	// PackageItemConfig overrides item metadata by path prefix relative to
	// the package root, e.g. "/client/assets/".
	PackageItemConfig map[string]ItemConfig `json:"packageItemConfig,omitempty"`
}

// Ref is the effective revision of the package.
func (p Package) Ref() string {
	if p.Tag == "" {
		return provider.DefaultRef
	}
	return p.Tag
}

type ItemConfig struct {
	ContentType  string `json:"contentType,omitempty"`
	CacheControl string `json:"cacheControl,omitempty"`
	AllowOrigin  string `json:"allowOrigin,omitempty"`
}

// Merge overlays the non-empty fields of o onto c.
func (c ItemConfig) Merge(o ItemConfig) ItemConfig {
	if o.ContentType != "" {
		c.ContentType = o.ContentType
	}
	if o.CacheControl != "" {
		c.CacheControl = o.CacheControl
	}
	if o.AllowOrigin != "" {
		c.AllowOrigin = o.AllowOrigin
	}
	return c
}

// ItemOverride folds every PackageItemConfig entry whose prefix matches
// subPath, shortest prefix first, so the most specific entry wins per field.
// subPath is relative to the package root and starts with "/".
func (p Package) ItemOverride(subPath string) ItemConfig {
	prefixes := make([]string, 0, len(p.PackageItemConfig))
	for prefix := range p.PackageItemConfig {
		if strings.HasPrefix(subPath, prefix) {
			prefixes = append(prefixes, prefix)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) < len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})
	var out ItemConfig
	for _, prefix := range prefixes {
		out = out.Merge(p.PackageItemConfig[prefix])
	}
	return out
}

type RouteMapping struct {
	Route  string `json:"route"`
	Path   string `json:"path"`
	Method string `json:"method,omitempty"`
}

// ParseTenant decodes and validates a tenant file.
func ParseTenant(b []byte) (*Tenant, error) {
	var t Tenant
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, xerrors.Wrap(err, "decode tenant config")
	}
	if !ValidName(t.Application) {
		return nil, xerrors.Newf("tenant config: invalid application %q", t.Application)
	}
	return &t, nil
}

// ParseApplication decodes and validates an application file.
func ParseApplication(b []byte) (*Application, error) {
	var a Application
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, xerrors.Wrap(err, "decode application config")
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate reports every problem at once.
func (a *Application) Validate() error {
	var errs []error
	if a.Host.Name == "" {
		errs = append(errs, fmt.Errorf("host.name is required"))
	}
	for name := range a.Packages {
		if !ValidName(name) || strings.HasPrefix(name, "~") {
			errs = append(errs, fmt.Errorf("invalid package name %q", name))
		}
	}
	for i, m := range a.RouteMappings {
		if !strings.HasPrefix(m.Route, "/") {
			errs = append(errs, fmt.Errorf("routeMappings[%d]: route %q must start with /", i, m.Route))
		}
		if !strings.HasPrefix(m.Path, "/") {
			errs = append(errs, fmt.Errorf("routeMappings[%d]: path %q must start with /", i, m.Path))
		}
	}
	if len(errs) > 0 {
		return xerrors.Wrap(errors.Join(errs...), "application config")
	}
	return nil
}

// MergeSettings returns the application settings overlaid with the tenant
// settings. Neither input is modified.
func MergeSettings(app, tenant map[string]any) map[string]any {
	out := make(map[string]any, len(app)+len(tenant))
	for k, v := range app {
		out[k] = v
	}
	for k, v := range tenant {
		out[k] = v
	}
	return out
}
