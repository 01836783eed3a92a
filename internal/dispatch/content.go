package dispatch

import (
	"context"
	"net/http"
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/route"
)

// routeResolver fills in req.Route from the tenant's route table. An
// unmapped path that names a client or server folder directly is used as
// is. It never answers itself.
type routeResolver struct{}

func (routeResolver) Name() string { return "route" }

func (routeResolver) Handle(_ context.Context, req *Request) (*Response, bool) {
	if req.Tenant == nil {
		return nil, false
	}
	if m, ok := req.Tenant.Routes.Resolve(req.Method, req.Path); ok {
		req.Route = m
	} else if m, ok := route.Direct(req.Path); ok {
		req.Route = m
	}
	return nil, false
}

// static serves client routes from the package item cache with
// If-None-Match support.
type static struct {
	resolver *pkgitem.Resolver
}

func (s *static) Name() string { return "static" }

func (s *static) Handle(ctx context.Context, req *Request) (*Response, bool) {
	if req.Route == nil || req.Route.Class != route.ClassClient {
		return nil, false
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil, false
	}
	it, ok := s.resolver.Resolve(ctx, req.Tenant, req.Route.InternalPath)
	if !ok {
		return notFound(), true
	}

	if NotModified(req.HTTP.Header.Get("If-None-Match"), it.ETag) {
		resp := &Response{Status: http.StatusNotModified, Header: http.Header{}}
		resp.Header.Set("ETag", it.ETag)
		return resp, true
	}

	resp := &Response{Status: http.StatusOK, Header: http.Header{}, Body: it.Content}
	h := resp.Header
	h.Set("ETag", it.ETag)
	h.Set("Content-Type", it.ContentType)
	h.Set("Cache-Control", it.CacheControl)
	if it.AllowOrigin != "" {
		h.Set("Access-Control-Allow-Origin", it.AllowOrigin)
	}
	return resp, true
}

// NotModified compares an If-None-Match value with etag. A single leading
// weak-validator prefix is ignored; lists and "*" are not interpreted.
func NotModified(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	return strings.TrimPrefix(ifNoneMatch, "W/") == etag
}
