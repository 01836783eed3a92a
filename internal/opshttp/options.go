package opshttp

import (
	"net/http"

	"github.com/jspheredev/jsphere-gateway/internal/health"
	"github.com/jspheredev/jsphere-gateway/internal/tenant"
)

// Tenants is the part of the tenant registry the ops listener reports on.
type Tenants interface {
	Status(host string) tenant.Status
	Generation(host string) (int64, bool)
	LastFailure(host string) (tenant.Failure, bool)
	Len() int
}

type Options struct {
	Port         int
	Metrics      http.Handler
	EnablePprof  bool
	Health       health.Checker
	Readiness    health.Checker
	// Tenants enables /tenants and /tenants/{host}. Optional.
	Tenants      Tenants
	UseRecoverMW bool
	// OnPanic runs after a recovered panic is logged. Optional.
	OnPanic      func()
}
