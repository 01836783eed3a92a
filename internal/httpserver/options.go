package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jspheredev/jsphere-gateway/internal/health"
	"github.com/jspheredev/jsphere-gateway/internal/httpmw"
	"github.com/jspheredev/jsphere-gateway/internal/log"
)

// DefaultMaxBodyBytes bounds request bodies when Options.MaxBodyBytes is 0.
const DefaultMaxBodyBytes = 10 << 20

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	// OnPanic runs after a recovered panic is logged. Optional.
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	// Health defaults to health.OK.
	Health       health.Checker
	Readiness    health.Checker
	// MaxBodyBytes caps request bodies. Default DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// APIRoutes registers fixed routes ahead of the gateway. Optional.
	APIRoutes func(chi.Router)
	// Gateway serves every request no other route matched, on any method.
	Gateway http.Handler
}
