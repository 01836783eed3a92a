// Package metrics owns the gateway's Prometheus registry. Every collector
// lives under the jsphere namespace. Tenant hostnames and request paths are
// never used as labels, so series count stays bounded however many tenants
// the gateway serves.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jspheredev/jsphere-gateway/internal/version"
)

const namespace = "jsphere"

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	sizeBuckets    = prometheus.ExponentialBuckets(256, 4, 10) // 256B .. 64MiB
	fetchBuckets   = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	initBuckets    = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	execBuckets    = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

// ServerMetrics implements the observer interfaces of the tenant registry,
// the dispatch chain, providers, the package item resolver, the code
// execution engine and the test runner.
type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight  prometheus.Gauge
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec
	panics    prometheus.Counter
	limited   prometheus.Counter
	limitFull prometheus.Counter

	// gateway
	tenantInits  *prometheus.CounterVec
	tenantInitT  prometheus.Histogram
	tenants      prometheus.Gauge
	tenantResets prometheus.Counter
	items        *prometheus.CounterVec
	fetchT       *prometheus.HistogramVec
	fetchMisses  *prometheus.CounterVec
	dispatched   *prometheus.CounterVec
	testRuns     prometheus.Counter
	execT        *prometheus.HistogramVec

	// process
	buildInfo *prometheus.GaugeVec
	profiling prometheus.Gauge
}

// factory registers every collector it builds on reg.
type factory struct{ reg *prometheus.Registry }

func (f factory) counter(sub, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help})
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(sub, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help}, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) gauge(sub, name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help})
	f.reg.MustRegister(g)
	return g
}

func (f factory) histogram(sub, name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help, Buckets: buckets})
	f.reg.MustRegister(h)
	return h
}

func (f factory) histogramVec(sub, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help, Buckets: buckets}, labels)
	f.reg.MustRegister(h)
	return h
}

// New builds a private registry with the Go and process collectors and the
// gateway's own.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := factory{reg: reg}

	m := &ServerMetrics{
		reg: reg,

		inflight:  f.gauge("http", "inflight_requests", "Requests being served."),
		requests:  f.counterVec("http", "requests_total", "Requests by method, route and status.", "method", "route", "status"),
		errors:    f.counterVec("http", "errors_total", "5xx responses by method and route.", "method", "route"),
		latency:   f.histogramVec("http", "request_duration_seconds", "Request latency by method and route.", latencyBuckets, "method", "route"),
		respBytes: f.histogramVec("http", "response_size_bytes", "Response size by method and route.", sizeBuckets, "method", "route"),
		panics:    f.counter("http", "panics_total", "Panics recovered outside the dispatch chain."),
		limited:   f.counter("http", "rate_limited_total", "Requests rejected by the rate limiter."),
		limitFull: f.counter("http", "rate_limit_capacity_total", "Times the rate limiter ran out of visitor slots."),

		tenantInits:  f.counterVec("tenant", "inits_total", "Tenant initializations by result.", "result"),
		tenantInitT:  f.histogram("tenant", "init_duration_seconds", "Time to load tenant and application config.", initBuckets),
		tenants:      f.gauge("tenant", "active", "Tenants ready or initializing."),
		tenantResets: f.counter("tenant", "resets_total", "Tenant resets."),
		items:        f.counterVec("package", "item_resolutions_total", "Package item resolutions by result (hit, miss, absent).", "result"),
		fetchT:       f.histogramVec("provider", "fetch_duration_seconds", "Content provider fetch latency by provider and kind.", fetchBuckets, "provider", "kind"),
		fetchMisses:  f.counterVec("provider", "fetch_not_found_total", "Content provider fetches that found nothing, by provider and kind.", "provider", "kind"),
		dispatched:   f.counterVec("dispatch", "responses_total", "Dispatch chain responses by handler and status.", "handler", "status"),
		testRuns:     f.counter("testrunner", "runs_total", "Embedded test suite runs."),
		execT:        f.histogramVec("codeexec", "call_duration_seconds", "Handler module call latency by request method.", execBuckets, "method"),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata, always 1.",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profiling: f.gauge("", "profiling_active", "1 while continuous profiling is running."),
	}
	reg.MustRegister(m.buildInfo)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.WithLabelValues(app, component, vi.Version, vi.Commit, vi.CommitDate,
		vi.BuildId, vi.BuildDate, dirty, vi.GoVersion).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.profiling.Set(v)
}

func (m *ServerMetrics) IncHttpPanic()         { m.panics.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()   { m.limited.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.limitFull.Inc() }

// ObserveTenantInit implements tenant.Observer.
func (m *ServerMetrics) ObserveTenantInit(result string, d time.Duration) {
	m.tenantInits.WithLabelValues(result).Inc()
	m.tenantInitT.Observe(d.Seconds())
}

func (m *ServerMetrics) SetTenantsActive(n int) { m.tenants.Set(float64(n)) }
func (m *ServerMetrics) IncTenantReset()        { m.tenantResets.Inc() }

// IncPackageItem implements pkgitem.Observer.
func (m *ServerMetrics) IncPackageItem(result string) {
	m.items.WithLabelValues(result).Inc()
}

// ObserveProviderFetch implements provider.FetchObserver.
func (m *ServerMetrics) ObserveProviderFetch(provider, kind string, d time.Duration, found bool) {
	m.fetchT.WithLabelValues(provider, kind).Observe(d.Seconds())
	if !found {
		m.fetchMisses.WithLabelValues(provider, kind).Inc()
	}
}

// ObserveDispatch implements dispatch.Observer.
func (m *ServerMetrics) ObserveDispatch(handler string, status int) {
	m.dispatched.WithLabelValues(handler, strconv.Itoa(status)).Inc()
}

func (m *ServerMetrics) IncTestRun() { m.testRuns.Inc() }

// ObserveCodeExec implements jsexec.Observer.
func (m *ServerMetrics) ObserveCodeExec(method string, d time.Duration) {
	m.execT.WithLabelValues(method).Observe(d.Seconds())
}
