package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jspheredev/jsphere-gateway/internal/apictx"
	"github.com/jspheredev/jsphere-gateway/internal/cfg"
	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/cryptoutil"
	"github.com/jspheredev/jsphere-gateway/internal/dispatch"
	"github.com/jspheredev/jsphere-gateway/internal/health"
	"github.com/jspheredev/jsphere-gateway/internal/jsexec"
	"github.com/jspheredev/jsphere-gateway/internal/opshttp"
	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/provider"
	"github.com/jspheredev/jsphere-gateway/internal/ratelimit"
	"github.com/jspheredev/jsphere-gateway/internal/secrets"
	"github.com/jspheredev/jsphere-gateway/internal/tenant"
	"github.com/jspheredev/jsphere-gateway/internal/testrunner"

	"github.com/jspheredev/jsphere-gateway/internal/httpserver"
	"github.com/jspheredev/jsphere-gateway/internal/log"
	"github.com/jspheredev/jsphere-gateway/internal/metrics"
	"github.com/jspheredev/jsphere-gateway/internal/otelx"
	"github.com/jspheredev/jsphere-gateway/internal/prof"
	v "github.com/jspheredev/jsphere-gateway/internal/version"
)

const envPrefix = "JSPHERE_"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags, .env and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	stderrf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}

	// .env never overrides variables that are already set
	envLoaded, err := cfg.LoadDotEnv(conf.EnvFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "env file error:", err)
		os.Exit(1)
	}

	// Fill in config from JSPHERE_ variables, then the legacy unprefixed ones
	cfg.FillFromEnv(flag.CommandLine, envPrefix, stderrf)
	cfg.FillFromEnvAliases(flag.CommandLine, cfg.LegacyEnv, stderrf)

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           v.Version,
		Commit:            v.Commit,
		BuildId:           v.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"env_file_loaded", envLoaded,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_rate_limit", conf.EnableRateLimit,
		"trace_sample", conf.TraceSample,
		"use_local_config", conf.UseLocalConfig,
		"local_root", conf.LocalRoot,
		"local_config", conf.LocalConfig,
		"remote_host", conf.RemoteHost,
		"remote_root", conf.RemoteRoot,
		"remote_config", conf.RemoteConfig,
		"code_exec", conf.CodeExec,
	)

	// profiles are labelled per dispatch handler
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// the collector runs beside the gateway, so no TLS
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		os.Exit(1)
	}

	// resolve startup secrets (remote host token, server secret)
	ssmSource := secrets.NewSSMSource(ssm.NewFromConfig(awsCfg))
	remoteAuth, err := ssmSource.Resolve(ctx, conf.RemoteAuthSSMParam, conf.RemoteAuth)
	if err != nil {
		L.Error(ctx, err, "failed to resolve remote host auth")
		os.Exit(1)
	}
	serverSecret, err := loadServerSecret(ctx, conf, awsCfg, ssmSource)
	if err != nil {
		L.Error(ctx, err, "failed to resolve server secret")
		os.Exit(1)
	}
	sealer, err := cryptoutil.NewSealer(serverSecret)
	if err != nil {
		L.Error(ctx, err, "failed to init value sealer")
		os.Exit(1)
	}
	if !sealer.Enabled() {
		L.Warn(ctx, "no server secret configured, utils.encrypt/decrypt will fail")
	}

	// content providers, keyed by the host name written in application configs
	httpClient := &http.Client{
		Timeout:   conf.HTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	providers := provider.NewRegistry()
	providers.Register(provider.FileSystemName, provider.NewFileSystem)
	providers.Register(provider.GitHubName, provider.GitHubFactory(provider.GitHubOptions{
		Client:    httpClient,
		UserAgent: vi.UserAgent(),
	}))
	providers.Register(provider.S3Name, provider.S3Factory(s3.NewFromConfig(awsCfg)))

	project, err := newProjectProvider(ctx, conf, remoteAuth, providers)
	if err != nil {
		L.Error(ctx, err, "failed to build project provider")
		os.Exit(1)
	}
	project = provider.Observe(project, m)

	// server.json runtime overrides; a local project is always reachable
	projectReachable := health.NewFlag("project: server configuration not retrieved")
	if conf.UseLocalConfig {
		projectReachable.Raise()
	}
	if conf.ServerFile != "" {
		applied, err := applyServerFile(ctx, project, conf.ServerFile, stderrf)
		switch {
		case err == nil:
			projectReachable.Raise()
			L.Info(ctx, "applied server file", "path", conf.ServerFile, "overrides", applied)
		case errors.Is(err, provider.ErrNotFound):
			L.Warn(ctx, "could not retrieve server configuration", "path", conf.ServerFile, "error", err)
		default:
			L.Error(ctx, err, "invalid server configuration", "path", conf.ServerFile)
			os.Exit(1)
		}
		if err := cfg.Validate(conf); err != nil {
			L.Error(ctx, err, "config invalid after server file overrides")
			os.Exit(1)
		}
		httpClient.Timeout = conf.HTTPTimeout
	}

	resolver := pkgitem.NewResolver(pkgitem.Options{
		Local: project,
		Cache: pkgitem.CachePolicy{
			HTML:  conf.CacheControl,
			Asset: conf.CacheControl,
			Other: conf.CacheControl,
		},
		Observer: m,
	})

	reg, err := tenant.NewRegistry(tenant.Options{
		Project:       project,
		Providers:     providers,
		FetchObserver: m,
		Observer:      m,
		InitTimeout:   conf.InitTimeout,
		Logger:        L.With("component", "tenant"),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create tenant registry")
		os.Exit(1)
	}
	go reg.RunSweeper(ctx, time.Minute)

	// server modules are read in-process, or through our own loader endpoint
	var source codeexec.Source = &dispatch.ModuleSource{Registry: reg, Resolver: resolver}
	if conf.CodeExec == "loopback" {
		source = &codeexec.LoopbackSource{
			BaseURL:   fmt.Sprintf("http://127.0.0.1:%d", conf.HTTPPort),
			Client:    &http.Client{Timeout: conf.HTTPTimeout},
			UserAgent: vi.UserAgent(),
		}
	}
	engine, err := jsexec.New(jsexec.Options{
		Source:    source,
		Ext:       conf.ModuleExt,
		Timeout:   conf.ExecTimeout,
		CacheSize: conf.ModuleCache,
		Observer:  m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create code execution engine")
		os.Exit(1)
	}

	chain, err := dispatch.New(dispatch.Options{
		Registry:     reg,
		Resolver:     resolver,
		Exec:         engine,
		Tests:        testrunner.New(testrunner.Options{Loader: engine, Observer: m}),
		Utils:        apictx.NewUtils(sealer),
		InitWait:     conf.InitWait,
		ExecTimeout:  conf.ExecTimeout,
		FeatureFlags: conf.FeatureFlags,
		Observer:     m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create dispatch chain")
		os.Exit(1)
	}

	// ready while not draining and the project host answered at startup
	var gate health.Gate
	readiness := health.All(&gate, projectReachable)

	// Setup rate limiter middleware for the gateway
	var rateLimitMW func(http.Handler) http.Handler
	if conf.EnableRateLimit {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string, string) {
				m.IncRateLimitDenied()
			}),
			// once per visitor until it goes idle and is forgotten
			ratelimit.WithOnFirstDenied(func(host, ip string) {
				L.Warn(ctx, "rate limit triggered", "tenant_host", host, "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	// start gateway http server
	gatewayHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.OK(),
		Readiness:    readiness,
		Gateway:      chain,
		MaxBodyBytes: conf.MaxBodyBytes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start gateway http listener")
		os.Exit(1)
	}
	defer func() { _ = gatewayHTTPStop(context.Background()) }()

	// ops listener: metrics, health, tenant status and pprof, private peers only
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.OK(),
		Readiness:    readiness,
		Tenants:      reg,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// READY=1 under systemd; a failure only delays the unit's start timeout
	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness checks to drain connections
	gate.Close("draining")
	L.Info(context.Background(), "shutdown gate closed")

	L.Info(context.Background(), "sleeping 60s for in-flight and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(60 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// the shutdown budget starts after the drain
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gatewayHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "gateway http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

// newProjectProvider builds the provider holding tenant and application
// files. An unknown remote host falls back to the local filesystem.
func newProjectProvider(ctx context.Context, conf cfg.App, remoteAuth string, providers *provider.Registry) (provider.Provider, error) {
	local := provider.Config{
		Name: provider.FileSystemName,
		Root: conf.LocalRoot,
		Repo: conf.LocalConfig,
	}
	if conf.UseLocalConfig {
		return providers.New(local)
	}
	p, err := providers.New(provider.Config{
		Name: conf.RemoteHost,
		Root: conf.RemoteRoot,
		Auth: remoteAuth,
		Repo: conf.RemoteConfig,
	})
	if errors.Is(err, provider.ErrUnsupported) {
		log.FromContext(ctx).Warn(ctx, "unsupported remote host, defaulting to FileSystem",
			"remote_host", conf.RemoteHost,
			"supported", providers.Names(),
		)
		return providers.New(local)
	}
	return p, err
}

// applyServerFile reads the server file from the project's config
// location and applies it to flags not set by the CLI or env.
func applyServerFile(ctx context.Context, project provider.Provider, path string, logf func(string, ...any)) ([]string, error) {
	data, err := project.GetConfigFile(ctx, path)
	if err != nil {
		return nil, err
	}
	sf, err := cfg.ParseServerFile(data)
	if err != nil {
		return nil, err
	}
	return sf.Apply(flag.CommandLine, logf), nil
}

// loadServerSecret picks the first configured source: SSM, KMS blob, literal.
func loadServerSecret(ctx context.Context, conf cfg.App, awsCfg aws.Config, ssmSource *secrets.SSMSource) ([]byte, error) {
	switch {
	case conf.SecretSSMParam != "":
		s, err := ssmSource.Get(ctx, conf.SecretSSMParam)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	case conf.SecretKMSBlob != "":
		return cryptoutil.NewKMSSecret(kms.NewFromConfig(awsCfg), conf.SecretKMSKeyID).Unwrap(ctx, conf.SecretKMSBlob)
	case conf.Secret != "":
		return []byte(conf.Secret), nil
	}
	return nil, nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
