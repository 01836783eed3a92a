// Package cfg holds the gateway's process configuration. Every setting is a
// flag, and each source is a layer over the flags:
//
//	cli flag > JSPHERE_* env > legacy env > server.json > default
//
// The .env file is loaded into the process environment before the env
// layers run, so it only fills variables the environment lacks.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jspheredev/jsphere-gateway/internal/log"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	EnableRateLimit   bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	RateLimitRPS      float64
	RateLimitBurst    int

	// Project host
	UseLocalConfig     bool
	LocalRoot          string
	LocalConfig        string
	RemoteHost         string
	RemoteRoot         string
	RemoteAuth         string
	RemoteAuthSSMParam string
	RemoteConfig       string
	ServerFile         string
	EnvFile            string

	// Server secret for utils.encrypt/decrypt. At most one source is used,
	// in order: SecretSSMParam, SecretKMSBlob, Secret.
	Secret         string
	SecretSSMParam string
	SecretKMSBlob  string
	SecretKMSKeyID string

	// Runtime tunables, overridable from server.json
	HTTPTimeout  time.Duration
	InitWait     time.Duration
	InitTimeout  time.Duration
	ExecTimeout  time.Duration
	MaxBodyBytes int64
	CacheControl string
	FeatureFlags string
	ModuleExt    string
	CodeExec     string
	ModuleCache  int
}

// Register binds every App field to a flag on fs, with its default.
func Register(fs *flag.FlagSet, c *App) {
	// listeners
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "tenant traffic TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "ops TCP port, metrics and tenant status (1..65535)")
	fs.BoolVar(&c.EnableRateLimit, "enable-rate-limit", true, "rate limit each client IP per tenant host")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 50, "sustained requests per second per tenant host and client IP")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 100, "burst size per tenant host and client IP")

	// logs
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "lowest level logged with a stack: debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "log where each link of an error chain was created")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "error chain links logged (1..64)")

	// traces and profiles
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export traces to -otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "fraction of new traces sampled (0..1)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "serve pprof on the admin port")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push continuous profiles to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server URL")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "pyroscope tenant (X-Scope-OrgID)")

	// project
	fs.BoolVar(&c.UseLocalConfig, "use-local-config", true, "read the project from the local filesystem (true) or a remote host (false)")
	fs.StringVar(&c.LocalRoot, "local-root", ".", "local project root directory")
	fs.StringVar(&c.LocalConfig, "local-config", ".jsphere", "config repository under local-root")
	fs.StringVar(&c.RemoteHost, "remote-host", "", "remote project host provider (GitHub|S3)")
	fs.StringVar(&c.RemoteRoot, "remote-root", "", "remote project root (repository owner or bucket)")
	fs.StringVar(&c.RemoteAuth, "remote-auth", "", "remote host auth token")
	fs.StringVar(&c.RemoteAuthSSMParam, "remote-auth-ssm-param", "", "ssm parameter holding the remote host auth token")
	fs.StringVar(&c.RemoteConfig, "remote-config", "", "config repository on the remote host (repo[/ref])")
	fs.StringVar(&c.ServerFile, "server-file", "server.json", "runtime overrides file read from the config repository ('' disables)")
	fs.StringVar(&c.EnvFile, "env-file", ".env", "dotenv file loaded before env resolution ('' disables)")

	fs.StringVar(&c.Secret, "secret", "", "server secret for encrypt/decrypt utils")
	fs.StringVar(&c.SecretSSMParam, "secret-ssm-param", "", "ssm parameter holding the server secret")
	fs.StringVar(&c.SecretKMSBlob, "secret-kms-blob", "", "base64 KMS ciphertext of the server secret")
	fs.StringVar(&c.SecretKMSKeyID, "secret-kms-key-id", "", "KMS key id for secret-kms-blob (optional for symmetric keys)")

	fs.DurationVar(&c.HTTPTimeout, "http-timeout", 15*time.Second, "timeout for remote host fetches")
	fs.DurationVar(&c.InitWait, "init-wait", 5*time.Second, "how long a request waits on an initializing tenant before 503")
	fs.DurationVar(&c.InitTimeout, "init-timeout", 30*time.Second, "bound on one tenant initialization attempt")
	fs.DurationVar(&c.ExecTimeout, "exec-timeout", 30*time.Second, "bound on one server module call")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 10<<20, "request body limit in bytes")
	fs.StringVar(&c.CacheControl, "cache-control", "no-cache", "default cache-control for package items")
	fs.StringVar(&c.FeatureFlags, "feature-flags", "", "default feature flags (colon separated) when settings carry none")
	fs.StringVar(&c.ModuleExt, "module-ext", ".js", "extension appended to server module paths")
	fs.StringVar(&c.CodeExec, "code-exec", "inprocess", "module source for server code: inprocess|loopback")
	fs.IntVar(&c.ModuleCache, "module-cache", 512, "compiled module cache entries")
}

// EnvKey is the variable FillFromEnv reads for flag name.
func EnvKey(prefix, name string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(name), "-", "_")
}

// FillFromEnv sets flags not passed on the CLI from PREFIX_FLAG_NAME
// variables.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := setFlags(fs)
	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		switch {
		case !ok:
		case explicit[f.Name]:
			logTo(logf, "flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, val)
		default:
			setOrRestore(fs, f, key, val, logf)
		}
	})
}

// LegacyEnv maps the unprefixed variables of existing deployments to flags.
var LegacyEnv = map[string]string{
	"SERVER_HTTP_PORT": "http-port",
	"USE_LOCAL_CONFIG": "use-local-config",
	"LOCAL_ROOT":       "local-root",
	"LOCAL_CONFIG":     "local-config",
	"REMOTE_HOST":      "remote-host",
	"REMOTE_ROOT":      "remote-root",
	"REMOTE_AUTH":      "remote-auth",
	"REMOTE_CONFIG":    "remote-config",
}

// FillFromEnvAliases applies aliases (env key to flag name) to flags that
// nothing has set yet, so it runs after FillFromEnv. Keys are applied in
// sorted order.
func FillFromEnvAliases(fs *flag.FlagSet, aliases map[string]string, logf func(string, ...any)) {
	set := setFlags(fs)
	keys := make([]string, 0, len(aliases))
	for k := range aliases {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		name := aliases[key]
		val, ok := os.LookupEnv(key)
		if !ok || set[name] {
			continue
		}
		if f := fs.Lookup(name); f != nil {
			setOrRestore(fs, f, key, val, logf)
			set[name] = true
		}
	}
}

// setFlags lists the flags set so far, by the CLI or an earlier layer.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func logTo(logf func(string, ...any), format string, args ...any) {
	if logf != nil {
		logf(format, args...)
	}
}

// setOrRestore sets f from source, keeping the previous value if val does
// not parse.
func setOrRestore(fs *flag.FlagSet, f *flag.Flag, source, val string, logf func(string, ...any)) {
	prev := f.Value.String()
	if err := fs.Set(f.Name, val); err != nil {
		_ = fs.Set(f.Name, prev)
		logTo(logf, "flag -%s: ignoring invalid %s=%q: %v", f.Name, source, val, err)
	}
}

type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

// Validate reports every setting that is out of range or inconsistent with
// another, joined into one error.
func Validate(c App) error {
	var p problems
	c.validateListeners(&p)
	c.validateTelemetry(&p)
	c.validateProject(&p)
	c.validateRuntime(&p)
	return errors.Join(p...)
}

func validPort(n int) bool { return n >= 1 && n <= 65535 }

func (c App) validateListeners(p *problems) {
	if !validPort(c.HTTPPort) {
		p.addf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if !validPort(c.AdminPort) {
		p.addf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		p.addf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if c.EnableRateLimit && (c.RateLimitRPS <= 0 || c.RateLimitBurst < 1) {
		p.addf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when ENABLE_RATE_LIMIT=true")
	}
	if c.MaxBodyBytes < 1 {
		p.addf("invalid MAX_BODY_BYTES %d (must be positive)", c.MaxBodyBytes)
	}
}

func (c App) validateTelemetry(p *problems) {
	for name, lvl := range map[string]string{"LOG_LEVEL": c.LogLevel, "STACKTRACE_LEVEL": c.StacktraceLevel} {
		if lvl == "" && name == "STACKTRACE_LEVEL" {
			continue
		}
		if _, err := log.ParseLevel(lvl); err != nil {
			p.addf("invalid %s %q: %w", name, lvl, err)
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		p.addf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		p.addf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnableTracing {
		// the gRPC exporter dials host:port, no scheme
		if c.OTLPEndpoint == "" {
			p.addf("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			p.addf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}

	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			p.addf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			p.addf("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}
}

func (c App) validateProject(p *problems) {
	if c.UseLocalConfig {
		if c.LocalRoot == "" || c.LocalConfig == "" {
			p.addf("LOCAL_ROOT and LOCAL_CONFIG required when USE_LOCAL_CONFIG=true")
		}
		return
	}
	if c.RemoteHost == "" || c.RemoteRoot == "" || c.RemoteConfig == "" {
		p.addf("REMOTE_HOST, REMOTE_ROOT and REMOTE_CONFIG required when USE_LOCAL_CONFIG=false")
	}
}

func (c App) validateRuntime(p *problems) {
	if c.InitWait < 0 || c.InitTimeout <= 0 || c.ExecTimeout <= 0 || c.HTTPTimeout <= 0 {
		p.addf("INIT_TIMEOUT, EXEC_TIMEOUT and HTTP_TIMEOUT must be positive, INIT_WAIT not negative")
	}
	if c.ModuleExt != "" && !strings.HasPrefix(c.ModuleExt, ".") {
		p.addf("MODULE_EXT must start with a dot (got %q)", c.ModuleExt)
	}
	switch c.CodeExec {
	case "inprocess", "loopback":
	default:
		p.addf("invalid CODE_EXEC %q (must be inprocess|loopback)", c.CodeExec)
	}
}
