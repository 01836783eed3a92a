package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// parse registers App on a fresh FlagSet and parses args.
func parse(t *testing.T, args ...string) (*flag.FlagSet, *App) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := &App{}
	Register(fs, c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return fs, c
}

func collect(msgs *[]string) func(string, ...any) {
	return func(format string, args ...any) { *msgs = append(*msgs, fmt.Sprintf(format, args...)) }
}

func TestRegister_Defaults(t *testing.T) {
	_, c := parse(t)

	// a local project with nothing else set must start
	if err := Validate(*c); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	tests := []struct {
		name      string
		got, want any
	}{
		{"http-port", c.HTTPPort, 8080},
		{"admin-port", c.AdminPort, 9000},
		{"use-local-config", c.UseLocalConfig, true},
		{"local-config", c.LocalConfig, ".jsphere"},
		{"server-file", c.ServerFile, "server.json"},
		{"init-wait", c.InitWait, 5 * time.Second},
		{"exec-timeout", c.ExecTimeout, 30 * time.Second},
		{"module-ext", c.ModuleExt, ".js"},
		{"code-exec", c.CodeExec, "inprocess"},
		{"cache-control", c.CacheControl, "no-cache"},
		{"enable-rate-limit", c.EnableRateLimit, true},
		{"enable-tracing", c.EnableTracing, false},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("-%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestEnvKey(t *testing.T) {
	if got := EnvKey("JSPHERE_", "remote-auth-ssm-param"); got != "JSPHERE_REMOTE_AUTH_SSM_PARAM" {
		t.Fatalf("EnvKey = %q", got)
	}
}

func TestFillFromEnv(t *testing.T) {
	const pfx = "TESTCFG_"
	t.Setenv(pfx+"REMOTE_HOST", "S3")
	t.Setenv(pfx+"INIT_WAIT", "250ms")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"ADMIN_PORT", "not-a-number")

	fs, c := parse(t, "-http-port=9090")
	var msgs []string
	FillFromEnv(fs, pfx, collect(&msgs))

	if c.RemoteHost != "S3" || c.InitWait != 250*time.Millisecond || c.TraceSample != 0.25 {
		t.Errorf("env not applied: host=%q wait=%v sample=%v", c.RemoteHost, c.InitWait, c.TraceSample)
	}
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want cli 9090", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort = %d, want default after invalid env", c.AdminPort)
	}

	joined := strings.Join(msgs, "\n")
	for _, want := range []string{"overrides env TESTCFG_HTTP_PORT", "ignoring invalid TESTCFG_ADMIN_PORT"} {
		if !strings.Contains(joined, want) {
			t.Errorf("messages %q missing %q", msgs, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "telemetry enabled",
			args: []string{
				"-enable-pyroscope", "-pyro-server=https://pyro:4040", "-pyro-tenant=ops",
				"-enable-tracing", "-otlp-endpoint=otel:4317", "-trace-sample=0.2",
			},
		},
		{
			name: "remote project",
			args: []string{"-use-local-config=false", "-remote-host=GitHub", "-remote-root=acme", "-remote-config=config/main"},
		},
		{
			name: "listeners",
			args: []string{"-http-port=0", "-admin-port=70000", "-rate-limit-burst=0", "-max-body-bytes=0"},
			want: []string{"invalid HTTP_PORT", "invalid ADMIN_PORT", "RATE_LIMIT_RPS and RATE_LIMIT_BURST", "invalid MAX_BODY_BYTES"},
		},
		{
			name: "same port",
			args: []string{"-http-port=9000"},
			want: []string{"must differ"},
		},
		{
			name: "telemetry",
			args: []string{
				"-log-level=nope", "-stacktrace-level=alsonope", "-max-error-links=0", "-trace-sample=2",
				"-enable-pyroscope", "-pyro-server=not-a-url", "-enable-tracing", "-otlp-endpoint=otel",
			},
			want: []string{
				"invalid LOG_LEVEL", "invalid STACKTRACE_LEVEL", "MAX_ERROR_LINKS", "invalid TRACE_SAMPLE",
				"PYRO_SERVER must be a URL", "PYRO_TENANT required", "OTLP_ENDPOINT must be host:port",
			},
		},
		{
			name: "remote project incomplete",
			args: []string{"-use-local-config=false", "-remote-host=GitHub"},
			want: []string{"REMOTE_HOST, REMOTE_ROOT and REMOTE_CONFIG required"},
		},
		{
			name: "runtime",
			args: []string{"-exec-timeout=0s", "-module-ext=js", "-code-exec=wasm"},
			want: []string{"EXEC_TIMEOUT", "MODULE_EXT must start with a dot", "invalid CODE_EXEC"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := parse(t, tt.args...)
			err := Validate(*c)
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate: expected errors")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestFillFromEnvAliases(t *testing.T) {
	t.Setenv("TESTCFG4_LOCAL_ROOT", "/srv/prefixed")
	t.Setenv("LOCAL_ROOT", "/srv/legacy")
	t.Setenv("SERVER_HTTP_PORT", "8181")
	t.Setenv("REMOTE_HOST", "S3")
	t.Setenv("USE_LOCAL_CONFIG", "maybe")

	fs, c := parse(t, "-remote-host=GitHub")

	var logMessages []string
	logf := collect(&logMessages)
	FillFromEnv(fs, "TESTCFG4_", logf)
	FillFromEnvAliases(fs, LegacyEnv, logf)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"prefixed env beats alias", c.LocalRoot, "/srv/prefixed"},
		{"alias fills unset flag", c.HTTPPort, 8181},
		{"cli beats alias", c.RemoteHost, "GitHub"},
		{"invalid alias keeps default", c.UseLocalConfig, true},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if len(logMessages) != 1 || !strings.Contains(logMessages[0], "USE_LOCAL_CONFIG") {
		t.Errorf("log messages = %v, want one for USE_LOCAL_CONFIG", logMessages)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TESTCFG5_A=fromfile\nTESTCFG5_B=fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TESTCFG5_B", "fromenv")
	t.Cleanup(func() { os.Unsetenv("TESTCFG5_A") })

	loaded, err := LoadDotEnv(path)
	if err != nil || !loaded {
		t.Fatalf("LoadDotEnv = %v, %v", loaded, err)
	}
	if got := os.Getenv("TESTCFG5_A"); got != "fromfile" {
		t.Errorf("A = %q, want fromfile", got)
	}
	if got := os.Getenv("TESTCFG5_B"); got != "fromenv" {
		t.Errorf("B = %q, want existing env to win", got)
	}

	loaded, err = LoadDotEnv(filepath.Join(dir, "missing.env"))
	if err != nil || loaded {
		t.Fatalf("missing file: LoadDotEnv = %v, %v, want false, nil", loaded, err)
	}
	if loaded, _ := LoadDotEnv(""); loaded {
		t.Fatal("empty path should be a no-op")
	}
}

func TestServerFile_ParseAndApply(t *testing.T) {
	sf, err := ParseServerFile([]byte(`{"initWait": "1s", "execTimeout": "10s", "maxBodyBytes": 2048, "featureFlags": "beta", "unknown": true}`))
	if err != nil {
		t.Fatalf("ParseServerFile: %v", err)
	}
	if sf.InitWait != time.Second || sf.ExecTimeout != 10*time.Second || sf.MaxBodyBytes != 2048 {
		t.Fatalf("parsed = %+v", sf)
	}

	fs, c := parse(t, "-exec-timeout=5s")

	applied := sf.Apply(fs, nil)

	if got := strings.Join(applied, ","); got != "init-wait,max-body-bytes,feature-flags" {
		t.Errorf("applied = %s", got)
	}
	if c.InitWait != time.Second {
		t.Errorf("InitWait = %v, want 1s", c.InitWait)
	}
	if c.ExecTimeout != 5*time.Second {
		t.Errorf("ExecTimeout = %v, want cli 5s", c.ExecTimeout)
	}
	if c.MaxBodyBytes != 2048 || c.FeatureFlags != "beta" {
		t.Errorf("MaxBodyBytes = %d FeatureFlags = %q", c.MaxBodyBytes, c.FeatureFlags)
	}
	if c.CacheControl != "no-cache" {
		t.Errorf("CacheControl = %q, want default", c.CacheControl)
	}
}

func TestParseServerFile_Invalid(t *testing.T) {
	if _, err := ParseServerFile([]byte(`{"initWait": "soon"}`)); err == nil {
		t.Fatal("expected error for bad duration")
	}
	sf, err := ParseServerFile(nil)
	if err != nil || sf != (ServerFile{}) {
		t.Fatalf("empty = %+v, %v", sf, err)
	}
}
