package cfg

import (
	"errors"
	"flag"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, xerrors.Wrapf(err, "load env file %s", path)
	}
	return true, nil
}

// ServerFile holds the runtime overrides read from the project's server.json.
// Durations are Go duration strings ("5s").
type ServerFile struct {
	HTTPTimeout  time.Duration `yaml:"httpTimeout"`
	InitWait     time.Duration `yaml:"initWait"`
	ExecTimeout  time.Duration `yaml:"execTimeout"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
	CacheControl string        `yaml:"cacheControl"`
	FeatureFlags string        `yaml:"featureFlags"`
}

// ParseServerFile decodes server.json. JSON is a YAML subset, so one decoder
// serves both. Unknown keys are ignored.
func ParseServerFile(data []byte) (ServerFile, error) {
	var sf ServerFile
	if len(data) == 0 {
		return sf, nil
	}
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return ServerFile{}, xerrors.Wrap(err, "decode server file")
	}
	return sf, nil
}

// Apply sets the flags named by non-zero fields of s, unless the CLI or env
// already set them. It returns the names of the flags it changed.
// Precedence: cli flag > env var > server file > default.
func (s ServerFile) Apply(fset *flag.FlagSet, logf func(string, ...any)) []string {
	set := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })

	vals := []struct {
		name string
		val  string
		zero bool
	}{
		{"http-timeout", s.HTTPTimeout.String(), s.HTTPTimeout == 0},
		{"init-wait", s.InitWait.String(), s.InitWait == 0},
		{"exec-timeout", s.ExecTimeout.String(), s.ExecTimeout == 0},
		{"max-body-bytes", strconv.FormatInt(s.MaxBodyBytes, 10), s.MaxBodyBytes == 0},
		{"cache-control", s.CacheControl, s.CacheControl == ""},
		{"feature-flags", s.FeatureFlags, s.FeatureFlags == ""},
	}

	var applied []string
	for _, v := range vals {
		if v.zero {
			continue
		}
		if set[v.name] {
			if logf != nil {
				logf("flag -%s: configured value overrides server file", v.name)
			}
			continue
		}
		f := fset.Lookup(v.name)
		if f == nil {
			continue
		}
		setOrRestore(fset, f, "server file "+v.name, v.val, logf)
		applied = append(applied, v.name)
	}
	return applied
}
