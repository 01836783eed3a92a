package provider

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// DefaultRef is used when neither the path nor the provider config names a revision.
const DefaultRef = "main"

var (
	// ErrNotFound is matched by every error a Provider returns.
	ErrNotFound = errors.New("provider: not found")

	// ErrUnsupported is returned by Registry.New for an unknown provider name.
	ErrUnsupported = errors.New("provider: unsupported host")
)

// File is one fetched file.
type File struct {
	Name    string
	Content []byte
	// SHA is a provider-supplied content hash usable as an ETag, empty
	// when the backend does not supply one.
	SHA string
}

type Provider interface {
	// Name is the host name the provider was registered under.
	Name() string
	// GetFile fetches path (optionally suffixed with ?ref=) from package pkg.
	GetFile(ctx context.Context, path, pkg string) (*File, error)
	// GetConfigFile fetches path from the provider's config location.
	GetConfigFile(ctx context.Context, path string) ([]byte, error)
}

// Config is the "host" block of an application configuration, or the
// project host built from server flags.
type Config struct {
	Name string `json:"name"`
	Root string `json:"root"`
	Auth string `json:"auth,omitempty"`
	// Repo locates configuration files as "repo" or "repo/ref".
	Repo string `json:"repo,omitempty"`
}

// ConfigRepo splits Repo into its repository and revision.
func (c Config) ConfigRepo() (repo, ref string) {
	repo, ref, _ = strings.Cut(c.Repo, "/")
	if ref == "" {
		ref = DefaultRef
	}
	return repo, ref
}

// SplitRef separates a "?ref=" revision suffix from path. ref is empty when
// the path carries none.
func SplitRef(p string) (clean, ref string) {
	clean, rawQuery, found := strings.Cut(p, "?")
	if !found {
		return p, ""
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return clean, ""
	}
	return clean, q.Get("ref")
}

// WithRef appends a revision suffix to path.
func WithRef(p, ref string) string {
	if ref == "" {
		return p
	}
	return p + "?ref=" + url.QueryEscape(ref)
}

type notFoundError struct {
	op    string
	path  string
	cause error
}

func (e *notFoundError) Error() string {
	if e.cause == nil {
		return e.op + " " + e.path + ": not found"
	}
	return e.op + " " + e.path + ": " + e.cause.Error()
}

func (e *notFoundError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrNotFound}
	}
	return []error{ErrNotFound, e.cause}
}

// notFound classifies any failure as ErrNotFound while keeping its cause.
func notFound(op, path string, cause error) error {
	return &notFoundError{op: op, path: path, cause: cause}
}

// Factory constructs a provider bound to one host configuration.
type Factory func(Config) (Provider, error)

// Registry maps host names, as written in application configs, to factories.
// New providers are added by registering a factory, not by branching on names.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// New builds the provider named by cfg.Name.
func (r *Registry) New(cfg Config) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, &unsupportedError{name: cfg.Name}
	}
	return f(cfg)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type unsupportedError struct{ name string }

func (e *unsupportedError) Error() string   { return "unsupported host provider " + `"` + e.name + `"` }
func (e *unsupportedError) Is(t error) bool { return t == ErrUnsupported }
