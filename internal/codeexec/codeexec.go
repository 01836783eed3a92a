// Package codeexec is the boundary between the dispatch chain and whatever
// runs tenant handler code. The dispatcher loads a module by tenant,
// generation and path, asks whether it exports a request method, and calls
// it with an apictx.Context. Nothing here assumes a particular runtime.
package codeexec

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/apictx"
)

var (
	// ErrModuleNotFound means the module source could not be resolved.
	// The dispatcher answers 404.
	ErrModuleNotFound = errors.New("module not found")
)

// ModuleRef pins a module to one tenant generation. Every module the entry
// module loads in turn is resolved under the same Host and Generation.
type ModuleRef struct {
	Host       string
	Generation int64
	// Path is the internal package path, e.g. /api/server/users.
	Path string
}

// Token is the "<host>:<generation>" form carried by loader requests.
func (r ModuleRef) Token() string {
	return r.Host + ":" + strconv.FormatInt(r.Generation, 10)
}

// ParseToken reverses Token.
func ParseToken(tok string) (host string, gen int64, ok bool) {
	i := strings.LastIndexByte(tok, ':')
	if i <= 0 {
		return "", 0, false
	}
	gen, err := strconv.ParseInt(tok[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return tok[:i], gen, true
}

// Provider loads handler modules.
type Provider interface {
	Load(ctx context.Context, ref ModuleRef) (Module, error)
}

// Module is a loaded handler module. It serves a single request.
type Module interface {
	// Has reports whether the module exports a function named method.
	Has(method string) bool
	// Call runs the export. A nil response means the handler returned nothing.
	Call(ctx context.Context, method string, c *apictx.Context) (*apictx.Response, error)
}

// Source reads module source for a provider. path is absolute within the
// tenant's packages and includes the file extension.
type Source interface {
	ReadModule(ctx context.Context, ref ModuleRef, path string) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, ref ModuleRef, path string) ([]byte, error)

func (f SourceFunc) ReadModule(ctx context.Context, ref ModuleRef, path string) ([]byte, error) {
	return f(ctx, ref, path)
}

// Thrown is an exception raised by tenant code, as opposed to a failure of
// the runtime around it.
type Thrown struct {
	// Type is the exception's name, "error" when it has none.
	Type    string
	Message string
}

func (e *Thrown) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}
