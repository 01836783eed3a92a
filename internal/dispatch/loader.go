package dispatch

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/codeexec"
	"github.com/jspheredev/jsphere-gateway/internal/httpmw"
	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/tenant"
)

// LoaderParam carries the "<host>:<generation>" token on loader requests.
const LoaderParam = "eTag"

// loader serves package items to a code execution provider running on the
// same host. Requests must come from and be addressed to a loopback address
// and name a tenant generation that is still current.
type loader struct {
	reg      *tenant.Registry
	resolver *pkgitem.Resolver
}

func (l *loader) Name() string { return "loader" }

func (l *loader) Handle(ctx context.Context, req *Request) (*Response, bool) {
	if req.Method != http.MethodGet || !isLoopbackHost(req.Host) || !httpmw.LoopbackPeer(req.HTTP) {
		return nil, false
	}
	token := req.HTTP.URL.Query().Get(LoaderParam)
	if token == "" {
		return notFound(), true
	}
	host, gen, ok := codeexec.ParseToken(token)
	if !ok {
		return notFound(), true
	}
	t, ok := l.reg.Get(host)
	if !ok || t.Generation() != gen {
		return notFound(), true
	}
	it, ok := l.resolver.Resolve(ctx, t, req.Path)
	if !ok {
		return notFound(), true
	}

	body := it.Content
	if isScript(it.Path) {
		body = PinImports(body, token)
	}
	resp := &Response{Status: http.StatusOK, Header: http.Header{}, Body: body}
	if it.ContentType != "" {
		resp.Header.Set("Content-Type", it.ContentType)
	}
	return resp, true
}

func isScript(p string) bool {
	for _, ext := range []string{".js", ".mjs", ".cjs", ".ts"} {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// static import/export, dynamic import() and require() with a literal
// script path
var importSpec = regexp.MustCompile(
	`((?:\b(?:import|export)\s+[\w\s{},*$]*?\bfrom\s*)|(?:\bimport\s*\(\s*)|(?:\brequire\s*\(\s*))(["'])([\w./\-]+\.(?:[cm]?js|ts))(["'])`,
)

// PinImports appends ?eTag=token to the script specifiers in src so the
// modules they name are fetched for the same tenant generation.
func PinImports(src []byte, token string) []byte {
	repl := "${1}${2}${3}?" + LoaderParam + "=" + strings.ReplaceAll(token, "$", "$$") + "${4}"
	return importSpec.ReplaceAll(src, []byte(repl))
}
