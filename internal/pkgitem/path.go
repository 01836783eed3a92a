package pkgitem

import (
	"strings"

	"github.com/jspheredev/jsphere-gateway/internal/pathutil"
)

// Path is a request path split into its package and the file path inside it.
//
//	/web/client/index.html?x=1  ->  {Package: "web", SubPath: "/client/index.html"}
type Path struct {
	Package string
	// SubPath starts with "/" and carries no query.
	SubPath string
}

// Folder is the first segment of SubPath ("client", "server", ...).
func (p Path) Folder() string {
	rest := strings.TrimPrefix(p.SubPath, "/")
	folder, _, _ := strings.Cut(rest, "/")
	return folder
}

// String reassembles the request path without a query.
func (p Path) String() string {
	return "/" + p.Package + p.SubPath
}

// ParsePath splits p. It tolerates a missing leading slash and drops any
// query or fragment. ok is false when no package segment is present, the
// path names only a package, or it could escape the package directory.
func ParsePath(p string) (Path, bool) {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimPrefix(p, "/")
	pkg, rest, found := strings.Cut(p, "/")
	if pkg == "" || !found || rest == "" {
		return Path{}, false
	}
	if pathutil.Escapes(rest) {
		return Path{}, false
	}
	return Path{Package: pkg, SubPath: "/" + rest}, true
}
