// Package route matches request paths against an application's declared
// route patterns.
//
// Patterns follow the pathname subset of URLPattern that applications use:
//
//	/products            literal
//	/products/:id        named segment, one path segment
//	/products/:id?       optional named segment
//	/assets/*            wildcard, the rest of the path (parameter "0", "1", ...)
//
// Patterns are translated to gorilla/mux path templates. Optional and
// wildcard segments expand to one template with the segment and one
// without it. Mappings are tried in declaration order and the first match
// wins.
package route

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

var paramName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)

// maxOptional bounds the number of optional or wildcard segments, each of
// which doubles the templates a pattern registers.
const maxOptional = 6

// Pattern is a compiled route pattern.
type Pattern struct {
	raw       string
	templates []string
	router    *mux.Router
}

// Compile parses a route pattern.
func Compile(pattern string) (*Pattern, error) {
	templates, err := templatesFor(pattern)
	if err != nil {
		return nil, err
	}
	r := mux.NewRouter()
	for _, tpl := range templates {
		if err := r.NewRoute().Path(tpl).GetError(); err != nil {
			return nil, xerrors.Wrapf(err, "route pattern %q", pattern)
		}
	}
	return &Pattern{raw: pattern, templates: templates, router: r}, nil
}

// templatesFor translates pattern into mux path templates, the variant
// with every optional segment present first.
func templatesFor(pattern string) ([]string, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, xerrors.Newf("route pattern %q must start with /", pattern)
	}

	var (
		names    = map[string]bool{}
		wildcard int
		optional int
	)
	variants := []string{""}
	extend := func(seg string) {
		for i := range variants {
			variants[i] += "/" + seg
		}
	}
	branch := func(seg string) {
		next := make([]string, 0, 2*len(variants))
		for _, v := range variants {
			next = append(next, v+"/"+seg)
		}
		variants = append(next, variants...)
		optional++
	}

	for _, seg := range strings.Split(pattern[1:], "/") {
		switch {
		case strings.HasPrefix(seg, ":"):
			name := paramName.FindString(seg[1:])
			if name == "" {
				return nil, xerrors.Newf("route pattern %q: invalid parameter %q", pattern, seg)
			}
			if names[name] {
				return nil, xerrors.Newf("route pattern %q: duplicate parameter %q", pattern, name)
			}
			names[name] = true
			switch mod := seg[1+len(name):]; mod {
			case "":
				extend("{" + name + "}")
			case "?":
				branch("{" + name + "}")
			default:
				return nil, xerrors.Newf("route pattern %q: unsupported modifier %q", pattern, mod)
			}
		case seg == "*":
			branch("{" + strconv.Itoa(wildcard) + ":.*}")
			wildcard++
		default:
			if strings.ContainsAny(seg, ":*") {
				return nil, xerrors.Newf("route pattern %q: parameters must span a whole segment", pattern)
			}
			if strings.ContainsAny(seg, "{}") {
				return nil, xerrors.Newf("route pattern %q: braces are not allowed in %q", pattern, seg)
			}
			extend(seg)
		}
		if optional > maxOptional {
			return nil, xerrors.Newf("route pattern %q: more than %d optional segments", pattern, maxOptional)
		}
	}

	for i, v := range variants {
		if v == "" {
			variants[i] = "/"
		}
	}
	return variants, nil
}

func (p *Pattern) String() string { return p.raw }

// Templates are the mux path templates the pattern registers, in order.
func (p *Pattern) Templates() []string { return p.templates }

// Match reports whether urlPath matches and returns its decoded parameters.
// Absent optional parameters are omitted from the map.
func (p *Pattern) Match(urlPath string) (map[string]string, bool) {
	var m mux.RouteMatch
	if !p.router.Match(matchRequest("", urlPath), &m) {
		return nil, false
	}
	return m.Vars, true
}

// matchRequest builds the minimal request mux needs to match a path. mux
// matches the decoded path, so parameters come back decoded.
func matchRequest(method, urlPath string) *http.Request {
	u := &url.URL{Path: urlPath}
	if dec, err := url.PathUnescape(urlPath); err == nil && dec != urlPath {
		u.Path, u.RawPath = dec, urlPath
	}
	if method == "" {
		method = http.MethodGet
	}
	return &http.Request{Method: method, URL: u, Header: http.Header{}}
}
