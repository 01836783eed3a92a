package route

import (
	"strings"

	"github.com/gorilla/mux"

	"github.com/jspheredev/jsphere-gateway/internal/appconfig"
	"github.com/jspheredev/jsphere-gateway/internal/pkgitem"
	"github.com/jspheredev/jsphere-gateway/internal/xerrors"
)

// Class tells the dispatcher how to serve a matched route.
type Class string

const (
	// ClassClient routes serve package items as static assets.
	ClassClient Class = "client"
	// ClassServer routes invoke a handler module.
	ClassServer Class = "server"
	// ClassNone paths point at neither folder. Mappings to them never match.
	ClassNone Class = ""
)

type entry struct {
	pattern *Pattern
	target  pkgitem.Path
	path    string
	method  string
	class   Class
}

// Table is an ordered, immutable set of compiled route mappings backed by
// one mux router. Mux tries routes in registration order, which keeps
// first-match-wins.
type Table struct {
	entries []entry
	router  *mux.Router
	byRoute map[*mux.Route]int
}

// Match is the result of a successful resolution.
type Match struct {
	Route        string
	InternalPath string
	Target       pkgitem.Path
	Class        Class
	// Params holds named and wildcard parameters for ClassServer, nil otherwise.
	Params map[string]string
}

// NewTable compiles mappings, keeping their order. Mappings whose path is
// neither a client nor a server path are kept for Len but never match, so
// resolution moves on to later mappings.
func NewTable(mappings []appconfig.RouteMapping) (*Table, error) {
	t := &Table{
		entries: make([]entry, 0, len(mappings)),
		router:  mux.NewRouter(),
		byRoute: map[*mux.Route]int{},
	}
	for i, m := range mappings {
		p, err := Compile(m.Route)
		if err != nil {
			return nil, xerrors.Wrapf(err, "routeMappings[%d]", i)
		}
		target, ok := pkgitem.ParsePath(m.Path)
		if !ok {
			return nil, xerrors.Newf("routeMappings[%d]: invalid path %q", i, m.Path)
		}
		t.entries = append(t.entries, entry{
			pattern: p,
			target:  target,
			path:    target.String(),
			method:  strings.ToUpper(m.Method),
			class:   Classify(target),
		})
		e := t.entries[len(t.entries)-1]
		if e.class == ClassNone {
			continue
		}
		for _, tpl := range p.Templates() {
			r := t.router.NewRoute().Path(tpl)
			if e.method != "" {
				r = r.Methods(e.method)
			}
			if err := r.GetError(); err != nil {
				return nil, xerrors.Wrapf(err, "routeMappings[%d]", i)
			}
			t.byRoute[r] = len(t.entries) - 1
		}
	}
	return t, nil
}

// Classify derives the class from the folder segment of p.
func Classify(p pkgitem.Path) Class {
	switch p.Folder() {
	case string(ClassClient):
		return ClassClient
	case string(ClassServer):
		return ClassServer
	default:
		return ClassNone
	}
}

// Len is the number of mappings.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Resolve returns the first mapping whose pattern matches urlPath and whose
// method constraint, if any, equals method.
func (t *Table) Resolve(method, urlPath string) (*Match, bool) {
	if t == nil || t.router == nil {
		return nil, false
	}
	var rm mux.RouteMatch
	if !t.router.Match(matchRequest(strings.ToUpper(method), urlPath), &rm) || rm.Route == nil {
		return nil, false
	}
	i, ok := t.byRoute[rm.Route]
	if !ok {
		return nil, false
	}
	e := t.entries[i]
	m := &Match{
		Route:        e.pattern.String(),
		InternalPath: e.path,
		Target:       e.target,
		Class:        e.class,
	}
	if e.class == ClassServer {
		m.Params = rm.Vars
	}
	return m, true
}

// Direct treats an unmapped URL path as an internal path, so
// /web/client/app.js is served without a mapping. Parameters are never
// extracted.
func Direct(urlPath string) (*Match, bool) {
	p, ok := pkgitem.ParsePath(urlPath)
	if !ok {
		return nil, false
	}
	c := Classify(p)
	if c == ClassNone {
		return nil, false
	}
	return &Match{InternalPath: p.String(), Target: p, Class: c}, true
}
