package httpserver

import (
	"fmt"
	"regexp"

	"cloudcutter/internal/cctrerr"
)

// Handler processes a matched request. A nil result with a nil error
// declines the request: Dispatch moves on to the next matching route,
// and when every matching handler declines the server answers 404. A
// returned error is logged and produces a 500, wrapped in
// cctrerr.ErrHandlerFailure by Dispatch.
type Handler func(r *Request) (any, error)

// Route is one dispatch table entry (spec §4.5): a request matches when
// method/path/host regexes match and every required query/header key is
// present with a value matching its regex.
type Route struct {
	MethodPattern   string
	PathPattern     string
	HostPattern     string
	RequiredQuery   map[string]string
	RequiredHeaders map[string]string
	Handler         Handler

	methodRe  *regexp.Regexp
	pathRe    *regexp.Regexp
	hostRe    *regexp.Regexp
	queryRe   map[string]*regexp.Regexp
	headerRe  map[string]*regexp.Regexp
}

func (rt *Route) compile() error {
	var err error
	if rt.methodRe, err = regexp.Compile(rt.MethodPattern); err != nil {
		return fmt.Errorf("method_pattern %q: %w", rt.MethodPattern, err)
	}
	if rt.pathRe, err = regexp.Compile(rt.PathPattern); err != nil {
		return fmt.Errorf("path_pattern %q: %w", rt.PathPattern, err)
	}
	if rt.HostPattern != "" {
		if rt.hostRe, err = regexp.Compile(rt.HostPattern); err != nil {
			return fmt.Errorf("host_pattern %q: %w", rt.HostPattern, err)
		}
	}
	rt.queryRe = make(map[string]*regexp.Regexp, len(rt.RequiredQuery))
	for k, pat := range rt.RequiredQuery {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fmt.Errorf("required_query[%s] %q: %w", k, pat, err)
		}
		rt.queryRe[k] = re
	}
	rt.headerRe = make(map[string]*regexp.Regexp, len(rt.RequiredHeaders))
	for k, pat := range rt.RequiredHeaders {
		re, err := regexp.Compile(pat)
		if err != nil {
			return fmt.Errorf("required_header[%s] %q: %w", k, pat, err)
		}
		rt.headerRe[k] = re
	}
	return nil
}

func (rt *Route) matches(r *Request) bool {
	if !rt.methodRe.MatchString(r.Method) || !rt.pathRe.MatchString(r.Path) {
		return false
	}
	if rt.hostRe != nil && !rt.hostRe.MatchString(r.Host) {
		return false
	}
	for k, re := range rt.queryRe {
		v, ok := r.Query[k]
		if !ok || !re.MatchString(v) {
			return false
		}
	}
	for k, re := range rt.headerRe {
		v, ok := r.Headers[k]
		if !ok || !re.MatchString(v) {
			return false
		}
	}
	return true
}

// Router holds the ordered route table shared by the plaintext, TLS, and
// PSK listeners.
type Router struct {
	routes []*Route
}

// NewRouter returns an empty Router.
func NewRouter() *Router { return &Router{} }

// Handle registers a route. Compiles its patterns immediately; returns
// cctrerr.ErrConfiguration if any pattern fails to compile.
func (router *Router) Handle(rt Route) error {
	if err := rt.compile(); err != nil {
		return fmt.Errorf("%w: %v", cctrerr.ErrConfiguration, err)
	}
	router.routes = append(router.routes, &rt)
	return nil
}

// Dispatch tries routes in registration order; the first whose handler
// returns a non-nil result (or an error) wins. If every matching handler
// declines (nil, nil), or nothing matches, Dispatch reports a 404.
func (router *Router) Dispatch(r *Request) (any, error, bool) {
	for _, rt := range router.routes {
		if !rt.matches(r) {
			continue
		}
		result, err := rt.Handler(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", cctrerr.ErrHandlerFailure, err), true
		}
		if result != nil {
			return result, nil, true
		}
	}
	return nil, nil, false
}
