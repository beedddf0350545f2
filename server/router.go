package server

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// routeConfig carries per-route middleware switches. Auth gates the route
// behind the admin bearer token when one is configured.
type routeConfig struct {
	Auth bool
}

type route struct {
	method     string
	pattern    string
	handler    fasthttp.RequestHandler
	config     *routeConfig
	segments   []string
	paramNames []string
}

// Router resolves a method+path pair to a handler. Static routes are a map
// lookup; routes with {param} segments fall back to a segment walk.
type Router struct {
	static  map[string]*route
	dynamic []*route
}

func NewRouter() *Router {
	return &Router{
		static: make(map[string]*route),
	}
}

func (r *Router) GET(path string, handler fasthttp.RequestHandler, config *routeConfig) {
	r.add("GET", path, handler, config)
}

func (r *Router) POST(path string, handler fasthttp.RequestHandler, config *routeConfig) {
	r.add("POST", path, handler, config)
}

func (r *Router) PUT(path string, handler fasthttp.RequestHandler, config *routeConfig) {
	r.add("PUT", path, handler, config)
}

func (r *Router) DELETE(path string, handler fasthttp.RequestHandler, config *routeConfig) {
	r.add("DELETE", path, handler, config)
}

func (r *Router) add(method, path string, handler fasthttp.RequestHandler, config *routeConfig) {
	if config == nil {
		config = &routeConfig{}
	}

	rt := &route{
		method:  method,
		pattern: path,
		handler: handler,
		config:  config,
	}

	if !strings.Contains(path, "{") {
		r.static[method+":"+normalizePath(path)] = rt
		return
	}

	rt.segments = parsePathSegments(path)
	for _, seg := range rt.segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			rt.paramNames = append(rt.paramNames, seg[1:len(seg)-1])
		}
	}
	r.dynamic = append(r.dynamic, rt)
}

func (r *Router) lookup(method, path string) (*route, map[string]string) {
	path = normalizePath(path)

	if rt, exists := r.static[method+":"+path]; exists {
		return rt, nil
	}

	pathSegments := parsePathSegments(path)
	for _, rt := range r.dynamic {
		if rt.method != method {
			continue
		}
		if params := matchSegments(pathSegments, rt); params != nil {
			return rt, params
		}
	}

	return nil, nil
}

func matchSegments(pathSegments []string, rt *route) map[string]string {
	if len(pathSegments) != len(rt.segments) {
		return nil
	}

	params := make(map[string]string, len(rt.paramNames))
	paramIdx := 0

	for i, routeSegment := range rt.segments {
		if strings.HasPrefix(routeSegment, "{") {
			if paramIdx < len(rt.paramNames) {
				params[rt.paramNames[paramIdx]] = pathSegments[i]
				paramIdx++
			}
		} else if routeSegment != pathSegments[i] {
			return nil
		}
	}

	return params
}

func parsePathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{}
	}
	return strings.Split(path, "/")
}

func normalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return strings.TrimRight(path, "/")
	}
	return path
}
