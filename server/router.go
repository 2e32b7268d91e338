package server

import (
	"sort"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-fx/types"
	"github.com/saiset-co/sai-fx/utils"
)

var methodNames = [...]string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "TRACE"}

var methodIndex = map[string]uint8{
	"GET":     0,
	"POST":    1,
	"PUT":     2,
	"DELETE":  3,
	"PATCH":   4,
	"HEAD":    5,
	"OPTIONS": 6,
	"TRACE":   7,
}

var _ types.HTTPRouter = (*Router)(nil)

type routeNode struct {
	staticChildren map[string]*routeNode
	paramChild     *routeNode
	paramName      string
	wildcardChild  *routeNode
	methodMask     uint8
	handlers       [8]types.FastHTTPHandler
	configs        [8]*types.RouteConfig
}

func newRouteNode() *routeNode {
	return &routeNode{staticChildren: make(map[string]*routeNode)}
}

// Router matches request paths against static segments, ":name" (or
// "{name}") parameters and a trailing "*name" catch-all. Matched parameters
// are stored as request user values.
type Router struct {
	middlewares types.MiddlewareManager
	mu          sync.RWMutex
	root        *routeNode
	routes      map[string]*types.RouteInfo
}

func NewRouter(middlewares types.MiddlewareManager) *Router {
	return &Router{
		middlewares: middlewares,
		root:        newRouteNode(),
		routes:      make(map[string]*types.RouteInfo),
	}
}

func (r *Router) Add(method, path string, handler types.FastHTTPHandler, config *types.RouteConfig) {
	method = strings.ToUpper(method)
	idx, ok := methodIndex[method]
	if !ok || handler == nil {
		return
	}
	if config == nil {
		config = &types.RouteConfig{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	node := r.root
segments:
	for _, segment := range splitPath(path) {
		switch {
		case segment[0] == '*':
			// a catch-all ends the pattern
			if node.wildcardChild == nil {
				node.wildcardChild = newRouteNode()
				node.wildcardChild.paramName = segment[1:]
				if node.wildcardChild.paramName == "" {
					node.wildcardChild.paramName = "filepath"
				}
			}
			node = node.wildcardChild
			break segments
		case segment[0] == ':' || (segment[0] == '{' && segment[len(segment)-1] == '}'):
			if node.paramChild == nil {
				node.paramChild = newRouteNode()
				node.paramChild.paramName = strings.Trim(segment, ":{}")
			}
			node = node.paramChild
		default:
			child, exists := node.staticChildren[segment]
			if !exists {
				child = newRouteNode()
				node.staticChildren[segment] = child
			}
			node = child
		}
	}

	node.handlers[idx] = handler
	node.configs[idx] = config
	node.methodMask |= 1 << idx

	r.routes[method+":"+path] = &types.RouteInfo{Method: method, Path: path, Handler: handler, Config: config}
}

func (r *Router) Route(method, path string, handler types.FastHTTPHandler) types.RouteBuilder {
	config := &types.RouteConfig{}
	r.Add(method, path, handler, config)
	return &RouteBuilder{config: config}
}

func (r *Router) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("GET", path, handler)
}

func (r *Router) POST(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("POST", path, handler)
}

func (r *Router) PUT(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("PUT", path, handler)
}

func (r *Router) DELETE(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("DELETE", path, handler)
}

func (r *Router) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{router: r, prefix: strings.TrimSuffix(prefix, "/"), config: &types.RouteConfig{}}
}

func (r *Router) GetAllRoutes() map[string]*types.RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]*types.RouteInfo, len(r.routes))
	for key, info := range r.routes {
		routes[key] = info
	}
	return routes
}

// Patterns lists registered "METHOD:path" keys in order.
func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.routes))
	for key := range r.routes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Handler dispatches through the middleware manager: 404 when no pattern
// matches the path, 405 when the path matches under other methods.
func (r *Router) Handler() types.FastHTTPHandler {
	return func(ctx *fasthttp.RequestCtx) {
		method := string(ctx.Method())

		r.mu.RLock()
		node, params := r.match(utils.BytesToString(ctx.Path()))
		r.mu.RUnlock()

		if node == nil || node.methodMask == 0 {
			utils.WriteError(ctx, fasthttp.StatusNotFound, "Not found")
			return
		}

		idx, ok := methodIndex[method]
		if ok && node.methodMask&(1<<idx) == 0 && method == "HEAD" {
			idx = methodIndex["GET"]
		}
		if !ok || node.methodMask&(1<<idx) == 0 {
			ctx.Response.Header.Set("Allow", allowed(node.methodMask))
			utils.WriteError(ctx, fasthttp.StatusMethodNotAllowed, types.ErrMethodNotAllowed.Error())
			return
		}

		for name, value := range params {
			ctx.SetUserValue(name, value)
		}

		handler, config := node.handlers[idx], node.configs[idx]
		if config.Timeout > 0 {
			handler = types.FastHTTPHandler(fasthttp.TimeoutHandler(fasthttp.RequestHandler(handler), config.Timeout, "Request timeout"))
		}

		if r.middlewares == nil {
			handler(ctx)
			return
		}
		r.middlewares.Execute(ctx, handler, config)
	}
}

func (r *Router) match(path string) (*routeNode, map[string]string) {
	params := make(map[string]string)
	node := r.matchNode(r.root, splitPath(path), params)
	return node, params
}

func (r *Router) matchNode(node *routeNode, segments []string, params map[string]string) *routeNode {
	if len(segments) == 0 {
		if node.methodMask != 0 {
			return node
		}
		if node.wildcardChild != nil {
			params[node.wildcardChild.paramName] = ""
			return node.wildcardChild
		}
		return nil
	}

	if child, ok := node.staticChildren[segments[0]]; ok {
		if found := r.matchNode(child, segments[1:], params); found != nil {
			return found
		}
	}

	if node.paramChild != nil {
		params[node.paramChild.paramName] = segments[0]
		if found := r.matchNode(node.paramChild, segments[1:], params); found != nil {
			return found
		}
		delete(params, node.paramChild.paramName)
	}

	if node.wildcardChild != nil {
		params[node.wildcardChild.paramName] = strings.Join(segments, "/")
		return node.wildcardChild
	}

	return nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}

	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

func allowed(mask uint8) string {
	var names []string
	for i, name := range methodNames {
		if mask&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}
