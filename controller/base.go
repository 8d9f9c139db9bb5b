// Package controller provides the route registration helpers controllers embed.
package controller

import (
	"strings"
	"sync"

	"github.com/saiset-co/sai-webserver/types"
)

// Base collects routes declared explicitly by a controller. Paths are joined
// onto the optional prefix.
type Base struct {
	name   string
	prefix string
	routes []types.Route
	mu     sync.RWMutex
}

func NewBase(name, prefix string) *Base {
	return &Base{
		name:   name,
		prefix: strings.TrimRight(prefix, "/"),
	}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) Prefix() string {
	return b.prefix
}

// Routes returns a copy of the registered routes in declaration order.
func (b *Base) Routes() []types.Route {
	b.mu.RLock()
	defer b.mu.RUnlock()

	routes := make([]types.Route, len(b.routes))
	copy(routes, b.routes)
	return routes
}

// AddRoute registers handler for method and path. Validation happens when the
// adapter indexes the route.
func (b *Base) AddRoute(method types.Method, path string, handler types.RouteHandler) *RouteBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.routes = append(b.routes, types.Route{
		Method:  method,
		Path:    b.joinPath(path),
		Handler: handler,
	})

	return &RouteBuilder{base: b, index: len(b.routes) - 1}
}

func (b *Base) Get(path string, handler types.RouteHandler) *RouteBuilder {
	return b.AddRoute(types.MethodGet, path, handler)
}

func (b *Base) Post(path string, handler types.RouteHandler) *RouteBuilder {
	return b.AddRoute(types.MethodPost, path, handler)
}

func (b *Base) Put(path string, handler types.RouteHandler) *RouteBuilder {
	return b.AddRoute(types.MethodPut, path, handler)
}

func (b *Base) Patch(path string, handler types.RouteHandler) *RouteBuilder {
	return b.AddRoute(types.MethodPatch, path, handler)
}

func (b *Base) Delete(path string, handler types.RouteHandler) *RouteBuilder {
	return b.AddRoute(types.MethodDelete, path, handler)
}

func (b *Base) Head(path string, handler types.RouteHandler) *RouteBuilder {
	return b.AddRoute(types.MethodHead, path, handler)
}

func (b *Base) Options(path string, handler types.RouteHandler) *RouteBuilder {
	return b.AddRoute(types.MethodOptions, path, handler)
}

func (b *Base) Connect(path string, handler types.RouteHandler) *RouteBuilder {
	return b.AddRoute(types.MethodConnect, path, handler)
}

func (b *Base) Trace(path string, handler types.RouteHandler) *RouteBuilder {
	return b.AddRoute(types.MethodTrace, path, handler)
}

func (b *Base) joinPath(path string) string {
	if path == "" || path == "/" {
		if b.prefix == "" {
			return "/"
		}
		return b.prefix
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return b.prefix + path
}

// RouteBuilder adjusts a route right after it was declared.
type RouteBuilder struct {
	base  *Base
	index int
}

// WithName sets the route name reported in controller events.
func (rb *RouteBuilder) WithName(name string) *RouteBuilder {
	rb.base.mu.Lock()
	defer rb.base.mu.Unlock()

	rb.base.routes[rb.index].Name = name
	return rb
}
