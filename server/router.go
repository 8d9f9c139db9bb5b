package server

import (
	"strings"

	"github.com/saiset-co/sai-webserver/types"
)

var methodIndex = func() map[types.Method]int {
	index := make(map[types.Method]int, len(types.Methods))
	for i, method := range types.Methods {
		index[method] = i
	}
	return index
}()

// Binding is a registered route together with its owning controller.
type Binding struct {
	Controller string
	Route      types.Route
	paramNames []string
}

type routeNode struct {
	staticChildren map[string]*routeNode
	paramChild     *routeNode
	bindings       []*Binding
}

func newRouteNode() *routeNode {
	return &routeNode{
		staticChildren: make(map[string]*routeNode),
		bindings:       make([]*Binding, len(types.Methods)),
	}
}

// Router indexes routes by method and path. It is built once and read-only afterwards.
type Router struct {
	root         *routeNode
	staticRoutes map[string]*Binding
	bindings     []*Binding
}

func NewRouter() *Router {
	return &Router{
		root:         newRouteNode(),
		staticRoutes: make(map[string]*Binding),
	}
}

func (r *Router) AddController(controller types.Controller) error {
	for _, route := range controller.Routes() {
		if err := r.Add(controller.Name(), route); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) Add(controller string, route types.Route) error {
	methodIdx, ok := methodIndex[route.Method]
	if !ok {
		return types.Errorf(types.ErrRouteInvalid, "unsupported method %q for %s", route.Method, route.Path)
	}

	if route.Handler == nil {
		return types.Errorf(types.ErrHandlerIsNil, "%s %s", route.Method, route.Path)
	}

	if !strings.HasPrefix(route.Path, "/") {
		return types.Errorf(types.ErrRouteInvalid, "path must start with '/': %s", route.Path)
	}

	path := normalizePath(route.Path)
	segments := parsePathSegments(path)

	binding := &Binding{
		Controller: controller,
		Route:      route,
	}

	node := r.root
	dynamic := false
	for _, segment := range segments {
		if name, isParam := paramName(segment); isParam {
			if name == "" {
				return types.Errorf(types.ErrRouteInvalid, "empty parameter name in %s", route.Path)
			}
			binding.paramNames = append(binding.paramNames, name)
			if node.paramChild == nil {
				node.paramChild = newRouteNode()
			}
			node = node.paramChild
			dynamic = true
			continue
		}

		child, exists := node.staticChildren[segment]
		if !exists {
			child = newRouteNode()
			node.staticChildren[segment] = child
		}
		node = child
	}

	if node.bindings[methodIdx] != nil {
		return types.Errorf(types.ErrRouteInvalid, "duplicate route %s %s", route.Method, route.Path)
	}
	node.bindings[methodIdx] = binding

	if !dynamic {
		r.staticRoutes[string(route.Method)+":"+path] = binding
	}

	r.bindings = append(r.bindings, binding)
	return nil
}

// Match finds the binding for method and path. Static segments win over parameters.
func (r *Router) Match(method, path string) (*Binding, types.Params) {
	methodIdx, ok := methodIndex[types.Method(method)]
	if !ok {
		return nil, nil
	}

	path = normalizePath(path)

	if binding := r.staticRoutes[method+":"+path]; binding != nil {
		return binding, nil
	}

	segments := parsePathSegments(path)
	values := make([]string, 0, 4)

	binding, values := findInNode(r.root, segments, methodIdx, values)
	if binding == nil {
		return nil, nil
	}

	params := make(types.Params, len(binding.paramNames))
	for i, name := range binding.paramNames {
		params[i] = types.Param{Key: name, Value: values[i]}
	}

	return binding, params
}

func (r *Router) Bindings() []*Binding {
	result := make([]*Binding, len(r.bindings))
	copy(result, r.bindings)
	return result
}

func findInNode(node *routeNode, segments []string, methodIdx int, values []string) (*Binding, []string) {
	if len(segments) == 0 {
		return node.bindings[methodIdx], values
	}

	segment := segments[0]

	if child, exists := node.staticChildren[segment]; exists {
		if binding, found := findInNode(child, segments[1:], methodIdx, values); binding != nil {
			return binding, found
		}
	}

	if node.paramChild != nil {
		if binding, found := findInNode(node.paramChild, segments[1:], methodIdx, append(values, segment)); binding != nil {
			return binding, found
		}
	}

	return nil, values
}

func paramName(segment string) (string, bool) {
	if len(segment) >= 2 && segment[0] == '{' && segment[len(segment)-1] == '}' {
		return segment[1 : len(segment)-1], true
	}
	if len(segment) >= 1 && segment[0] == ':' {
		return segment[1:], true
	}
	return "", false
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}

func parsePathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
