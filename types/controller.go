package types

type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
	MethodTrace   Method = "TRACE"
)

var Methods = []Method{
	MethodGet,
	MethodPost,
	MethodPut,
	MethodPatch,
	MethodDelete,
	MethodHead,
	MethodOptions,
	MethodConnect,
	MethodTrace,
}

func (m Method) Valid() bool {
	for _, method := range Methods {
		if m == method {
			return true
		}
	}
	return false
}

// RouteHandler receives the request Context plus positional arguments.
// By default the arguments are the path parameter values in pattern order.
type RouteHandler func(c *Context, args ...any) (any, error)

type Route struct {
	Method  Method
	Path    string
	Name    string
	Handler RouteHandler
}

type Controller interface {
	Name() string
	Routes() []Route
}

type Param struct {
	Key   string
	Value string
}

type Params []Param

func (p Params) Get(name string) (string, bool) {
	for _, param := range p {
		if param.Key == name {
			return param.Value, true
		}
	}
	return "", false
}

func (p Params) Values() []string {
	values := make([]string, len(p))
	for i, param := range p {
		values[i] = param.Value
	}
	return values
}

func (p Params) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, param := range p {
		m[param.Key] = param.Value
	}
	return m
}
