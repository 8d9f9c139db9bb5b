package types

// Kind identifies a middleware type. Ordering constraints are declared against kinds.
type Kind string

type Phase int

const (
	PhasePreController Phase = iota
	PhasePostController
)

func (p Phase) String() string {
	switch p {
	case PhasePreController:
		return "PRE_CONTROLLER"
	case PhasePostController:
		return "POST_CONTROLLER"
	default:
		return "UNKNOWN"
	}
}

// Middleware is the descriptor every middleware carries. A concrete middleware
// also implements Applier, ErrorApplier, or both. Apply runs while no fault is
// pending and ApplyError runs while one is.
type Middleware interface {
	Kind() Kind
	Phase() Phase
	Before() []Kind
	After() []Kind
}

type Applier interface {
	Middleware
	Apply(c *Context) error
}

// ErrorApplier runs only while a fault is pending. Returning nil clears the fault.
type ErrorApplier interface {
	Middleware
	ApplyError(c *Context, err error) error
}

type MiddlewareManager interface {
	RegisterMiddlewares() error
	Register(middleware Middleware) error
	Middlewares() []Middleware
}

func IsErrorAware(m Middleware) bool {
	_, ok := m.(ErrorApplier)
	return ok
}

func ValidateMiddleware(m Middleware) error {
	if m == nil {
		return Errorf(ErrMiddlewareInvalidType, "middleware is nil")
	}
	switch m.(type) {
	case ErrorApplier, Applier:
	default:
		return Errorf(ErrMiddlewareInvalidType, "%s implements neither Apply nor ApplyError", m.Kind())
	}
	if m.Phase() != PhasePreController && m.Phase() != PhasePostController {
		return Errorf(ErrMiddlewareInvalidType, "%s has unknown phase %d", m.Kind(), m.Phase())
	}
	return nil
}
