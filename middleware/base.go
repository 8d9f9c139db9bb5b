package middleware

import (
	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

const (
	KindRequestID    types.Kind = "request-id"
	KindLogging      types.Kind = "logging"
	KindCORS         types.Kind = "cors"
	KindBodyLimit    types.Kind = "body-limit"
	KindRateLimit    types.Kind = "rate-limit"
	KindAuth         types.Kind = "auth"
	KindJSONBody     types.Kind = "json-body"
	KindCacheLookup  types.Kind = "cache-lookup"
	KindCacheStore   types.Kind = "cache-store"
	KindCompression  types.Kind = "compression"
	KindErrorHandler types.Kind = "error-handler"
)

type Option func(*Base)

func WithBefore(kinds ...types.Kind) Option {
	return func(b *Base) {
		b.AddBefore(kinds...)
	}
}

func WithAfter(kinds ...types.Kind) Option {
	return func(b *Base) {
		b.AddAfter(kinds...)
	}
}

// Base carries the descriptor half of a middleware. Embed it and add Apply or ApplyError.
type Base struct {
	kind   types.Kind
	phase  types.Phase
	before []types.Kind
	after  []types.Kind
}

func NewBase(kind types.Kind, phase types.Phase, opts ...Option) Base {
	b := Base{kind: kind, phase: phase}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *Base) Kind() types.Kind     { return b.kind }
func (b *Base) Phase() types.Phase   { return b.phase }
func (b *Base) Before() []types.Kind { return b.before }
func (b *Base) After() []types.Kind  { return b.after }

func (b *Base) AddBefore(kinds ...types.Kind) {
	b.before = append(b.before, kinds...)
}

func (b *Base) AddAfter(kinds ...types.Kind) {
	b.after = append(b.after, kinds...)
}

type Func struct {
	Base
	fn func(c *types.Context) error
}

// New wraps a plain function as a middleware.
func New(kind types.Kind, phase types.Phase, fn func(c *types.Context) error, opts ...Option) *Func {
	return &Func{
		Base: NewBase(kind, phase, opts...),
		fn:   fn,
	}
}

func (f *Func) Apply(c *types.Context) error {
	return f.fn(c)
}

type ErrorFunc struct {
	Base
	fn func(c *types.Context, err error) error
}

// NewErrorHandler wraps a function that only runs while a fault is pending.
func NewErrorHandler(kind types.Kind, phase types.Phase, fn func(c *types.Context, err error) error, opts ...Option) *ErrorFunc {
	return &ErrorFunc{
		Base: NewBase(kind, phase, opts...),
		fn:   fn,
	}
}

func (f *ErrorFunc) ApplyError(c *types.Context, err error) error {
	return f.fn(c, err)
}

// respond stages a JSON error body and finalizes the response.
func respond(c *types.Context, status int, message string) error {
	c.SetStatus(status)
	c.SetResponseBody(utils.NewErrorResponse(status, message))
	return c.Finalize()
}
