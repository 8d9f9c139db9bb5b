package types

import "context"

type EventType string

const (
	EventPreRequest        EventType = "pre-request"
	EventPostRequest       EventType = "post-request"
	EventNotFound          EventType = "not-found"
	EventPreController     EventType = "pre-controller"
	EventPostController    EventType = "post-controller"
	EventServerInitialized EventType = "server-initialized"
	EventServerStarted     EventType = "server-started"
	EventServerStopped     EventType = "server-stopped"
)

type Event interface {
	Type() EventType
}

type Listener func(ctx context.Context, event Event) error

// EventEmitter delivers lifecycle notifications. Emit stops at the first listener error.
type EventEmitter interface {
	On(eventType EventType, listener Listener) error
	Emit(ctx context.Context, event Event) error
}

// RequestEvent is emitted for pre-request, not-found and post-request.
type RequestEvent struct {
	EventType EventType
	Context   *Context
	Adapter   string
}

func (e *RequestEvent) Type() EventType {
	return e.EventType
}

type PreControllerEvent struct {
	Controller string
	Route      Route
	Context    *Context
	Adapter    string
	args       []any
}

func NewPreControllerEvent(controller string, route Route, c *Context, adapter string, args []any) *PreControllerEvent {
	return &PreControllerEvent{
		Controller: controller,
		Route:      route,
		Context:    c,
		Adapter:    adapter,
		args:       args,
	}
}

func (e *PreControllerEvent) Type() EventType {
	return EventPreController
}

func (e *PreControllerEvent) Arguments() []any {
	return e.args
}

// SetArguments replaces the positional arguments the handler will receive.
func (e *PreControllerEvent) SetArguments(args ...any) {
	e.args = args
}

type PostControllerEvent struct {
	Controller    string
	Route         Route
	Context       *Context
	Adapter       string
	ReturnedValue any
}

func (e *PostControllerEvent) Type() EventType {
	return EventPostController
}

type ServerInitializedEvent struct {
	Options ServerOptions
	Adapter string
	Server  any
}

func (e *ServerInitializedEvent) Type() EventType {
	return EventServerInitialized
}

type ServerStartedEvent struct {
	Options ServerOptions
	Adapter string
}

func (e *ServerStartedEvent) Type() EventType {
	return EventServerStarted
}

type ServerStoppedEvent struct {
	Adapter string
}

func (e *ServerStoppedEvent) Type() EventType {
	return EventServerStopped
}
