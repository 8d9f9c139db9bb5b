package types

import (
	"context"
	"net"
)

// ServerOptions are the resolved server settings an adapter starts with.
type ServerOptions = ServerConfig

type InitializeParameters struct {
	Options     ServerOptions
	Middlewares []Middleware
	Controllers []Controller
	Events      EventEmitter
	Logger      Logger
}

// Adapter binds the request pipeline to a concrete HTTP engine.
type Adapter interface {
	Name() string
	Initialize(params InitializeParameters) error
	Start(ctx context.Context, options ServerOptions) error
	Stop(ctx context.Context) error
	NativeServer() any
	Addr() net.Addr
}
