package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

// Pipeline drives one request through pre-request, route match, controller
// execution (or not-found), post-controller and post-request phases.
type Pipeline struct {
	adapter  string
	router   *Router
	pre      []types.Middleware
	post     []types.Middleware
	events   types.EventEmitter
	logger   types.Logger
	inFlight sync.Map
	count    atomic.Int64
}

// NewPipeline splits the already sorted middlewares by phase, keeping their order.
func NewPipeline(adapter string, router *Router, middlewares []types.Middleware, events types.EventEmitter, logger types.Logger) *Pipeline {
	p := &Pipeline{
		adapter: adapter,
		router:  router,
		events:  events,
		logger:  logger,
	}

	for _, mw := range middlewares {
		switch mw.Phase() {
		case types.PhasePreController:
			p.pre = append(p.pre, mw)
		case types.PhasePostController:
			p.post = append(p.post, mw)
		}
	}

	return p
}

// Acquire returns the Context registered for request.ID, creating it on first use.
func (p *Pipeline) Acquire(request types.Request, writer types.ResponseWriter) *types.Context {
	if existing, ok := p.inFlight.Load(request.ID); ok {
		return existing.(*types.Context)
	}

	c := types.NewContext(request, writer)
	actual, loaded := p.inFlight.LoadOrStore(request.ID, c)
	if !loaded {
		p.count.Add(1)
	}
	return actual.(*types.Context)
}

func (p *Pipeline) InFlight() int {
	return int(p.count.Load())
}

// Serve runs every phase for c. The response is always finalized. The returned
// error reports a fault nothing handled or a failing post-controller middleware.
func (p *Pipeline) Serve(c *types.Context) error {
	ctx := context.Background()
	defer p.release(c)

	var fault error

	if err := p.emit(ctx, &types.RequestEvent{EventType: types.EventPreRequest, Context: c, Adapter: p.adapter}); err != nil {
		fault = err
	}

	fault = p.runPre(c, fault)

	binding, params := p.router.Match(c.Method(), c.Path())
	if binding != nil {
		c.SetParams(params)
		c.MarkMatched()
	}

	if fault == nil && !c.Finished() {
		if c.Matched() {
			fault = p.invoke(ctx, c, binding)
		} else {
			p.notFound(ctx, c)
		}
	}

	fault, fatal := p.runPost(c, fault)

	var result error
	switch {
	case fatal != nil:
		result = fatal
	case fault != nil:
		result = types.Errorf(types.ErrUnhandledFault, "%v", fault)
	}

	if result != nil && !c.Finished() {
		p.lastResort(c)
	}

	if err := c.Finalize(); err != nil {
		p.logger.Error("Failed to finalize response", zap.String("path", c.Path()), zap.Error(err))
		result = errors.Join(result, err)
	}

	if err := p.emit(ctx, &types.RequestEvent{EventType: types.EventPostRequest, Context: c, Adapter: p.adapter}); err != nil {
		p.logger.Error("Post-request listener failed", zap.String("path", c.Path()), zap.Error(err))
	}

	return result
}

func (p *Pipeline) runPre(c *types.Context, fault error) error {
	for _, mw := range p.pre {
		if c.Finished() {
			break
		}

		if fault != nil {
			if handler, ok := mw.(types.ErrorApplier); ok {
				fault = safeApplyError(handler, c, fault)
			}
			continue
		}

		if applier, ok := mw.(types.Applier); ok {
			if err := safeApply(applier, c); err != nil {
				fault = err
			}
		}
	}

	return fault
}

func (p *Pipeline) runPost(c *types.Context, fault error) (error, error) {
	for _, mw := range p.post {
		if c.Finished() {
			break
		}

		if fault != nil {
			handler, ok := mw.(types.ErrorApplier)
			if !ok {
				continue
			}
			if err := safeApplyError(handler, c, fault); err != nil {
				return fault, types.WrapError(err, string(mw.Kind()))
			}
			fault = nil
			continue
		}

		applier, ok := mw.(types.Applier)
		if !ok {
			continue
		}
		if err := safeApply(applier, c); err != nil {
			return fault, types.WrapError(err, string(mw.Kind()))
		}
	}

	return fault, nil
}

func (p *Pipeline) invoke(ctx context.Context, c *types.Context, binding *Binding) error {
	values := c.Params().Values()
	args := make([]any, len(values))
	for i, value := range values {
		args[i] = value
	}

	event := types.NewPreControllerEvent(binding.Controller, binding.Route, c, p.adapter, args)
	if err := p.emit(ctx, event); err != nil {
		return err
	}

	value, err := safeCall(binding.Route.Handler, c, event.Arguments())
	if err != nil {
		return err
	}

	if value != nil && !c.HasResponseBody() && !c.Finished() {
		c.SetResponseBody(value)
	}

	return p.emit(ctx, &types.PostControllerEvent{
		Controller:    binding.Controller,
		Route:         binding.Route,
		Context:       c,
		Adapter:       p.adapter,
		ReturnedValue: value,
	})
}

func (p *Pipeline) notFound(ctx context.Context, c *types.Context) {
	c.SetStatus(http.StatusNotFound)
	c.SetResponseBody("Not found")

	if err := p.emit(ctx, &types.RequestEvent{EventType: types.EventNotFound, Context: c, Adapter: p.adapter}); err != nil {
		p.logger.Error("Not-found listener failed", zap.String("path", c.Path()), zap.Error(err))
	}
}

func (p *Pipeline) lastResort(c *types.Context) {
	header := c.ResponseHeader()
	header.Del("Content-Encoding")
	header.Del("Content-Length")
	header.Set("Content-Type", types.ContentTypeJSON)
	utils.SetNoCacheHeaders(header)

	c.SetStatus(http.StatusInternalServerError)
	c.SetResponseBody(utils.InternalErrorBody)
}

func (p *Pipeline) emit(ctx context.Context, event types.Event) (err error) {
	if p.events == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = types.NewPanicError(r)
		}
	}()

	return p.events.Emit(ctx, event)
}

func (p *Pipeline) release(c *types.Context) {
	if _, loaded := p.inFlight.LoadAndDelete(c.ID()); loaded {
		p.count.Add(-1)
	}
}

func safeApply(mw types.Applier, c *types.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewPanicError(r)
		}
	}()

	return mw.Apply(c)
}

func safeApplyError(mw types.ErrorApplier, c *types.Context, fault error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewPanicError(r)
		}
	}()

	return mw.ApplyError(c, fault)
}

func safeCall(handler types.RouteHandler, c *types.Context, args []any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewPanicError(r)
		}
	}()

	return handler(c, args...)
}
