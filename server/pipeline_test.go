package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-webserver/controller"
	"github.com/saiset-co/sai-webserver/events"
	"github.com/saiset-co/sai-webserver/logger"
	"github.com/saiset-co/sai-webserver/middleware"
	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

type capturedResponse struct {
	calls  int
	status int
	header http.Header
	body   []byte
}

func (r *capturedResponse) WriteResponse(status int, header http.Header, body []byte) error {
	r.calls++
	r.status = status
	r.header = header.Clone()
	r.body = append([]byte(nil), body...)
	return nil
}

var requestIDs atomic.Uint64

func newRouter(t *testing.T, controllers ...types.Controller) *Router {
	t.Helper()

	router := NewRouter()
	for _, ctrl := range controllers {
		require.NoError(t, router.AddController(ctrl))
	}
	return router
}

func serve(t *testing.T, p *Pipeline, method, path string) (*types.Context, *capturedResponse, error) {
	t.Helper()

	rec := &capturedResponse{}
	c := p.Acquire(types.Request{ID: requestIDs.Add(1), Method: method, Path: path}, rec)
	err := p.Serve(c)
	return c, rec, err
}

func itemsController(handler types.RouteHandler) types.Controller {
	base := controller.NewBase("items", "/items")
	base.Get("/{id}", handler).WithName("get")
	return base
}

func TestServeNotFound(t *testing.T) {
	emitter := events.NewManager()

	var notFound int
	require.NoError(t, emitter.On(types.EventNotFound, func(context.Context, types.Event) error {
		notFound++
		return nil
	}))

	var postRan bool
	post := middleware.New("post", types.PhasePostController, func(*types.Context) error {
		postRan = true
		return nil
	})

	p := NewPipeline("test", newRouter(t), []types.Middleware{post}, emitter, logger.NewNop())

	c, rec, err := serve(t, p, "GET", "/nothing")
	require.NoError(t, err)
	assert.False(t, c.Matched())
	assert.Equal(t, http.StatusNotFound, rec.status)
	assert.Equal(t, "Not found", string(rec.body))
	assert.Equal(t, 1, notFound)
	assert.True(t, postRan)
	assert.Equal(t, 0, p.InFlight())
}

func TestServeInvokesHandlerWithParams(t *testing.T) {
	var got []any
	handler := func(c *types.Context, args ...any) (any, error) {
		got = args
		return map[string]string{"id": c.Param("id")}, nil
	}

	p := NewPipeline("test", newRouter(t, itemsController(handler)), nil, events.NewManager(), logger.NewNop())

	c, rec, err := serve(t, p, "GET", "/items/42")
	require.NoError(t, err)
	assert.True(t, c.Matched())
	assert.Equal(t, []any{"42"}, got)
	assert.Equal(t, http.StatusOK, rec.status)
	assert.JSONEq(t, `{"id":"42"}`, string(rec.body))
}

func TestPreControllerEventRewritesArguments(t *testing.T) {
	emitter := events.NewManager()
	require.NoError(t, emitter.On(types.EventPreController, func(_ context.Context, event types.Event) error {
		e := event.(*types.PreControllerEvent)
		assert.Equal(t, "items", e.Controller)
		assert.Equal(t, []any{"7"}, e.Arguments())
		e.SetArguments("7", "extra")
		return nil
	}))

	var returned any
	require.NoError(t, emitter.On(types.EventPostController, func(_ context.Context, event types.Event) error {
		returned = event.(*types.PostControllerEvent).ReturnedValue
		return nil
	}))

	var got []any
	handler := func(_ *types.Context, args ...any) (any, error) {
		got = args
		return "done", nil
	}

	p := NewPipeline("test", newRouter(t, itemsController(handler)), nil, emitter, logger.NewNop())

	_, rec, err := serve(t, p, "GET", "/items/7")
	require.NoError(t, err)
	assert.Equal(t, []any{"7", "extra"}, got)
	assert.Equal(t, "done", returned)
	assert.Equal(t, "done", string(rec.body))
}

func TestUnhandledHandlerErrorFallsBackTo500(t *testing.T) {
	handler := func(*types.Context, ...any) (any, error) {
		return nil, errors.New("boom")
	}

	p := NewPipeline("test", newRouter(t, itemsController(handler)), nil, events.NewManager(), logger.NewNop())

	_, rec, err := serve(t, p, "GET", "/items/1")
	require.ErrorIs(t, err, types.ErrUnhandledFault)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, http.StatusInternalServerError, rec.status)
	assert.Equal(t, utils.InternalErrorBody, rec.body)
	assert.Equal(t, types.ContentTypeJSON, rec.header.Get("Content-Type"))
	assert.Equal(t, 1, rec.calls)
}

func TestHandlerPanicBecomesFault(t *testing.T) {
	handler := func(*types.Context, ...any) (any, error) {
		panic("exploded")
	}

	var fault error
	handlerMw := middleware.NewErrorHandler("errors", types.PhasePostController, func(c *types.Context, err error) error {
		fault = err
		c.SetStatus(http.StatusBadGateway)
		c.SetResponseBody("handled")
		return nil
	})

	p := NewPipeline("test", newRouter(t, itemsController(handler)), []types.Middleware{handlerMw}, events.NewManager(), logger.NewNop())

	_, rec, err := serve(t, p, "GET", "/items/1")
	require.NoError(t, err)

	var panicErr *types.PanicError
	require.ErrorAs(t, fault, &panicErr)
	assert.Equal(t, "exploded", panicErr.Value)
	assert.NotEmpty(t, panicErr.StackTrace())
	assert.Equal(t, http.StatusBadGateway, rec.status)
	assert.Equal(t, "handled", string(rec.body))
}

func TestErrorAwareMiddlewareOnlyRunsWithFault(t *testing.T) {
	var calls int
	handlerMw := middleware.NewErrorHandler("errors", types.PhasePostController, func(*types.Context, error) error {
		calls++
		return nil
	})

	handler := func(*types.Context, ...any) (any, error) { return "ok", nil }
	p := NewPipeline("test", newRouter(t, itemsController(handler)), []types.Middleware{handlerMw}, events.NewManager(), logger.NewNop())

	_, rec, err := serve(t, p, "GET", "/items/1")
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, "ok", string(rec.body))
}

func TestPreMiddlewareShortCircuit(t *testing.T) {
	var handlerCalls, laterCalls, postCalls int

	deny := middleware.New("deny", types.PhasePreController, func(c *types.Context) error {
		c.SetStatus(http.StatusForbidden)
		return c.Send("denied")
	})
	later := middleware.New("later", types.PhasePreController, func(*types.Context) error {
		laterCalls++
		return nil
	})
	post := middleware.New("post", types.PhasePostController, func(*types.Context) error {
		postCalls++
		return nil
	})

	handler := func(*types.Context, ...any) (any, error) {
		handlerCalls++
		return nil, nil
	}

	p := NewPipeline("test", newRouter(t, itemsController(handler)), []types.Middleware{deny, later, post}, events.NewManager(), logger.NewNop())

	c, rec, err := serve(t, p, "GET", "/items/1")
	require.NoError(t, err)
	assert.True(t, c.Matched())
	assert.Equal(t, 0, handlerCalls)
	assert.Equal(t, 0, laterCalls)
	assert.Equal(t, 0, postCalls)
	assert.Equal(t, http.StatusForbidden, rec.status)
	assert.Equal(t, "denied", string(rec.body))
	assert.Equal(t, 1, rec.calls)
}

func TestShortCircuitOnUnmatchedPathSkipsNotFound(t *testing.T) {
	emitter := events.NewManager()

	var notFound int
	require.NoError(t, emitter.On(types.EventNotFound, func(context.Context, types.Event) error {
		notFound++
		return nil
	}))

	preflight := middleware.New("cors", types.PhasePreController, func(c *types.Context) error {
		c.SetStatus(http.StatusNoContent)
		return c.Finalize()
	})

	p := NewPipeline("test", newRouter(t), []types.Middleware{preflight}, emitter, logger.NewNop())

	_, rec, err := serve(t, p, "OPTIONS", "/anything")
	require.NoError(t, err)
	assert.Equal(t, 0, notFound)
	assert.Equal(t, http.StatusNoContent, rec.status)
}

func TestPreFaultSkipsNormalMiddlewaresUntilHandled(t *testing.T) {
	var order []string

	failing := middleware.New("failing", types.PhasePreController, func(*types.Context) error {
		order = append(order, "failing")
		return errors.New("bad input")
	})
	skipped := middleware.New("skipped", types.PhasePreController, func(*types.Context) error {
		order = append(order, "skipped")
		return nil
	})
	recoverer := middleware.NewErrorHandler("recover", types.PhasePreController, func(_ *types.Context, err error) error {
		order = append(order, "recover:"+err.Error())
		return nil
	})
	after := middleware.New("after", types.PhasePreController, func(*types.Context) error {
		order = append(order, "after")
		return nil
	})

	handler := func(*types.Context, ...any) (any, error) {
		order = append(order, "handler")
		return "ok", nil
	}

	p := NewPipeline("test", newRouter(t, itemsController(handler)),
		[]types.Middleware{failing, skipped, recoverer, after}, events.NewManager(), logger.NewNop())

	_, rec, err := serve(t, p, "GET", "/items/3")
	require.NoError(t, err)
	assert.Equal(t, []string{"failing", "recover:bad input", "after", "handler"}, order)
	assert.Equal(t, "ok", string(rec.body))
}

func TestPreFaultSkipsHandler(t *testing.T) {
	var handlerCalls int
	failing := middleware.New("failing", types.PhasePreController, func(*types.Context) error {
		return types.NewHTTPError(http.StatusUnauthorized, "no")
	})
	handler := func(*types.Context, ...any) (any, error) {
		handlerCalls++
		return nil, nil
	}

	var seen error
	postHandler := middleware.NewErrorHandler("errors", types.PhasePostController, func(c *types.Context, err error) error {
		seen = err
		c.SetStatus(types.StatusOf(err))
		c.SetResponseBody(err.Error())
		return nil
	})

	p := NewPipeline("test", newRouter(t, itemsController(handler)), []types.Middleware{failing, postHandler}, events.NewManager(), logger.NewNop())

	_, rec, err := serve(t, p, "GET", "/items/3")
	require.NoError(t, err)
	assert.Equal(t, 0, handlerCalls)
	require.Error(t, seen)
	assert.Equal(t, http.StatusUnauthorized, rec.status)
	assert.Equal(t, "no", string(rec.body))
}

func TestPostMiddlewareErrorIsFatal(t *testing.T) {
	var laterCalls int

	failing := middleware.New("failing-post", types.PhasePostController, func(*types.Context) error {
		return errors.New("post failed")
	})
	later := middleware.New("later-post", types.PhasePostController, func(*types.Context) error {
		laterCalls++
		return nil
	})

	handler := func(*types.Context, ...any) (any, error) { return "ok", nil }
	p := NewPipeline("test", newRouter(t, itemsController(handler)), []types.Middleware{failing, later}, events.NewManager(), logger.NewNop())

	_, rec, err := serve(t, p, "GET", "/items/3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrUnhandledFault)
	assert.Contains(t, err.Error(), "failing-post")
	assert.Equal(t, 0, laterCalls)
	assert.Equal(t, http.StatusInternalServerError, rec.status)
}

func TestPreRequestListenerErrorIsFault(t *testing.T) {
	emitter := events.NewManager()
	require.NoError(t, emitter.On(types.EventPreRequest, func(context.Context, types.Event) error {
		return errors.New("listener refused")
	}))

	var handlerCalls int
	handler := func(*types.Context, ...any) (any, error) {
		handlerCalls++
		return nil, nil
	}

	p := NewPipeline("test", newRouter(t, itemsController(handler)), nil, emitter, logger.NewNop())

	_, rec, err := serve(t, p, "GET", "/items/1")
	require.ErrorIs(t, err, types.ErrUnhandledFault)
	assert.ErrorContains(t, err, "listener refused")
	assert.Equal(t, 0, handlerCalls)
	assert.Equal(t, http.StatusInternalServerError, rec.status)
}

func TestPostRequestSeesFinishedResponse(t *testing.T) {
	emitter := events.NewManager()

	var finished bool
	require.NoError(t, emitter.On(types.EventPostRequest, func(_ context.Context, event types.Event) error {
		finished = event.(*types.RequestEvent).Context.Finished()
		return errors.New("ignored")
	}))

	p := NewPipeline("test", newRouter(t), nil, emitter, logger.NewNop())

	_, _, err := serve(t, p, "GET", "/missing")
	require.NoError(t, err)
	assert.True(t, finished)
}

func TestAcquireReturnsRegisteredContext(t *testing.T) {
	p := NewPipeline("test", newRouter(t), nil, nil, logger.NewNop())

	request := types.Request{ID: 99, Method: "GET", Path: "/"}
	first := p.Acquire(request, &capturedResponse{})
	second := p.Acquire(request, &capturedResponse{})

	assert.Same(t, first, second)
	assert.Equal(t, 1, p.InFlight())

	require.NoError(t, p.Serve(first))
	assert.Equal(t, 0, p.InFlight())
}

func TestHandlerBodyWinsOverReturnValue(t *testing.T) {
	handler := func(c *types.Context, _ ...any) (any, error) {
		c.SetResponseBody("explicit")
		return "returned", nil
	}

	p := NewPipeline("test", newRouter(t, itemsController(handler)), nil, nil, logger.NewNop())

	_, rec, err := serve(t, p, "GET", "/items/1")
	require.NoError(t, err)
	assert.Equal(t, "explicit", string(rec.body))
}

type dualMiddleware struct {
	middleware.Base
	applied int
	errored int
}

func (d *dualMiddleware) Apply(*types.Context) error {
	d.applied++
	return nil
}

func (d *dualMiddleware) ApplyError(c *types.Context, err error) error {
	d.errored++
	c.SetStatus(http.StatusInternalServerError)
	c.SetResponseBody(err.Error())
	return nil
}

func TestDualMiddlewareDispatchesOnFault(t *testing.T) {
	cases := []struct {
		name    string
		phase   types.Phase
		fail    bool
		applied int
		errored int
		status  int
		body    string
	}{
		{"post without fault", types.PhasePostController, false, 1, 0, http.StatusOK, "ok"},
		{"post with fault", types.PhasePostController, true, 0, 1, http.StatusInternalServerError, "boom"},
		{"pre without fault", types.PhasePreController, false, 1, 0, http.StatusOK, "ok"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dual := &dualMiddleware{Base: middleware.NewBase("dual", tc.phase)}
			require.NoError(t, types.ValidateMiddleware(dual))

			fail := tc.fail
			handler := func(*types.Context, ...any) (any, error) {
				if fail {
					return nil, errors.New("boom")
				}
				return "ok", nil
			}

			p := NewPipeline("test", newRouter(t, itemsController(handler)), []types.Middleware{dual}, events.NewManager(), logger.NewNop())

			_, rec, err := serve(t, p, "GET", "/items/1")
			require.NoError(t, err)
			assert.Equal(t, tc.applied, dual.applied)
			assert.Equal(t, tc.errored, dual.errored)
			assert.Equal(t, tc.status, rec.status)
			assert.Equal(t, tc.body, string(rec.body))
		})
	}
}

func TestPreMiddlewareShortCircuitsOnQueryFlag(t *testing.T) {
	var handlerCalls int

	guard := middleware.New("guard", types.PhasePreController, func(c *types.Context) error {
		if c.QueryValue("blocked") == "1" {
			c.SetStatus(http.StatusForbidden)
			return c.Send("blocked")
		}
		return nil
	})

	handler := func(*types.Context, ...any) (any, error) {
		handlerCalls++
		return "ok", nil
	}

	p := NewPipeline("test", newRouter(t, itemsController(handler)), []types.Middleware{guard}, events.NewManager(), logger.NewNop())

	blockedRec := &capturedResponse{}
	blocked := p.Acquire(types.Request{
		ID:     requestIDs.Add(1),
		Method: "GET",
		Path:   "/items/1",
		Query:  url.Values{"blocked": {"1"}},
	}, blockedRec)
	require.NoError(t, p.Serve(blocked))
	assert.Equal(t, http.StatusForbidden, blockedRec.status)
	assert.Equal(t, "blocked", string(blockedRec.body))
	assert.Equal(t, 0, handlerCalls)

	_, rec, err := serve(t, p, "GET", "/items/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.status)
	assert.Equal(t, "ok", string(rec.body))
	assert.Equal(t, 1, handlerCalls)
}

func TestErrorAwareMiddlewareRendersHandlerFault(t *testing.T) {
	handler := func(*types.Context, ...any) (any, error) {
		return nil, errors.New("boom")
	}

	custom := middleware.NewErrorHandler("render", types.PhasePostController, func(c *types.Context, err error) error {
		c.SetStatus(http.StatusInternalServerError)
		return c.Send("failed: " + err.Error())
	})

	exposed := middleware.NewErrorHandlerMiddleware(map[string]interface{}{"expose_errors": true}, logger.NewNop())

	cases := []struct {
		name string
		mw   types.Middleware
	}{
		{"custom", custom},
		{"built-in", exposed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPipeline("test", newRouter(t, itemsController(handler)), []types.Middleware{tc.mw}, events.NewManager(), logger.NewNop())

			_, rec, err := serve(t, p, "GET", "/items/1")
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, rec.status)
			assert.Contains(t, string(rec.body), "boom")
		})
	}
}
