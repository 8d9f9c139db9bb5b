package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"

	tlsmanager "github.com/saiset-co/sai-webserver/tls"
)

const (
	AdapterName            = "fasthttp"
	defaultShutdownTimeout = 5 * time.Second
)

// FastHTTPAdapter serves the request pipeline on a fasthttp server.
type FastHTTPAdapter struct {
	logger     types.Logger
	pipeline   *Pipeline
	router     *Router
	server     *fasthttp.Server
	tlsManager types.TLSManager
	listener   net.Listener
	options    types.ServerOptions
	state      atomic.Value
	served     chan struct{}
	mu         sync.RWMutex
}

func NewFastHTTPAdapter(logger types.Logger) *FastHTTPAdapter {
	adapter := &FastHTTPAdapter{
		logger: logger,
	}

	adapter.state.Store(types.StateStopped)

	return adapter
}

func (a *FastHTTPAdapter) Name() string {
	return AdapterName
}

// Initialize builds the route index, the pipeline and the native server.
func (a *FastHTTPAdapter) Initialize(params types.InitializeParameters) error {
	if a.getState() != types.StateStopped {
		return types.ErrServerAlreadyRunning
	}

	if params.Logger != nil {
		a.logger = params.Logger
	}

	router := NewRouter()
	for _, controller := range params.Controllers {
		if err := router.AddController(controller); err != nil {
			return types.WrapError(err, "failed to register controller "+controller.Name())
		}
	}

	var tlsManager types.TLSManager
	if params.Options.IsSecured {
		manager, err := tlsmanager.NewCertManager(params.Options, a.logger)
		if err != nil {
			return err
		}
		tlsManager = manager
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.router = router
	a.tlsManager = tlsManager
	a.options = params.Options
	a.pipeline = NewPipeline(AdapterName, router, params.Middlewares, params.Events, a.logger)
	a.server = &fasthttp.Server{
		Handler:                      a.handle,
		ReadTimeout:                  time.Duration(params.Options.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(params.Options.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(params.Options.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
		Logger:                       &fasthttpLogger{logger: a.logger},
	}

	a.logger.Debug("Adapter initialized",
		zap.String("adapter", AdapterName),
		zap.Int("routes", len(router.Bindings())),
		zap.Int("pre_middlewares", len(a.pipeline.pre)),
		zap.Int("post_middlewares", len(a.pipeline.post)))

	return nil
}

// Start binds the listener synchronously and serves in the background.
func (a *FastHTTPAdapter) Start(ctx context.Context, options types.ServerOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return types.ErrServerNotInitialized
	}

	if !a.transitionState(types.StateStopped, types.StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	addr := net.JoinHostPort(options.Host, strconv.Itoa(options.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		a.setState(types.StateStopped)
		return types.Errorf(types.ErrServerStartFailed, "listen %s: %v", addr, err)
	}

	if a.tlsManager != nil {
		ln, err = a.tlsManager.Listen(ln)
		if err != nil {
			a.setState(types.StateStopped)
			return types.Errorf(types.ErrServerStartFailed, "tls listen %s: %v", addr, err)
		}
	}

	a.listener = ln
	a.options = options
	a.served = make(chan struct{})

	server, served := a.server, a.served
	go func() {
		defer close(served)
		if err := server.Serve(ln); err != nil && a.getState() == types.StateRunning {
			a.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	a.setState(types.StateRunning)

	a.logger.Info("HTTP server started successfully",
		zap.String("address", ln.Addr().String()),
		zap.Bool("tls", a.tlsManager != nil))

	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx expires.
func (a *FastHTTPAdapter) Stop(ctx context.Context) error {
	if !a.transitionState(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer a.setState(types.StateStopped)

	a.mu.RLock()
	server, served := a.server, a.served
	timeout := time.Duration(a.options.ShutdownTimeout) * time.Second
	a.mu.RUnlock()

	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.ShutdownWithContext(gCtx)
	})

	g.Go(func() error {
		select {
		case <-served:
			return nil
		case <-gCtx.Done():
			return gCtx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		return types.Errorf(types.ErrServerStopFailed, "%v", err)
	}

	a.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (a *FastHTTPAdapter) NativeServer() any {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.server
}

func (a *FastHTTPAdapter) Addr() net.Addr {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *FastHTTPAdapter) Pipeline() *Pipeline {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.pipeline
}

func (a *FastHTTPAdapter) IsRunning() bool {
	return a.getState() == types.StateRunning
}

func (a *FastHTTPAdapter) handle(rctx *fasthttp.RequestCtx) {
	request := types.Request{
		ID:         rctx.ID(),
		Method:     methodString(rctx.Method()),
		Path:       string(rctx.Path()),
		Query:      queryValues(rctx),
		Header:     headerValues(rctx),
		Body:       append([]byte(nil), rctx.PostBody()...),
		RemoteAddr: rctx.RemoteAddr().String(),
	}

	writer := types.ResponseWriterFunc(func(status int, header http.Header, body []byte) error {
		rctx.SetStatusCode(status)
		for key, values := range header {
			for i, value := range values {
				if i == 0 {
					rctx.Response.Header.Set(key, value)
				} else {
					rctx.Response.Header.Add(key, value)
				}
			}
		}
		rctx.SetBody(body)
		return nil
	})

	c := a.pipeline.Acquire(request, writer)

	stop := make(chan struct{})
	go func() {
		select {
		case <-rctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	err := a.pipeline.Serve(c)
	close(stop)
	c.Close()

	if err != nil {
		a.logger.ErrorWithErrStack("Request pipeline fault", err,
			zap.String("method", request.Method),
			zap.String("path", request.Path))
	}
}

func (a *FastHTTPAdapter) getState() types.State {
	return a.state.Load().(types.State)
}

func (a *FastHTTPAdapter) setState(newState types.State) {
	a.state.Store(newState)
}

func (a *FastHTTPAdapter) transitionState(from, to types.State) bool {
	return a.state.CompareAndSwap(from, to)
}

func methodString(method []byte) string {
	if _, known := methodIndex[types.Method(method)]; known {
		return utils.Intern(method)
	}
	return string(method)
}

func queryValues(rctx *fasthttp.RequestCtx) url.Values {
	query := url.Values{}
	rctx.QueryArgs().VisitAll(func(key, value []byte) {
		query.Add(string(key), string(value))
	})
	return query
}

func headerValues(rctx *fasthttp.RequestCtx) http.Header {
	header := http.Header{}
	rctx.Request.Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

type fasthttpLogger struct {
	logger types.Logger
}

func (l *fasthttpLogger) Printf(format string, args ...interface{}) {
	l.logger.Debug("fasthttp", zap.String("message", fmt.Sprintf(format, args...)))
}
