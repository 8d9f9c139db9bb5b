package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-webserver/controller"
	"github.com/saiset-co/sai-webserver/events"
	"github.com/saiset-co/sai-webserver/logger"
	"github.com/saiset-co/sai-webserver/middleware"
	"github.com/saiset-co/sai-webserver/server"
	"github.com/saiset-co/sai-webserver/types"
)

type fakeAdapter struct {
	params   types.InitializeParameters
	initErr  error
	startErr error
	stopErr  error
	started  int
	stopped  int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Initialize(params types.InitializeParameters) error {
	f.params = params
	return f.initErr
}

func (f *fakeAdapter) Start(_ context.Context, _ types.ServerOptions) error {
	f.started++
	return f.startErr
}

func (f *fakeAdapter) Stop(_ context.Context) error {
	f.stopped++
	return f.stopErr
}

func (f *fakeAdapter) NativeServer() any { return nil }

func (f *fakeAdapter) Addr() net.Addr {
	if f.started == 0 {
		return nil
	}
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4321}
}

func recordEvents(t *testing.T, em *events.Manager) *[]types.EventType {
	t.Helper()

	var seen []types.EventType
	for _, eventType := range []types.EventType{types.EventServerInitialized, types.EventServerStarted, types.EventServerStopped} {
		require.NoError(t, em.On(eventType, func(_ context.Context, event types.Event) error {
			seen = append(seen, event.Type())
			return nil
		}))
	}
	return &seen
}

func TestExecuteRunsFullLifecycle(t *testing.T) {
	adapter := &fakeAdapter{}
	em := events.NewManager()
	seen := recordEvents(t, em)
	var out bytes.Buffer

	p := NewWebProcess(&types.ServerConfig{Port: 8080}, adapter, nil, nil, em, logger.NewNop(), WithOutput(&out))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Execute(ctx, 0))

	assert.Equal(t, "Webserver started - Listening on: 4321\n", out.String())
	assert.Equal(t, 1, adapter.started)
	assert.Equal(t, 1, adapter.stopped)
	assert.False(t, p.IsRunning())
	assert.Equal(t, []types.EventType{
		types.EventServerInitialized,
		types.EventServerStarted,
		types.EventServerStopped,
	}, *seen)
}

func TestInitializeOrdersMiddlewares(t *testing.T) {
	adapter := &fakeAdapter{}
	first := middleware.New("first", types.PhasePreController, func(*types.Context) error { return nil })
	second := middleware.New("second", types.PhasePreController, func(*types.Context) error { return nil }, middleware.WithBefore("first"))

	p := NewWebProcess(nil, adapter, []types.Middleware{first, second}, nil, nil, logger.NewNop())

	options, err := p.Initialize(context.Background(), 9000)
	require.NoError(t, err)
	assert.Equal(t, 9000, options.Port)

	require.Len(t, adapter.params.Middlewares, 2)
	assert.Equal(t, types.Kind("second"), adapter.params.Middlewares[0].Kind())
	assert.Equal(t, types.Kind("first"), adapter.params.Middlewares[1].Kind())
	assert.NotNil(t, adapter.params.Events)
}

func TestInitializeRejectsInvalidSetups(t *testing.T) {
	noop := func(*types.Context) error { return nil }
	a := middleware.New("a", types.PhasePreController, noop, middleware.WithBefore("b"))
	b := middleware.New("b", types.PhasePreController, noop, middleware.WithBefore("a"))

	cases := []struct {
		name        string
		config      *types.ServerConfig
		port        int
		middlewares []types.Middleware
		adapter     types.Adapter
		want        error
	}{
		{"port too large", nil, 70000, nil, &fakeAdapter{}, types.ErrConfigInvalidPort},
		{"negative port", nil, -1, nil, &fakeAdapter{}, types.ErrConfigInvalidPort},
		{"tls without material", &types.ServerConfig{IsSecured: true}, 0, nil, &fakeAdapter{}, types.ErrConfigInvalidTLS},
		{"autocert without domains", &types.ServerConfig{IsSecured: true, AutoCert: true}, 0, nil, &fakeAdapter{}, types.ErrConfigInvalidTLS},
		{"negative timeout", &types.ServerConfig{ReadTimeout: -1}, 0, nil, &fakeAdapter{}, types.ErrConfigValidateFailed},
		{"order cycle", nil, 0, []types.Middleware{a, b}, &fakeAdapter{}, types.ErrMiddlewareOrderCycle},
		{"invalid middleware", nil, 0, []types.Middleware{nil}, &fakeAdapter{}, types.ErrMiddlewareInvalidType},
		{"adapter failure", nil, 0, nil, &fakeAdapter{initErr: types.ErrRouteInvalid}, types.ErrRouteInvalid},
		{"no adapter", nil, 0, nil, nil, types.ErrServerNotInitialized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewWebProcess(tc.config, tc.adapter, tc.middlewares, nil, nil, logger.NewNop())
			_, err := p.Initialize(context.Background(), tc.port)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateOptionsReportsTimeoutsInOrder(t *testing.T) {
	options := types.ServerOptions{ReadTimeout: -1, WriteTimeout: -1, IdleTimeout: -1, ShutdownTimeout: -1}
	want := "config validate failed: read_timeout must not be negative\n" +
		"config validate failed: write_timeout must not be negative\n" +
		"config validate failed: idle_timeout must not be negative\n" +
		"config validate failed: shutdown_timeout must not be negative"

	for i := 0; i < 5; i++ {
		err := validateOptions(options)
		require.ErrorIs(t, err, types.ErrConfigValidateFailed)
		assert.Equal(t, want, err.Error())
	}
}

func TestStartAndTerminateGuards(t *testing.T) {
	adapter := &fakeAdapter{}
	p := NewWebProcess(nil, adapter, nil, nil, nil, logger.NewNop(), WithOutput(&bytes.Buffer{}))

	assert.ErrorIs(t, p.Start(context.Background()), types.ErrServerNotInitialized)
	assert.ErrorIs(t, p.Terminate(context.Background()), types.ErrProcessIsNotRunning)

	_, err := p.Initialize(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())

	assert.ErrorIs(t, p.Start(context.Background()), types.ErrProcessIsRunning)
	_, err = p.Initialize(context.Background(), 0)
	assert.ErrorIs(t, err, types.ErrProcessIsRunning)

	require.NoError(t, p.Terminate(context.Background()))
	assert.False(t, p.IsRunning())
	assert.ErrorIs(t, p.Terminate(context.Background()), types.ErrProcessIsNotRunning)
}

func TestStartFailureLeavesProcessStopped(t *testing.T) {
	adapter := &fakeAdapter{startErr: types.ErrServerStartFailed}
	p := NewWebProcess(nil, adapter, nil, nil, nil, logger.NewNop())

	_, err := p.Initialize(context.Background(), 0)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Start(context.Background()), types.ErrServerStartFailed)
	assert.False(t, p.IsRunning())

	adapter.startErr = nil
	assert.NoError(t, p.Start(context.Background()))
}

func TestTerminateReportsStopErrorAndStillEmits(t *testing.T) {
	adapter := &fakeAdapter{stopErr: errors.New("stuck")}
	em := events.NewManager()
	seen := recordEvents(t, em)

	p := NewWebProcess(nil, adapter, nil, nil, em, logger.NewNop(), WithOutput(&bytes.Buffer{}))
	_, err := p.Initialize(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	assert.EqualError(t, p.Terminate(context.Background()), "stuck")
	assert.Equal(t, types.EventServerStopped, (*seen)[len(*seen)-1])
	assert.False(t, p.IsRunning())
}

func TestCommandUsesPortFlag(t *testing.T) {
	adapter := &fakeAdapter{}
	var out bytes.Buffer
	p := NewWebProcess(&types.ServerConfig{Port: 8080}, adapter, nil, nil, nil, logger.NewNop(), WithOutput(&out))

	cmd := p.Command()
	assert.Equal(t, Name, cmd.Name)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, cmd.Run(ctx, []string{"web", "--port", "9191"}))
	assert.Equal(t, 9191, p.options.Port)
	assert.Contains(t, out.String(), "Webserver started - Listening on:")
}

func TestWebProcessServesOverFastHTTP(t *testing.T) {
	ping := controller.NewBase("ping", "")
	ping.Get("/ping", func(*types.Context, ...any) (any, error) {
		return "pong", nil
	})

	var out bytes.Buffer
	p := NewWebProcess(
		&types.ServerConfig{Host: "127.0.0.1", ReadTimeout: 5, WriteTimeout: 5, ShutdownTimeout: 2},
		server.NewFastHTTPAdapter(logger.NewNop()),
		nil,
		[]types.Controller{ping},
		nil,
		logger.NewNop(),
		WithOutput(&out),
	)

	_, err := p.Initialize(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer func() {
		if p.IsRunning() {
			_ = p.Terminate(context.Background())
		}
	}()

	assert.NotZero(t, p.Port())
	assert.Equal(t, fmt.Sprintf("Webserver started - Listening on: %d\n", p.Port()), out.String())

	status, body, err := fasthttp.GetTimeout(nil, fmt.Sprintf("http://127.0.0.1:%d/ping", p.Port()), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Equal(t, "pong", string(body))

	require.NoError(t, p.Terminate(context.Background()))
	assert.False(t, p.IsRunning())
}
