package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-webserver/events"
	"github.com/saiset-co/sai-webserver/middleware"
	"github.com/saiset-co/sai-webserver/types"
)

const (
	Name                   = "web"
	defaultShutdownTimeout = 10 * time.Second
)

type Option func(*WebProcess)

// WithOutput sets where the startup line is printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(p *WebProcess) {
		p.output = w
	}
}

// WithSignals replaces the signals AwaitShutdown waits for.
func WithSignals(signals ...os.Signal) Option {
	return func(p *WebProcess) {
		p.signals = signals
	}
}

// WebProcess runs one adapter through initialize, start, await and terminate.
type WebProcess struct {
	config      *types.ServerConfig
	adapter     types.Adapter
	middlewares []types.Middleware
	controllers []types.Controller
	events      types.EventEmitter
	logger      types.Logger
	output      io.Writer
	signals     []os.Signal
	options     types.ServerOptions
	state       atomic.Value
	initialized atomic.Bool
	mu          sync.Mutex
}

func NewWebProcess(
	config *types.ServerConfig,
	adapter types.Adapter,
	middlewares []types.Middleware,
	controllers []types.Controller,
	eventEmitter types.EventEmitter,
	logger types.Logger,
	opts ...Option,
) *WebProcess {
	if config == nil {
		config = &types.ServerConfig{}
	}
	if eventEmitter == nil {
		eventEmitter = events.NewManager()
	}

	p := &WebProcess{
		config:      config,
		adapter:     adapter,
		middlewares: middlewares,
		controllers: controllers,
		events:      eventEmitter,
		logger:      logger,
		output:      os.Stdout,
		signals:     []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}

	for _, opt := range opts {
		opt(p)
	}

	p.state.Store(types.StateStopped)

	return p
}

func (p *WebProcess) Name() string {
	return Name
}

// Initialize resolves the server options for port, orders the middlewares and
// prepares the adapter. Nothing is listening afterwards.
func (p *WebProcess) Initialize(ctx context.Context, port int) (types.ServerOptions, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.getState() != types.StateStopped {
		return types.ServerOptions{}, types.ErrProcessIsRunning
	}

	if p.adapter == nil {
		return types.ServerOptions{}, types.Errorf(types.ErrServerNotInitialized, "adapter is nil")
	}

	options := *p.config
	options.Port = port

	if err := validateOptions(options); err != nil {
		return types.ServerOptions{}, err
	}

	for _, mw := range p.middlewares {
		if err := types.ValidateMiddleware(mw); err != nil {
			return types.ServerOptions{}, err
		}
	}

	ordered, err := middleware.Sort(p.middlewares)
	if err != nil {
		return types.ServerOptions{}, types.WrapError(err, "failed to order middlewares")
	}

	err = p.adapter.Initialize(types.InitializeParameters{
		Options:     options,
		Middlewares: ordered,
		Controllers: p.controllers,
		Events:      p.events,
		Logger:      p.logger,
	})
	if err != nil {
		return types.ServerOptions{}, types.WrapError(err, "failed to initialize adapter "+p.adapter.Name())
	}

	p.options = options
	p.initialized.Store(true)

	err = p.events.Emit(ctx, &types.ServerInitializedEvent{
		Options: options,
		Adapter: p.adapter.Name(),
		Server:  p.adapter.NativeServer(),
	})
	if err != nil {
		return options, types.WrapError(err, "server-initialized listener failed")
	}

	p.logger.Debug("Web process initialized",
		zap.String("adapter", p.adapter.Name()),
		zap.Int("port", port),
		zap.Int("middlewares", len(ordered)),
		zap.Int("controllers", len(p.controllers)))

	return options, nil
}

// Start begins listening and prints the startup line once the port is bound.
func (p *WebProcess) Start(ctx context.Context) error {
	if !p.initialized.Load() {
		return types.ErrServerNotInitialized
	}

	if !p.transitionState(types.StateStopped, types.StateStarting) {
		return types.ErrProcessIsRunning
	}

	if err := p.adapter.Start(ctx, p.options); err != nil {
		p.setState(types.StateStopped)
		return err
	}

	p.setState(types.StateRunning)

	if err := p.events.Emit(ctx, &types.ServerStartedEvent{Options: p.options, Adapter: p.adapter.Name()}); err != nil {
		p.logger.Error("Server-started listener failed", zap.Error(err))
	}

	fmt.Fprintf(p.output, "Webserver started - Listening on: %d\n", p.Port())

	return nil
}

// AwaitShutdown blocks until a shutdown signal arrives or ctx is done.
func (p *WebProcess) AwaitShutdown(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, p.signals...)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		p.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		p.logger.Info("Web process context done")
	}

	return nil
}

// Terminate stops the adapter and flushes the logger concurrently.
func (p *WebProcess) Terminate(ctx context.Context) error {
	if !p.transitionState(types.StateRunning, types.StateStopping) {
		return types.ErrProcessIsNotRunning
	}
	defer p.setState(types.StateStopped)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := time.Duration(p.options.ShutdownTimeout) * time.Second
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.adapter.Stop(gCtx); err != nil {
			p.logger.Error("Failed to stop adapter", zap.String("adapter", p.adapter.Name()), zap.Error(err))
			return err
		}
		return nil
	})

	g.Go(func() error {
		return p.logger.Sync()
	})

	stopErr := g.Wait()

	if err := p.events.Emit(context.WithoutCancel(ctx), &types.ServerStoppedEvent{Adapter: p.adapter.Name()}); err != nil {
		p.logger.Error("Server-stopped listener failed", zap.Error(err))
	}

	return stopErr
}

// Execute runs the full lifecycle on port and returns once terminated.
func (p *WebProcess) Execute(ctx context.Context, port int) error {
	if _, err := p.Initialize(ctx, port); err != nil {
		return err
	}

	if err := p.Start(ctx); err != nil {
		return err
	}

	if err := p.AwaitShutdown(ctx); err != nil {
		return err
	}

	return p.Terminate(context.WithoutCancel(ctx))
}

// Command exposes the process as the "web" CLI command.
func (p *WebProcess) Command() *cli.Command {
	return &cli.Command{
		Name:  Name,
		Usage: "Start the web server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   int64(p.config.Port),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return p.Execute(ctx, int(cmd.Int("port")))
		},
	}
}

// Port reports the bound port, which differs from the configured one for port 0.
func (p *WebProcess) Port() int {
	if addr, ok := p.adapter.Addr().(*net.TCPAddr); ok && addr != nil {
		return addr.Port
	}
	return p.options.Port
}

func (p *WebProcess) IsRunning() bool {
	return p.getState() == types.StateRunning
}

func (p *WebProcess) getState() types.State {
	return p.state.Load().(types.State)
}

func (p *WebProcess) setState(newState types.State) {
	p.state.Store(newState)
}

func (p *WebProcess) transitionState(from, to types.State) bool {
	return p.state.CompareAndSwap(from, to)
}

func validateOptions(options types.ServerOptions) error {
	if options.Port < 0 || options.Port > 65535 {
		return types.Errorf(types.ErrConfigInvalidPort, "port %d out of range", options.Port)
	}

	if options.IsSecured && !options.AutoCert && (options.Certificate == "" || options.PrivateKey == "") {
		return types.Errorf(types.ErrConfigInvalidTLS, "secured server needs certificate and private key")
	}

	if options.AutoCert && len(options.Domains) == 0 {
		return types.Errorf(types.ErrConfigInvalidTLS, "auto certificates need at least one domain")
	}

	timeouts := []struct {
		name  string
		value int
	}{
		{"read_timeout", options.ReadTimeout},
		{"write_timeout", options.WriteTimeout},
		{"idle_timeout", options.IdleTimeout},
		{"shutdown_timeout", options.ShutdownTimeout},
	}

	var errs []error
	for _, timeout := range timeouts {
		if timeout.value < 0 {
			errs = append(errs, types.Errorf(types.ErrConfigValidateFailed, "%s must not be negative", timeout.name))
		}
	}

	return errors.Join(errs...)
}
