// Package health serves /health and /version for a running web process.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-webserver/controller"
	"github.com/saiset-co/sai-webserver/types"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

const defaultCheckTimeout = 5 * time.Second

type Check struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Checker func(ctx context.Context) Check

type Report struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Manager runs registered checkers on demand. It reports unhealthy until the
// server-started event has been seen.
type Manager struct {
	name         string
	version      string
	logger       types.Logger
	checkers     map[string]Checker
	startTime    time.Time
	running      atomic.Bool
	mu           sync.RWMutex
	checkTimeout time.Duration
}

func NewManager(name, version string, logger types.Logger) *Manager {
	return &Manager{
		name:         name,
		version:      version,
		logger:       logger,
		checkers:     make(map[string]Checker),
		checkTimeout: defaultCheckTimeout,
	}
}

func (hm *Manager) RegisterChecker(name string, checker Checker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

// Subscribe tracks whether the server is listening.
func (hm *Manager) Subscribe(events types.EventEmitter) error {
	err := events.On(types.EventServerStarted, func(context.Context, types.Event) error {
		hm.mu.Lock()
		hm.startTime = time.Now()
		hm.mu.Unlock()
		hm.running.Store(true)
		return nil
	})
	if err != nil {
		return err
	}

	return events.On(types.EventServerStopped, func(context.Context, types.Event) error {
		hm.running.Store(false)
		return nil
	})
}

func (hm *Manager) IsRunning() bool {
	return hm.running.Load()
}

func (hm *Manager) Check(ctx context.Context) Report {
	hm.mu.RLock()
	checkers := make(map[string]Checker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	startTime := hm.startTime
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var (
		g        errgroup.Group
		resultMu sync.Mutex
		results  = make(map[string]Check, len(checkers))
	)

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	status := StatusHealthy
	if !hm.IsRunning() {
		status = StatusUnhealthy
	}
	for _, result := range results {
		if result.Status != StatusHealthy {
			status = StatusUnhealthy
		}
	}

	var uptime time.Duration
	if !startTime.IsZero() {
		uptime = time.Since(startTime)
	}

	return Report{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    uptime.Truncate(time.Second).String(),
		Service:   hm.name,
		Version:   hm.version,
		Checks:    results,
	}
}

// Controller exposes GET /health and GET /version.
func (hm *Manager) Controller() types.Controller {
	base := controller.NewBase("health", "")

	base.Get("/health", func(c *types.Context, _ ...any) (any, error) {
		report := hm.Check(context.Background())
		if report.Status != StatusHealthy {
			c.SetStatus(http.StatusServiceUnavailable)
		}
		c.SetHeader("Cache-Control", "no-cache, no-store, must-revalidate")
		return report, nil
	}).WithName("health")

	base.Get("/version", func(_ *types.Context, _ ...any) (any, error) {
		return ReadBuildInfo(hm.version), nil
	}).WithName("version")

	return base
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker Checker) Check {
	start := time.Now()
	resultChan := make(chan Check, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- Check{Status: StatusUnhealthy, Message: fmt.Sprintf("health check panicked: %v", r)}
			}
		}()

		resultChan <- checker(ctx)
	}()

	var result Check
	select {
	case result = <-resultChan:
	case <-ctx.Done():
		result = Check{Status: StatusUnhealthy, Message: "health check timeout"}
		hm.logger.Warn("Health check timed out", zap.String("check", name))
	}

	result.Name = name
	result.Duration = time.Since(start)
	return result
}
