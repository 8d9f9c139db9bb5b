package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/cache"
	"github.com/saiset-co/sai-webserver/config"
	"github.com/saiset-co/sai-webserver/events"
	"github.com/saiset-co/sai-webserver/health"
	"github.com/saiset-co/sai-webserver/logger"
	"github.com/saiset-co/sai-webserver/metrics"
	"github.com/saiset-co/sai-webserver/middleware"
	"github.com/saiset-co/sai-webserver/process"
	"github.com/saiset-co/sai-webserver/server"
	"github.com/saiset-co/sai-webserver/types"
)

const defaultConfigPath = "config.yml"

func main() {
	configPath := os.Getenv("SAI_WEBSERVER_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if err := run(context.Background(), configPath, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "webserver: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	configManager, err := config.NewManager(ctx, configPath)
	if err != nil {
		return err
	}
	cfg := configManager.GetConfig()

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}

	go func() {
		err := configManager.Watch(ctx, log, func(updated *types.ServiceConfig) {
			log.SetLevel(updated.Logger.Level)
		})
		if err != nil {
			log.Warn("Config watcher stopped", zap.Error(err))
		}
	}()

	store, err := cache.New(ctx, cfg.Cache, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close cache", zap.Error(err))
		}
	}()

	middlewareManager := middleware.NewManager(ctx, configManager, log, store)
	if err := middlewareManager.RegisterMiddlewares(); err != nil {
		return err
	}

	eventManager := events.NewManager()

	healthManager := health.NewManager(cfg.Name, cfg.Version, log)
	healthManager.RegisterChecker("cache", cacheChecker(store))
	if err := healthManager.Subscribe(eventManager); err != nil {
		return err
	}

	controllers := []types.Controller{newStorageController(), healthManager.Controller()}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		collector := metrics.NewPrometheusCollector(cfg.Metrics, log, metrics.WithGoMetrics())
		if err := collector.Subscribe(eventManager); err != nil {
			return err
		}
		controllers = append(controllers, collector.Controller())
	}

	web := process.NewWebProcess(
		cfg.Server,
		server.NewFastHTTPAdapter(log),
		middlewareManager.Middlewares(),
		controllers,
		eventManager,
		log,
	)

	app := &cli.Command{
		Name:     cfg.Name,
		Usage:    "HTTP server with ordered middleware phases",
		Version:  cfg.Version,
		Commands: []*cli.Command{web.Command()},
	}

	return app.Run(ctx, args)
}

func cacheChecker(store types.CacheStore) health.Checker {
	return func(ctx context.Context) health.Check {
		probe := &types.CacheEntry{Status: 200, Body: []byte("ok")}
		if err := store.Set(ctx, "health:probe", probe, time.Minute); err != nil {
			return health.Check{Status: health.StatusUnhealthy, Message: err.Error()}
		}
		if _, found, err := store.Get(ctx, "health:probe"); err != nil || !found {
			return health.Check{Status: health.StatusUnhealthy, Message: "probe entry missing"}
		}
		return health.Check{Status: health.StatusHealthy}
	}
}
