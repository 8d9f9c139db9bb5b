package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-webserver/types"
)

// Manager holds the loaded configuration and serves path lookups over it.
type Manager struct {
	ctx           context.Context
	configPath    string
	loader        *Loader
	config        atomic.Pointer[types.ServiceConfig]
	parser        atomic.Pointer[Parser]
	mu            sync.RWMutex
	loadTimeout   time.Duration
	watchDebounce time.Duration
}

// NewManager loads configPath once. Call Load again to re-read the file.
func NewManager(ctx context.Context, configPath string) (*Manager, error) {
	cm := &Manager{
		ctx:         ctx,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager serves an already built config. Missing sections are
// filled from the loader defaults before validation.
func NewStaticManager(config *types.ServiceConfig) (*Manager, error) {
	loader := NewLoader()
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	defaults := loader.Defaults()
	if config.Name == "" {
		config.Name = defaults.Name
	}
	if config.Server == nil {
		config.Server = defaults.Server
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Cache == nil {
		config.Cache = defaults.Cache
	}
	if config.Metrics == nil {
		config.Metrics = defaults.Metrics
	}

	if err := loader.Validate(config); err != nil {
		return nil, err
	}

	cm := &Manager{
		ctx:    context.Background(),
		loader: loader,
	}
	cm.config.Store(config)
	cm.parser.Store(NewParserFromConfig(config))

	return cm, nil
}

func (cm *Manager) Load() error {
	if cm.configPath == "" {
		return types.ErrConfigNotFound
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	var (
		config  *types.ServiceConfig
		rawData map[string]interface{}
	)

	g, gCtx := errgroup.WithContext(loadCtx)
	g.Go(func() error {
		var err error
		config, rawData, err = cm.loader.LoadFromFile(gCtx, cm.configPath)
		return err
	})

	if err := g.Wait(); err != nil {
		if loadCtx.Err() != nil {
			return types.WrapError(loadCtx.Err(), "configuration load timeout")
		}
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Store(config)
	cm.parser.Store(NewParser(rawData))

	return nil
}

func (cm *Manager) GetConfig() *types.ServiceConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return cm.config.Load()
}

func (cm *Manager) GetValue(path string, defaultValue interface{}) interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *Manager) GetAs(path string, target interface{}) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}
