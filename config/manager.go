package config

import (
	"context"
	"sync/atomic"

	"github.com/peakfeed/cache-service/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type ConfigurationManager struct {
	ctx        context.Context
	cancel     context.CancelFunc
	config     atomic.Pointer[types.ServiceConfig]
	parser     atomic.Pointer[Parser]
	configPath string
	loader     *Loader
	state      atomic.Value
}

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	cm := &ConfigurationManager{
		ctx:        managerCtx,
		cancel:     cancel,
		configPath: configPath,
		loader:     NewLoader(),
	}
	cm.state.Store(StateStopped)

	if err := cm.Load(); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

func (cm *ConfigurationManager) Start() error {
	if !cm.state.CompareAndSwap(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}
	cm.state.Store(StateRunning)
	return nil
}

func (cm *ConfigurationManager) Stop() error {
	if !cm.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		cm.state.Store(StateStopped)
		cm.cancel()
	}()

	return nil
}

func (cm *ConfigurationManager) IsRunning() bool {
	return cm.state.Load().(State) == StateRunning
}

func (cm *ConfigurationManager) Load() error {
	config, err := cm.loader.LoadFromFile(cm.configPath)
	if err != nil {
		return err
	}

	cm.config.Store(config)
	cm.parser.Store(NewParser(config))

	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigNotFound
	}
	return parser.GetAs(path, target)
}
