package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/broadcast"
	"github.com/peakfeed/cache-service/cache"
	"github.com/peakfeed/cache-service/config"
	"github.com/peakfeed/cache-service/cron"
	"github.com/peakfeed/cache-service/health"
	"github.com/peakfeed/cache-service/invalidation"
	"github.com/peakfeed/cache-service/kv"
	"github.com/peakfeed/cache-service/logger"
	"github.com/peakfeed/cache-service/metrics"
	"github.com/peakfeed/cache-service/monitor"
	"github.com/peakfeed/cache-service/rules"
	"github.com/peakfeed/cache-service/server"
	"github.com/peakfeed/cache-service/tls"
	"github.com/peakfeed/cache-service/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// WarmFetcher produces the value for a configured warm key on startup.
type WarmFetcher func(ctx context.Context, key string) (interface{}, error)

// Service wires every component of the cache invalidation engine and owns
// their startup and shutdown ordering.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration

	config      types.ConfigManager
	logger      types.Logger
	metrics     types.MetricsManager
	health      types.HealthManager
	tlsManager  types.TLSManager
	store       types.KVStore
	index       types.MetadataIndex
	cache       types.CacheAdapter
	rules       types.RuleEngine
	recorder    types.InvalidationRecorder
	executor    types.Executor
	broadcaster types.Broadcaster
	queue       types.InvalidationQueue
	events      types.EventRouter
	monitor     types.PerformanceMonitor
	cron        types.CronManager
	httpServer  *server.FastHTTPServer

	warmFetcher WarmFetcher
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	service := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
	}

	service.state.Store(StateStopped)

	if err := service.registerComponents(configPath); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register components")
	}

	return service, nil
}

func (s *Service) registerComponents(configPath string) error {
	configManager, err := config.NewConfigurationManager(s.ctx, configPath)
	if err != nil {
		return types.WrapError(err, "failed to register config manager")
	}
	s.config = configManager

	cfg := configManager.GetConfig()

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}
	s.logger = log

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsManager, err := metrics.NewManager(s.ctx, configManager, log)
		if err != nil {
			return types.WrapError(err, "failed to register metrics manager")
		}
		s.metrics = metricsManager
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		healthManager, err := health.NewManager(s.ctx, configManager, log)
		if err != nil {
			return types.WrapError(err, "failed to register health manager")
		}
		s.health = healthManager
	}

	if cfg.Server != nil && cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		tlsManager, err := tls.NewCertManager(s.ctx, log, configManager)
		if err != nil {
			return types.WrapError(err, "failed to register TLS manager")
		}
		s.tlsManager = tlsManager
	}

	store, err := kv.NewStore(s.ctx, log, cfg.Store, s.metrics)
	if err != nil {
		return types.WrapError(err, "failed to register store")
	}
	s.store = store

	namespace := cfg.Store.Namespace

	index := cache.NewIndex(store, log, cfg.Cache)
	s.index = index
	s.cache = cache.NewAdapter(store, index, log, cfg.Cache)

	s.rules = rules.NewEngine(store, log, namespace)
	s.recorder = invalidation.NewRecorder(store, log, namespace)
	s.executor = invalidation.NewPatternExecutor(s.cache, s.recorder, log, s.metrics, cfg.Invalidation)

	if cfg.Broadcast != nil && cfg.Broadcast.Enabled {
		gateway, err := broadcast.NewGateway(s.ctx, log, cfg.Broadcast, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to register broadcast gateway")
		}
		s.broadcaster = gateway
	}

	var queueConfig *types.QueueConfig
	if cfg.Invalidation != nil {
		queueConfig = cfg.Invalidation.Queue
	}
	s.queue = invalidation.NewQueue(store, s.executor, s.broadcaster, log, namespace, queueConfig)
	s.events = invalidation.NewRouter(s.rules, s.executor, s.queue, s.broadcaster, log)

	if cfg.Monitor != nil && cfg.Monitor.Enabled {
		s.monitor = monitor.NewMonitor(s.ctx, store, log, cfg.Monitor, namespace)
	}

	if cfg.Cron != nil && cfg.Cron.Enabled {
		cronManager, err := cron.NewManager(s.ctx, configManager, log, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to register cron manager")
		}
		s.cron = cronManager
	}

	if s.health != nil {
		s.health.RegisterChecker("store", health.StoreChecker(store))
	}

	httpServer, err := server.NewHTTPServer(s.ctx, configManager, log, s.metrics, s.tlsManager, &server.Deps{
		Cache:       s.cache,
		Index:       s.index,
		Rules:       s.rules,
		Executor:    s.executor,
		Queue:       s.queue,
		EventRouter: s.events,
		Recorder:    s.recorder,
		Monitor:     s.monitor,
		Health:      s.health,
	})
	if err != nil {
		return types.WrapError(err, "failed to register HTTP server")
	}
	s.httpServer = httpServer

	return nil
}

// RegisterWarmFetcher installs the provider used to populate configured warm
// keys on startup. Must be called before Start.
func (s *Service) RegisterWarmFetcher(fetcher WarmFetcher) {
	s.warmFetcher = fetcher
}

func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	if err := s.startComponents(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	s.logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServerNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) startComponents() error {
	if s.metrics != nil {
		if err := s.metrics.Start(); err != nil {
			s.logger.Error("failed to start metrics manager", zap.Error(err))
		}
	}

	if s.health != nil {
		if err := s.health.Start(); err != nil {
			s.logger.Error("failed to start health manager", zap.Error(err))
		}
	}

	if s.tlsManager != nil {
		if err := s.tlsManager.Start(); err != nil {
			return types.WrapError(err, "failed to start TLS manager")
		}
	}

	if err := s.store.Start(); err != nil {
		return types.WrapError(err, "failed to start store")
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.Start(); err != nil {
			s.logger.Error("failed to start broadcast gateway", zap.Error(err))
		}
	}

	if s.monitor != nil {
		if err := s.monitor.Start(); err != nil {
			s.logger.Error("failed to start performance monitor", zap.Error(err))
		}
	}

	if s.cron != nil {
		if err := s.registerCronJobs(); err != nil {
			return types.WrapError(err, "failed to register cron jobs")
		}
		if err := s.cron.Start(); err != nil {
			s.logger.Error("failed to start cron manager", zap.Error(err))
		}
	}

	s.warmCache()

	if err := s.httpServer.Start(); err != nil {
		return types.WrapError(err, "failed to start HTTP server")
	}

	s.logger.Info("All components started successfully")
	return nil
}

// registerCronJobs binds the recurring maintenance work: queue ticks, failed
// item retries and metadata cleanup.
func (s *Service) registerCronJobs() error {
	cfg := s.config.GetConfig()
	cronConfig := cfg.Cron

	if cronConfig.QueueSpec != "" {
		err := s.cron.Add("queue-process", cronConfig.QueueSpec, func() {
			if _, err := s.queue.ProcessQueue(s.ctx); err != nil {
				s.logger.Error("scheduled queue processing failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	if cronConfig.RetrySpec != "" {
		err := s.cron.Add("queue-retry", cronConfig.RetrySpec, func() {
			retried, err := s.queue.RetryFailedItems(s.ctx, 24*time.Hour)
			if err != nil {
				s.logger.Error("scheduled retry failed", zap.Error(err))
				return
			}
			if retried > 0 {
				s.logger.Info("Requeued failed invalidations", zap.Int("count", retried))
			}
		})
		if err != nil {
			return err
		}
	}

	if cronConfig.CleanupSpec != "" {
		olderThan := 24 * time.Hour
		if cfg.Cache != nil && cfg.Cache.DefaultTTL > 0 {
			olderThan = cfg.Cache.DefaultTTL + cfg.Cache.MetadataGrace
		}
		err := s.cron.Add("metadata-cleanup", cronConfig.CleanupSpec, func() {
			removed, err := s.index.Cleanup(s.ctx, olderThan)
			if err != nil {
				s.logger.Error("scheduled metadata cleanup failed", zap.Error(err))
				return
			}
			if removed > 0 {
				s.logger.Info("Cleaned up stale metadata", zap.Int("removed", removed))
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) warmCache() {
	cfg := s.config.GetConfig()
	if cfg.Cache == nil || len(cfg.Cache.WarmKeys) == 0 {
		return
	}
	if s.warmFetcher == nil {
		s.logger.Debug("Warm keys configured but no warm fetcher registered")
		return
	}

	warmed := 0
	for _, key := range cfg.Cache.WarmKeys {
		fetcher := s.warmFetcher
		k := key
		_, err := s.cache.GetOrSet(s.ctx, k, func(ctx context.Context) (interface{}, error) {
			return fetcher(ctx, k)
		}, cfg.Cache.DefaultTTL)
		if err != nil {
			s.logger.Warn("cache warm failed", zap.String("key", k), zap.Error(err))
			continue
		}
		warmed++
	}

	s.logger.Info("Cache warmed", zap.Int("keys", warmed))
}

func (s *Service) stopComponents() error {
	var errs []error

	s.logger.Info("Stopping service components...")

	if err := s.httpServer.Stop(); err != nil {
		s.logger.Error("failed to stop HTTP server", zap.Error(err))
		errs = append(errs, err)
	}

	if s.cron != nil {
		if err := s.cron.Stop(); err != nil {
			s.logger.Error("failed to stop cron manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if s.monitor != nil {
		if err := s.monitor.Stop(); err != nil {
			s.logger.Error("failed to stop performance monitor", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.Stop(); err != nil {
			s.logger.Error("failed to stop broadcast gateway", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if err := s.store.Stop(); err != nil {
		s.logger.Error("failed to stop store", zap.Error(err))
		errs = append(errs, err)
	}

	if s.tlsManager != nil {
		if err := s.tlsManager.Stop(); err != nil {
			s.logger.Error("failed to stop TLS manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if s.health != nil {
		if err := s.health.Stop(); err != nil {
			s.logger.Error("failed to stop health manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if s.metrics != nil {
		if err := s.metrics.Stop(); err != nil {
			s.logger.Error("failed to stop metrics manager", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("%d components failed to stop cleanly", len(errs))
	}
	return nil
}

func (s *Service) setupSignalHandling() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case sig := <-sigCh:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			s.cancel()
		case <-s.ctx.Done():
		}
		signal.Stop(sigCh)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	<-s.ctx.Done()
	close(s.done)
}
