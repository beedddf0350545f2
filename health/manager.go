package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/peakfeed/cache-service/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager runs registered checkers in parallel on demand. The HTTP layer
// serves its reports; checkers come from the components that own the
// resources (store round-trip, queue depth, broadcast relay).
type Manager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	config       types.ConfigManager
	logger       types.Logger
	checkers     map[string]types.HealthChecker
	results      map[string]types.HealthCheck
	startTime    time.Time
	mu           sync.RWMutex
	state        atomic.Value
	checkTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (*Manager, error) {
	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:          managerCtx,
		cancel:       cancel,
		config:       config,
		logger:       logger,
		checkers:     make(map[string]types.HealthChecker),
		results:      make(map[string]types.HealthCheck),
		checkTimeout: 5 * time.Second,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(checkCtx)
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(gCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-checkCtx.Done():
			hm.logger.Warn("Health check timeout, some checks may not have completed")
		default:
			hm.logger.Error("error during health checks", zap.Error(err))
		}
	}

	hm.mu.Lock()
	hm.results = results
	hm.mu.Unlock()

	return hm.buildReport(results)
}

func (hm *Manager) Start() error {
	if !hm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if hm.getState() == StateStarting {
			hm.setState(StateRunning)
		}
	}()

	hm.startTime = time.Now()

	hm.logger.Info("Health manager started")
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		hm.setState(StateStopped)
		hm.cancel()
	}()

	hm.mu.Lock()
	hm.checkers = make(map[string]types.HealthChecker)
	hm.mu.Unlock()

	hm.logger.Info("Health manager stopped")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.getState() == StateRunning
}

func (hm *Manager) getState() State {
	return hm.state.Load().(State)
}

func (hm *Manager) setState(newState State) bool {
	currentState := hm.getState()
	return hm.state.CompareAndSwap(currentState, newState)
}

func (hm *Manager) transitionState(from, to State) bool {
	return hm.state.CompareAndSwap(from, to)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Name:      name,
					Status:    types.StatusUnhealthy,
					Message:   fmt.Sprintf("Health check panicked: %v", r),
					LastCheck: time.Now(),
					Duration:  time.Since(start),
				}
			}
		}()

		result := checker(checkCtx)
		result.Name = name
		result.LastCheck = time.Now()
		result.Duration = time.Since(start)
		resultChan <- result
	}()

	select {
	case result := <-resultChan:
		return result
	case <-checkCtx.Done():
		return types.HealthCheck{
			Name:      name,
			Status:    types.StatusUnhealthy,
			Message:   "Health check timeout",
			LastCheck: time.Now(),
			Duration:  time.Since(start),
		}
	}
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	config := hm.config.GetConfig()

	summary := types.HealthSummary{
		Total: len(results),
	}

	overallStatus := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusUnhealthy:
			summary.Unhealthy++
			overallStatus = types.StatusUnhealthy
		case types.StatusUnknown:
			summary.Unknown++
			if overallStatus == types.StatusHealthy {
				overallStatus = types.StatusUnknown
			}
		}
	}

	return types.HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime),
		Service: types.ServiceInfo{
			Name:    config.Name,
			Version: config.Version,
			Host:    config.Server.HTTP.Host,
			Port:    config.Server.HTTP.Port,
		},
		Checks:  results,
		Summary: summary,
	}
}

// StoreChecker verifies the key-value store with a set/get/delete probe.
func StoreChecker(store types.KVStore) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		probe := fmt.Sprintf("health:probe:%d", time.Now().UnixNano())

		if err := store.Put(ctx, probe, []byte("ok"), time.Minute); err != nil {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "store put failed: " + err.Error()}
		}

		data, found, err := store.Get(ctx, probe)
		if err != nil || !found || string(data) != "ok" {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "store round-trip failed"}
		}

		if err := store.Delete(ctx, probe); err != nil {
			return types.HealthCheck{Status: types.StatusUnhealthy, Message: "store delete failed: " + err.Error()}
		}

		return types.HealthCheck{Status: types.StatusHealthy, Message: "store round-trip ok"}
	}
}
