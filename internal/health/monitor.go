// Package health watches running challenge containers and recovers from
// failures: a few bad probes trigger a restart, and containers that keep
// failing after recovery attempts are torn down.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"

	"secrange/internal/orchestrator"
	"secrange/internal/runtime"
	appErr "secrange/pkg/errors"
	"secrange/pkg/utils/logger"
)

// Config controls probe cadence and recovery behavior.
type Config struct {
	Interval         time.Duration // probe cadence
	FailureThreshold int           // consecutive failures before a restart
	MaxRecoveries    int           // restarts before giving up and tearing down
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		FailureThreshold: 3,
		MaxRecoveries:    2,
	}
}

// InstanceStopper tears down an instance that cannot be recovered.
type InstanceStopper interface {
	Stop(ctx context.Context, instanceID string) error
}

// Monitor probes tracked instances against the runtime.
type Monitor struct {
	runtime  runtime.Runtime
	registry *orchestrator.Registry
	stopper  InstanceStopper
	cfg      Config

	mu         sync.Mutex
	failures   map[string]int
	recoveries map[string]int

	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates a monitor over the instance registry.
func NewMonitor(rt runtime.Runtime, registry *orchestrator.Registry, stopper InstanceStopper, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.MaxRecoveries < 0 {
		cfg.MaxRecoveries = 0
	}
	return &Monitor{
		runtime:    rt,
		registry:   registry,
		stopper:    stopper,
		cfg:        cfg,
		failures:   make(map[string]int),
		recoveries: make(map[string]int),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the probe loop.
func (m *Monitor) Start(ctx context.Context) {
	threading.GoSafe(func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		logger.Info(ctx, "health monitor started", zap.Duration("interval", m.cfg.Interval))
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckOnce(ctx)
			}
		}
	})
}

// CheckOnce probes every running instance a single time. Exposed so tests
// drive the monitor without the ticker.
func (m *Monitor) CheckOnce(ctx context.Context) {
	for _, inst := range m.registry.List() {
		if inst.Status != orchestrator.StatusRunning {
			continue
		}
		m.probe(ctx, inst)
	}
	m.dropStale()
}

func (m *Monitor) probe(ctx context.Context, inst orchestrator.RunningInstance) {
	status, err := m.runtime.Inspect(ctx, inst.ContainerID)
	if err != nil {
		if appErr.Is(err, appErr.InstanceNotFound) {
			// The reconcile pass owns vanished containers.
			return
		}
		logger.Warn(ctx, "health probe failed",
			zap.String("instance_id", inst.InstanceID), zap.Error(err))
		return
	}

	healthy := status.Running && status.Health != "unhealthy"
	m.mu.Lock()
	if healthy {
		delete(m.failures, inst.InstanceID)
		m.mu.Unlock()
		return
	}
	m.failures[inst.InstanceID]++
	failures := m.failures[inst.InstanceID]
	recoveries := m.recoveries[inst.InstanceID]
	m.mu.Unlock()

	if failures < m.cfg.FailureThreshold {
		logger.Warn(ctx, "instance unhealthy",
			zap.String("instance_id", inst.InstanceID),
			zap.Int("failures", failures))
		return
	}

	if recoveries < m.cfg.MaxRecoveries {
		m.recover(ctx, inst)
		return
	}
	m.giveUp(ctx, inst)
}

func (m *Monitor) recover(ctx context.Context, inst orchestrator.RunningInstance) {
	logger.Warn(ctx, "restarting unhealthy instance",
		zap.String("instance_id", inst.InstanceID),
		zap.String("container_id", inst.ContainerID))
	if err := m.runtime.Restart(ctx, inst.ContainerID); err != nil {
		logger.Error(ctx, "instance restart failed",
			zap.String("instance_id", inst.InstanceID), zap.Error(err))
		return
	}
	m.mu.Lock()
	delete(m.failures, inst.InstanceID)
	m.recoveries[inst.InstanceID]++
	m.mu.Unlock()
}

func (m *Monitor) giveUp(ctx context.Context, inst orchestrator.RunningInstance) {
	logger.Error(ctx, "instance failed permanently, tearing down",
		zap.String("instance_id", inst.InstanceID),
		zap.Int("recoveries", m.cfg.MaxRecoveries))
	if err := m.stopper.Stop(ctx, inst.InstanceID); err != nil {
		logger.Error(ctx, "teardown of failed instance did not complete",
			zap.String("instance_id", inst.InstanceID), zap.Error(err))
		return
	}
	m.mu.Lock()
	delete(m.failures, inst.InstanceID)
	delete(m.recoveries, inst.InstanceID)
	m.mu.Unlock()
}

// dropStale forgets counters for instances no longer tracked.
func (m *Monitor) dropStale() {
	known := make(map[string]struct{})
	for _, inst := range m.registry.List() {
		known[inst.InstanceID] = struct{}{}
	}
	m.mu.Lock()
	for id := range m.failures {
		if _, ok := known[id]; !ok {
			delete(m.failures, id)
		}
	}
	for id := range m.recoveries {
		if _, ok := known[id]; !ok {
			delete(m.recoveries, id)
		}
	}
	m.mu.Unlock()
}

// Close stops the probe loop and waits for it to exit.
func (m *Monitor) Close() {
	close(m.stop)
	<-m.done
}
