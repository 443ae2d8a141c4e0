package session

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"

	"secrange/pkg/utils/logger"
)

// Sweeper runs the periodic expiry sweep: one bounded background goroutine
// over the whole registry instead of a timer per session.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper over the manager with its configured interval.
func NewSweeper(manager *Manager) *Sweeper {
	return &Sweeper{
		manager:  manager,
		interval: manager.cfg.SweepInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	threading.GoSafe(func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		logger.Info(ctx, "expiry sweep started", zap.Duration("interval", s.interval))
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	})
}

// RunOnce performs a single sweep pass. Tests call it directly with a
// controlled manager clock instead of waiting on the ticker.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	cleaned := s.manager.CleanupExpired(ctx, s.manager.now())
	if cleaned > 0 {
		logger.Info(ctx, "sweep removed expired sessions", zap.Int("count", cleaned))
	}
	return cleaned
}

// Close stops the sweep loop and waits for it to exit.
func (s *Sweeper) Close() {
	close(s.stop)
	<-s.done
}
