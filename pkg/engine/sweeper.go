package engine

import (
	"context"
	"time"

	"epichat-be/internal/pkg/logger"
	"epichat-be/pkg/store"
)

// Sweeper expires sessions that have been idle for longer than the configured TTL
type Sweeper struct {
	store    store.Store
	idle     time.Duration
	interval time.Duration
	logger   logger.ILogger
	now      func() time.Time
}

func NewSweeper(s store.Store, idle, interval time.Duration, log logger.ILogger) *Sweeper {
	if idle <= 0 {
		idle = 24 * time.Hour
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Sweeper{
		store:    s,
		idle:     idle,
		interval: interval,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SweepOnce removes every session idle since before now minus the TTL
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.idle)
	n, err := s.store.Sweep(ctx, cutoff)
	if err != nil {
		s.logger.Error(module, "Session sweep failed", map[string]interface{}{
			"cutoff": cutoff,
			"error":  err.Error(),
		})
		return n, err
	}
	if n > 0 {
		s.logger.Info(module, "Idle sessions expired", map[string]interface{}{
			"count":  n,
			"cutoff": cutoff,
		})
	}
	return n, nil
}

// Run sweeps on every tick until ctx is done. Sweep failures are logged and retried on
// the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}
