package settlement

import (
	"context"
	"log/slog"
	"time"
)

type Generator interface {
	GenerateSettlements(ctx context.Context) (RunResult, error)
}

// Scheduler triggers settlement runs on a fixed interval. A tick that finds the
// run lock held is skipped.
type Scheduler struct {
	generator Generator
	lock      RunLock
	interval  time.Duration
	logger    *slog.Logger
}

func NewScheduler(generator Generator, lock RunLock, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if lock == nil {
		lock = &LocalLock{}
	}
	return &Scheduler{generator: generator, lock: lock, interval: interval, logger: logger}
}

// RunOnce performs a single guarded run. ran is false when the lock was held
// elsewhere.
func (s *Scheduler) RunOnce(ctx context.Context) (result RunResult, ran bool, err error) {
	release, ok, err := s.lock.TryLock(ctx)
	if err != nil {
		return RunResult{}, false, err
	}
	if !ok {
		s.logger.Info("settlement run skipped, lock held")
		return RunResult{}, false, nil
	}
	defer release()

	result, err = s.generator.GenerateSettlements(ctx)
	return result, true, err
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Warn("settlement scheduler disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("settlement scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduled settlement run failed", "error", err)
			}
		}
	}
}
