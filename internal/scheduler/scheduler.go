// Package scheduler runs a job periodically and on demand.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs a Job immediately, then every interval and whenever Trigger is
// called. Job failures are logged; they never stop the loop.
type Scheduler struct {
	interval time.Duration
	job      Job
	logger   *zap.Logger

	trigger  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Scheduler.
func New(interval time.Duration, job Job, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("scheduler interval must be > 0")
	}
	if job == nil {
		return nil, errors.New("scheduler job is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval: interval,
		job:      job,
		logger:   logger.Named("scheduler"),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Run blocks until ctx is done or Stop is called. A job in flight receives the
// cancellation and Run waits for it to return.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx, "tick")
		case <-s.trigger:
			s.runOnce(ctx, "manual")
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := s.job(ctx)
	fields := []zap.Field{zap.String("reason", reason), zap.Duration("elapsed", time.Since(start))}
	switch {
	case err == nil:
		s.logger.Debug("job finished", fields...)
	case ctx.Err() != nil:
		s.logger.Info("job interrupted", append(fields, zap.Error(err))...)
	default:
		s.logger.Error("job failed", append(fields, zap.Error(err))...)
	}
}

// Trigger requests an extra run. It reports false when a request is already
// pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stop ends Run and waits for it to return. It is safe to call more than once,
// but only after Run has been started.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
