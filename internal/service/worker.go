package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker runs one scheduling pass.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) TickResult
}

// Scheduler drives a Ticker on a fixed interval. The first tick runs as
// soon as Start is called so a restarted process catches up immediately.
type Scheduler struct {
	Engine   Ticker
	Interval time.Duration
	Clock    func() time.Time
	Log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(engine Ticker, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{Engine: engine, Interval: interval, Clock: time.Now, Log: log}
}

var ErrSchedulerRunning = errors.New("scheduler already running")

// Start launches the tick loop. It runs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrSchedulerRunning
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Log == nil {
		s.Log = zap.NewNop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)

	s.Log.Info("⏱️ scheduler started", zap.Duration("interval", s.Interval))
	return nil
}

// Stop cancels the loop and waits for the in-flight tick, or until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.Log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("❌ tick panicked", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	res := s.Engine.Tick(ctx, s.Clock())
	if res.Due == 0 && res.Errors == 0 {
		s.Log.Debug("tick finished, nothing due")
		return
	}
	s.Log.Info("tick finished",
		zap.Int("due", res.Due),
		zap.Int("advanced", res.Advanced),
		zap.Int("completed", res.Completed),
		zap.Int("retried", res.Retried),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
		zap.Duration("took", time.Since(start)),
	)
}
