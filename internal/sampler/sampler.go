// Package sampler drives a fixed-interval capture cycle.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Cycle is one sampling pass. tick counts from 1.
type Cycle func(ctx context.Context, tick int64)

// Sampler fires Cycle every interval. Each cycle runs on its own goroutine,
// so a slow cycle never delays the next tick and cycles may overlap.
type Sampler struct {
	interval time.Duration
	cycle    Cycle
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	loopDone  chan struct{}
	inflight  sync.WaitGroup
	ticks     atomic.Int64
	started   atomic.Bool
}

// New creates a stopped sampler. interval must be positive.
func New(interval time.Duration, cycle Cycle, logger *slog.Logger) (*Sampler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sampler interval must be positive, got %s", interval)
	}
	if cycle == nil {
		return nil, fmt.Errorf("sampler cycle is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		interval: interval,
		cycle:    cycle,
		logger:   logger,
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// Start launches the tick loop. The first tick fires one interval after
// Start. Cycles receive a context that outlives ctx cancellation and Stop;
// only the loop itself observes ctx. Calling Start more than once is a no-op.
func (s *Sampler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		cycleCtx := context.WithoutCancel(ctx)
		go s.loop(ctx, cycleCtx)
	})
}

func (s *Sampler) loop(ctx, cycleCtx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick racing with Stop must not launch a cycle.
			select {
			case <-s.stop:
				return
			default:
			}
			tick := s.ticks.Add(1)
			s.inflight.Add(1)
			go s.run(cycleCtx, tick)
		}
	}
}

func (s *Sampler) run(ctx context.Context, tick int64) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sample cycle panicked", "tick", tick, "panic", r)
		}
	}()
	s.cycle(ctx, tick)
}

// Stop prevents any further ticks. In-flight cycles keep running.
// Safe to call multiple times and before Start.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Wait blocks until the loop has exited and every launched cycle has
// returned, or ctx is done.
func (s *Sampler) Wait(ctx context.Context) error {
	if s.started.Load() {
		select {
		case <-s.loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ticks returns how many cycles have been launched.
func (s *Sampler) Ticks() int64 {
	return s.ticks.Load()
}
