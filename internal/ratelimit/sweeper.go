package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Sweepable is limiter state that can be reset periodically
type Sweepable interface {
	Sweep()
}

// Sweeper resets limiter state on a fixed interval
type Sweeper struct {
	targets  []Sweepable
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper but does not start it
func NewSweeper(interval time.Duration, clk clock.Clock, logger *zap.Logger, targets ...Sweepable) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		targets:  targets,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

// Start launches the sweep loop. It exits when ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})

	ticker := s.clock.Ticker(s.interval)
	s.wg.Add(1)
	go s.loop(ctx, ticker)

	s.logger.Info("Rate limit sweeper started", zap.Duration("interval", s.interval))
}

// Stop halts the loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context, ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			for _, t := range s.targets {
				t.Sweep()
			}
		}
	}
}
