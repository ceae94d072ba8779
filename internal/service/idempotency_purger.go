package service

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/devrev/qrcore/internal/store"
	"go.uber.org/zap"
)

// IdempotencyPurger deletes idempotency records that left the retention window
type IdempotencyPurger struct {
	store     store.IdempotencyStore
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewIdempotencyPurger creates a new purger
func NewIdempotencyPurger(
	idempotencyStore store.IdempotencyStore,
	retention, interval time.Duration,
	clk clock.Clock,
	logger *zap.Logger,
) *IdempotencyPurger {
	if interval <= 0 {
		interval = time.Hour
	}

	return &IdempotencyPurger{
		store:     idempotencyStore,
		retention: retention,
		interval:  interval,
		clock:     clk,
		logger:    logger,
	}
}

// Start launches the purge loop. It stops when ctx is done or Stop is called.
func (p *IdempotencyPurger) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.done = make(chan struct{})

	ticker := p.clock.Ticker(p.interval)
	p.wg.Add(1)
	go p.loop(ctx, ticker)

	p.logger.Info("Idempotency purger started",
		zap.Duration("interval", p.interval),
		zap.Duration("retention", p.retention))
}

// Stop halts the purge loop and waits for it to exit
func (p *IdempotencyPurger) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Idempotency purger stopped")
}

func (p *IdempotencyPurger) loop(ctx context.Context, ticker *clock.Ticker) {
	defer p.wg.Done()
	defer ticker.Stop()

	// Clear any backlog left by a previous process
	p.PurgeOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.PurgeOnce(ctx)
		}
	}
}

// PurgeOnce deletes expired records and returns how many were removed
func (p *IdempotencyPurger) PurgeOnce(ctx context.Context) int64 {
	before := p.clock.Now().Add(-p.retention)

	deleted, err := p.store.PurgeIdempotencyRecords(ctx, before)
	if err != nil {
		p.logger.Error("Failed to purge idempotency records", zap.Error(err))
		return 0
	}

	if deleted > 0 {
		p.logger.Info("Purged expired idempotency records",
			zap.Int64("deleted", deleted),
			zap.Time("before", before))
	}
	return deleted
}
