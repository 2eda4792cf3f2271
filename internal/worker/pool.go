// Package worker runs the background side of delivery: a pool of goroutines
// that drain the queue through the orchestrator, plus a janitor that sweeps
// expired queue items and aged log entries.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/mailroom/internal/delivery"
	"github.com/ignite/mailroom/internal/eventlog"
	"github.com/ignite/mailroom/internal/pkg/distlock"
	"github.com/ignite/mailroom/internal/pkg/logger"
	"github.com/ignite/mailroom/internal/queue"
)

// PoolConfig sizes the worker pool and its sweeps.
type PoolConfig struct {
	Workers        int
	BatchSize      int
	PollInterval   time.Duration
	SweepInterval  time.Duration
	QueueRetention time.Duration
	LogRetention   time.Duration
	// SweepLock, when set, restricts sweeps to one instance at a time.
	SweepLock distlock.Lock
}

// DefaultPoolConfig returns sensible defaults for a single-node deployment.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:        4,
		BatchSize:      25,
		PollInterval:   5 * time.Second,
		SweepInterval:  10 * time.Minute,
		QueueRetention: 7 * 24 * time.Hour,
		LogRetention:   30 * 24 * time.Hour,
	}
}

// Pool drains the queue continuously. Each worker claims its own batches
// through the orchestrator; the store's claim semantics keep workers from
// double-sending without any coordination here.
type Pool struct {
	orch    *delivery.Orchestrator
	store   *queue.Store
	log     *eventlog.Log
	limiter *RateLimiter
	cfg     PoolConfig

	totalSent   atomic.Int64
	totalFailed atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool. limiter may be nil to run unthrottled.
func NewPool(orch *delivery.Orchestrator, store *queue.Store, log *eventlog.Log, limiter *RateLimiter, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Pool{
		orch:    orch,
		store:   store,
		log:     log,
		limiter: limiter,
		cfg:     cfg,
	}
}

// Start launches the workers and the janitor. Starting a running pool is a
// no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, fmt.Sprintf("worker-%d", i+1))
	}
	if p.cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go p.runJanitor(ctx)
	}
	logger.Info("worker pool started", "workers", p.cfg.Workers, "batch_size", p.cfg.BatchSize)
}

// Stop signals every goroutine and waits for in-flight batches to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	logger.Info("worker pool stopped", "sent", p.totalSent.Load(), "failed", p.totalFailed.Load())
}

// Running reports whether the pool has been started and not yet stopped.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx, workerID)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain processes batches until the queue has nothing eligible or the
// context ends.
func (p *Pool) drain(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !p.acquireBudget(ctx) {
			return
		}

		res := p.orch.ProcessBatch(ctx, workerID, p.cfg.BatchSize)
		p.totalSent.Add(int64(res.Sent))
		p.totalFailed.Add(int64(res.Failed))
		for _, errText := range res.Errors {
			logger.Debug("batch item failed", "worker", workerID, "error", errText)
		}

		if res.Sent+res.Failed == 0 {
			return
		}
	}
}

// acquireBudget blocks until the rate limiter admits one batch, the daily
// ceiling is hit, or the context ends. Reports whether processing may go
// ahead.
func (p *Pool) acquireBudget(ctx context.Context) bool {
	if p.limiter == nil {
		return true
	}

	for {
		allowed, wait, err := p.limiter.Acquire(ctx, p.orch.TransportName(), p.cfg.BatchSize)
		if err != nil {
			logger.Warn("rate limit check failed, backing off", "error", err.Error())
			return false
		}
		if allowed {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (p *Pool) runJanitor(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep removes expired queue items and aged log entries. With a sweep
// lock configured, only the instance holding the lock does the work.
func (p *Pool) sweep(ctx context.Context) {
	if p.cfg.SweepLock != nil {
		ok, err := p.cfg.SweepLock.Acquire(ctx)
		if err != nil {
			logger.Warn("sweep lock unavailable", "error", err.Error())
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := p.cfg.SweepLock.Release(ctx); err != nil {
				logger.Warn("sweep lock release failed", "error", err.Error())
			}
		}()
	}

	removed := p.store.Cleanup(p.cfg.QueueRetention)
	purged := p.log.Purge(p.cfg.LogRetention)
	if removed+purged > 0 {
		logger.Info("janitor sweep", "queue_removed", removed, "log_purged", purged)
	}
}

// PoolStats is a snapshot of lifetime pool counters.
type PoolStats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Running bool  `json:"running"`
}

// Stats returns the pool's lifetime counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Sent:    p.totalSent.Load(),
		Failed:  p.totalFailed.Load(),
		Running: p.Running(),
	}
}
